package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/sharedrop/internal/flagx"
)

var serverFlags = []string{
	"-a", "-m", "-d", "-s", "-t", "-l",
	"-u", "-p", "-b", "-g", "-e",
	"-le", "-lu", "-lp", "-lb", "-ls",
	"-r", "-k", "-kt", "-w",
}

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-m string   gRPC health bind address (e.g., ":50051")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-t int      download grant validity, minutes
//	-l string   log level
//	-u/-p/-b/-g/-e  S3 user, password, bucket, region, base endpoint
//	-le/-lu/-lp/-lb legacy store endpoint, access key, secret key, bucket
//	-ls bool    legacy store uses TLS (pass as -ls=true)
//	-r string   Redis address for the session registry
//	-k string   comma separated Kafka brokers
//	-kt string  notification topic
//	-w string   public base URL used in share links
//
// Notes:
//   - os.Args is filtered with flagx.FilterArgs first so the -c/-config flag
//     and foreign flags do not break parsing.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], serverFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run HTTP API")
	fs.StringVar(&config.HealthAddrGRPC, "m", config.HealthAddrGRPC, "address and port of gRPC health endpoint")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	grantValidity := fs.Int("t", int(config.DownloadGrantValidity.Minutes()), "download grant validity (in minutes)")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	fs.StringVar(&config.LegacyEndpoint, "le", config.LegacyEndpoint, "legacy store endpoint (host:port)")
	fs.StringVar(&config.LegacyAccessKey, "lu", config.LegacyAccessKey, "legacy store access key")
	fs.StringVar(&config.LegacySecretKey, "lp", config.LegacySecretKey, "legacy store secret key")
	fs.StringVar(&config.LegacyBucket, "lb", config.LegacyBucket, "legacy store bucket")
	fs.BoolVar(&config.LegacyUseSSL, "ls", config.LegacyUseSSL, "legacy store uses TLS")

	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "Redis address")
	brokers := fs.String("k", strings.Join(config.KafkaBrokers, ","), "Kafka brokers, comma separated")
	fs.StringVar(&config.NotificationTopic, "kt", config.NotificationTopic, "notification topic")
	fs.StringVar(&config.PublicBaseURL, "w", config.PublicBaseURL, "public base URL for share links")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.DownloadGrantValidity = time.Duration(*grantValidity) * time.Minute
	if list := flagx.SplitList(*brokers); len(list) > 0 {
		config.KafkaBrokers = list
	}
}

package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/sharedrop/internal/flagx"
	"github.com/dmitrijs2005/sharedrop/internal/timex"
)

// JsonConfig is the on-disk shape of the server configuration. Duration
// fields accept strings such as "10m" or integer nanoseconds.
type JsonConfig struct {
	HTTPAddr              string         `json:"http_addr"`
	HealthAddrGRPC        string         `json:"health_addr_grpc"`
	DatabaseDSN           string         `json:"database_dsn"`
	SecretKey             string         `json:"secret_key"`
	DownloadGrantValidity timex.Duration `json:"download_grant_validity"`
	LogLevel              string         `json:"log_level"`

	S3RootUser     string `json:"s3_root_user"`
	S3RootPassword string `json:"s3_root_password"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`

	LegacyEndpoint  string `json:"legacy_endpoint"`
	LegacyAccessKey string `json:"legacy_access_key"`
	LegacySecretKey string `json:"legacy_secret_key"`
	LegacyBucket    string `json:"legacy_bucket"`
	LegacyUseSSL    *bool  `json:"legacy_use_ssl"`

	RedisAddr         string   `json:"redis_addr"`
	KafkaBrokers      []string `json:"kafka_brokers"`
	NotificationTopic string   `json:"notification_topic"`

	PublicBaseURL     string         `json:"public_base_url"`
	MaxFileSize       int64          `json:"max_file_size"`
	MaxInlineSize     int64          `json:"max_inline_size"`
	DefaultExpiryDays int            `json:"default_expiry_days"`
	MaxExpiryDays     int            `json:"max_expiry_days"`
	PendingGrace      timex.Duration `json:"pending_grace"`
	ReconcileInterval timex.Duration `json:"reconcile_interval"`
}

// parseJson overlays values from the JSON file named by -c/-config onto
// config. Keys missing from the file keep their current value. An unreadable
// file or invalid JSON panics, as configuration errors are fatal at startup.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.HealthAddrGRPC, c.HealthAddrGRPC)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	if c.DownloadGrantValidity.Duration > 0 {
		config.DownloadGrantValidity = c.DownloadGrantValidity.Duration
	}
	setString(&config.LogLevel, c.LogLevel)

	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)

	setString(&config.LegacyEndpoint, c.LegacyEndpoint)
	setString(&config.LegacyAccessKey, c.LegacyAccessKey)
	setString(&config.LegacySecretKey, c.LegacySecretKey)
	setString(&config.LegacyBucket, c.LegacyBucket)
	if c.LegacyUseSSL != nil {
		config.LegacyUseSSL = *c.LegacyUseSSL
	}

	setString(&config.RedisAddr, c.RedisAddr)
	if len(c.KafkaBrokers) > 0 {
		config.KafkaBrokers = c.KafkaBrokers
	}
	setString(&config.NotificationTopic, c.NotificationTopic)

	setString(&config.PublicBaseURL, c.PublicBaseURL)
	if c.MaxFileSize > 0 {
		config.MaxFileSize = c.MaxFileSize
	}
	if c.MaxInlineSize > 0 {
		config.MaxInlineSize = c.MaxInlineSize
	}
	if c.DefaultExpiryDays > 0 {
		config.DefaultExpiryDays = c.DefaultExpiryDays
	}
	if c.MaxExpiryDays > 0 {
		config.MaxExpiryDays = c.MaxExpiryDays
	}
	if c.PendingGrace.Duration > 0 {
		config.PendingGrace = c.PendingGrace.Duration
	}
	if c.ReconcileInterval.Duration > 0 {
		config.ReconcileInterval = c.ReconcileInterval.Duration
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

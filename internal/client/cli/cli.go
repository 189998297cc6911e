package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"runtime"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/dmitrijs2005/sharedrop/internal/client/api"
	"github.com/dmitrijs2005/sharedrop/internal/client/config"
	"github.com/dmitrijs2005/sharedrop/internal/logging"
)

// Version is set at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

const description = "Share files through time-limited, optionally password-protected links."

// CLI is the kong grammar. Global flags override the JSON config.
type CLI struct {
	Config   string `short:"c" type:"path" help:"JSON config file."`
	Server   string `short:"s" env:"SHAREDROP_SERVER" help:"Server base URL."`
	Token    string `env:"SHAREDROP_TOKEN" help:"Sender bearer token, needed for uploads."`
	LogLevel string `default:"warn" enum:"debug,info,warn,error" help:"Log level."`

	Upload   UploadCmd   `cmd:"" help:"Upload files and create a share link."`
	Info     InfoCmd     `cmd:"" help:"Show what a share contains."`
	Download DownloadCmd `cmd:"" help:"Download a whole share or one file of it."`
	Version  VersionCmd  `cmd:"" help:"Show the program version."`
}

// Env is what every command runs with.
type Env struct {
	Ctx    context.Context
	Config *config.Config
	In     *bufio.Reader
	Out    io.Writer
	Logger logging.Logger
}

func (e *Env) client() *api.Client {
	return api.New(e.Config.ServerURL, e.Config.Token, nil)
}

// Run parses args and executes the selected command.
func Run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	var root CLI
	parser, err := kong.New(&root,
		kong.Name("sharedrop"),
		kong.Description(description),
		kong.Writers(out, out),
	)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig(root.Config)
	if err != nil {
		return err
	}
	if root.Server != "" {
		cfg.ServerURL = root.Server
	}
	if root.Token != "" {
		cfg.Token = root.Token
	}

	env := &Env{
		Ctx:    ctx,
		Config: cfg,
		In:     bufio.NewReader(in),
		Out:    out,
		Logger: logging.NewJSONLogger(out, root.LogLevel),
	}
	return kctx.Run(env)
}

type VersionCmd struct{}

func (c *VersionCmd) Run(env *Env) error {
	fmt.Fprintf(env.Out, "sharedrop %s\n", Version)
	fmt.Fprintf(env.Out, "%s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	return nil
}

// shareToken accepts either a bare token or a full share link.
func shareToken(s string) string {
	s = strings.TrimSpace(s)
	u, err := url.Parse(s)
	if err != nil || !strings.Contains(u.Path, "/transfer/") {
		return s
	}
	return path.Base(strings.TrimRight(u.Path, "/"))
}

package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

type DownloadCmd struct {
	Share    string `arg:"" help:"Share link or token."`
	File     string `short:"f" help:"Download only the file with this id (see info)."`
	Output   string `short:"o" default:"." type:"path" help:"Directory to write into."`
	Password string `env:"SHAREDROP_PASSWORD" help:"Share password; prompted when the share needs one."`
}

func (c *DownloadCmd) Run(env *Env) error {
	token := shareToken(c.Share)
	client := env.client()

	info, err := client.Info(env.Ctx, token)
	if err != nil {
		return err
	}

	password := c.Password
	if info.PasswordProtected && password == "" {
		if password, err = GetPassword("Share password", env.Out); err != nil {
			return err
		}
	}

	conf, err := client.Confirm(env.Ctx, token, password)
	if err != nil {
		return err
	}

	body, name, err := client.Download(env.Ctx, token, c.File, conf.DownloadGrant)
	if err != nil {
		return err
	}
	defer body.Close()

	dst := filepath.Join(c.Output, localName(name))
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("write %s: %w", dst, err)
	}

	fmt.Fprintf(env.Out, "Saved %s (%s)\n", dst, humanize.IBytes(uint64(n)))
	return nil
}

// localName keeps only the last path element of a server supplied name.
func localName(name string) string {
	base := filepath.Base(filepath.FromSlash(name))
	if base == "." || base == string(filepath.Separator) || base == ".." || base == "" {
		return "download"
	}
	return base
}

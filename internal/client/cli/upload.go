package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dmitrijs2005/sharedrop/internal/client/api"
	"github.com/dmitrijs2005/sharedrop/internal/client/resume"
	"github.com/dmitrijs2005/sharedrop/internal/client/uploader"
	"github.com/dmitrijs2005/sharedrop/internal/filex"
	"github.com/dustin/go-humanize"
)

var errNoToken = errors.New("uploads need a sender token (--token or SHAREDROP_TOKEN)")

type UploadCmd struct {
	Files    []string `arg:"" name:"file" help:"Files to share."`
	Title    string   `short:"t" help:"Share title; prompted when empty."`
	Message  string   `short:"m" help:"Message for recipients; '-' reads it from stdin."`
	To       []string `sep:"," help:"Recipient emails."`
	Password bool     `short:"p" help:"Protect the share with a password (prompted)."`
	Expiry   int      `default:"7" help:"Days until the share expires."`
	Limit    int      `default:"0" help:"Maximum downloads, 0 for unlimited."`
	NoResume bool     `help:"Neither resume nor remember unfinished uploads."`
	Quiet    bool     `short:"q" help:"Do not print progress."`
}

func (c *UploadCmd) Run(env *Env) error {
	if env.Config.Token == "" {
		return errNoToken
	}

	md, err := c.metadata(env)
	if err != nil {
		return err
	}

	var ledger uploader.Ledger
	if !c.NoResume {
		if _, err := filex.EnsureParentDir(env.Config.LedgerPath); err != nil {
			return err
		}
		db, err := resume.Open(env.Ctx, env.Config.LedgerPath)
		if err != nil {
			return err
		}
		defer db.Close()
		ledger = resume.NewSQLiteLedger(db)
	}

	opts := uploader.DefaultOptions()
	opts.Concurrency = env.Config.Concurrency
	opts.AttemptTimeout = env.Config.AttemptTimeout
	u := uploader.New(env.client(), ledger, opts, env.Logger)

	var progress uploader.Progress
	if !c.Quiet {
		last := -1
		progress = func(uploaded, total int64) {
			pct := 100
			if total > 0 {
				pct = int(uploaded * 100 / total)
			}
			if pct != last {
				last = pct
				fmt.Fprintf(env.Out, "\rUploading... %3d%% of %s", pct, humanize.IBytes(uint64(total)))
			}
		}
	}

	res, err := u.Upload(env.Ctx, c.Files, md, progress)
	if !c.Quiet {
		fmt.Fprintln(env.Out)
	}
	if res != nil {
		for _, f := range res.Failed() {
			fmt.Fprintf(env.Out, "failed: %s: %v\n", f.Name, f.Err)
		}
	}
	if err != nil {
		return err
	}

	t := res.Transfer
	fmt.Fprintf(env.Out, "Share link: %s\n", t.ShareLink)
	fmt.Fprintf(env.Out, "Expires:    %s (%s)\n", t.ExpiresAt.Local().Format("2006-01-02 15:04"), humanize.Time(t.ExpiresAt))
	return nil
}

func (c *UploadCmd) metadata(env *Env) (*api.TransferMetadata, error) {
	md := &api.TransferMetadata{
		Title:           c.Title,
		Message:         c.Message,
		RecipientEmails: c.To,
		ExpiryDays:      c.Expiry,
		DownloadLimit:   c.Limit,
	}

	var err error
	if md.Title == "" {
		if md.Title, err = GetSimpleText(env.In, "Title", env.Out); err != nil {
			md.Title = ""
		}
		if md.Title == "" && len(c.Files) > 0 {
			md.Title = filepath.Base(c.Files[0])
		}
	}
	if md.Message == "-" {
		if md.Message, err = GetMultiline(env.In, "Message", env.Out); err != nil {
			return nil, err
		}
	}
	if c.Password {
		if md.Password, err = GetPassword("Share password", env.Out); err != nil {
			return nil, err
		}
	}
	return md, nil
}

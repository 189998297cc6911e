package cli

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
)

type InfoCmd struct {
	Share string `arg:"" help:"Share link or token."`
}

func (c *InfoCmd) Run(env *Env) error {
	info, err := env.client().Info(env.Ctx, shareToken(c.Share))
	if err != nil {
		return err
	}

	limit := "unlimited"
	if info.DownloadLimit > 0 {
		limit = strconv.Itoa(info.DownloadLimit)
	}

	fmt.Fprintf(env.Out, "Title:     %s\n", info.Title)
	fmt.Fprintf(env.Out, "From:      %s\n", info.SenderEmail)
	if info.Message != "" {
		fmt.Fprintf(env.Out, "Message:   %s\n", info.Message)
	}
	fmt.Fprintf(env.Out, "Expires:   %s\n", humanize.Time(info.ExpiresAt))
	fmt.Fprintf(env.Out, "Downloads: %d/%s\n", info.DownloadCount, limit)
	if info.PasswordProtected {
		fmt.Fprintln(env.Out, "Password:  required")
	}
	fmt.Fprintf(env.Out, "Files (%d, %s):\n", len(info.Files), humanize.IBytes(uint64(info.TotalSize)))
	for _, f := range info.Files {
		fmt.Fprintf(env.Out, "  %s  %-40s %s\n", f.ID, f.Filename, humanize.IBytes(uint64(f.Size)))
	}
	return nil
}

package services

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"unicode"

	"github.com/dmitrijs2005/sharedrop/internal/common"
	"github.com/dmitrijs2005/sharedrop/internal/logging"
	"github.com/dmitrijs2005/sharedrop/internal/server/models"
	"github.com/klauspost/compress/zip"
)

var archiveNameStrip = regexp.MustCompile(`[^A-Za-z0-9\-_\s]`)

// SanitizeArchiveName turns a transfer title into the archive file name.
func SanitizeArchiveName(title string) string {
	name := strings.TrimSpace(archiveNameStrip.ReplaceAllString(title, ""))
	if name == "" {
		name = "files"
	}
	return name + ".zip"
}

// EntryName is the name a file gets inside an archive or in a
// Content-Disposition header: the base name without separators or control
// characters.
func EntryName(f *models.File) string {
	name := strings.ReplaceAll(f.OriginalFilename, "\\", "/")
	name = path.Base(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return fmt.Sprintf("file-%d", f.Position+1)
	}
	return name
}

// FetchFunc returns the whole content of one file.
type FetchFunc func(ctx context.Context, f *models.File) ([]byte, error)

// ArchiveResult is a finished archive and what went into it.
type ArchiveResult struct {
	Data    []byte
	Entries int
	Skipped []string
}

// BuildArchive fetches files in order and zips them into one buffer. A file
// that cannot be fetched is logged and left out; if none can be fetched the
// result is ErrArchiveEmpty. Duplicate names are written as they are.
func BuildArchive(ctx context.Context, files []*models.File, fetch FetchFunc, logger logging.Logger) (*ArchiveResult, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	res := &ArchiveResult{}
	seen := make(map[string]bool, len(files))

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := fetch(ctx, f)
		if err != nil {
			logger.Warn(ctx, "archive: skipping file", "file_id", f.ID, "file", f.OriginalFilename, "error", err)
			res.Skipped = append(res.Skipped, f.ID)
			continue
		}

		name := EntryName(f)
		if seen[name] {
			logger.Warn(ctx, "archive: duplicate entry name", "name", name, "file_id", f.ID)
		}
		seen[name] = true

		hdr := &zip.FileHeader{Name: name, Method: zip.Deflate}
		if !f.CreatedAt.IsZero() {
			hdr.Modified = f.CreatedAt
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return nil, fmt.Errorf("archive entry %s: %w", name, err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("archive write %s: %w", name, err)
		}
		res.Entries++
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("archive close: %w", err)
	}
	if res.Entries == 0 {
		return nil, common.ErrArchiveEmpty
	}
	res.Data = buf.Bytes()
	return res, nil
}

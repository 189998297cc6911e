package services

import (
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// UploadPrefix is where every new object lands. The reconciler only walks
// this prefix.
const UploadPrefix = "uploads/"

const maxExtLen = 16

// BuildObjectKey returns uploads/{yyyy}/{mm}/{dd}/{unixMillis}-{index}-{random8}{.ext}.
// The random suffix makes keys unique per attempt.
func BuildObjectKey(now time.Time, index int, filename string) string {
	now = now.UTC()
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s%04d/%02d/%02d/%d-%d-%s%s",
		UploadPrefix, now.Year(), int(now.Month()), now.Day(), now.UnixMilli(), index, suffix, safeExt(filename))
}

// safeExt keeps the extension only when it is short and alphanumeric.
func safeExt(filename string) string {
	ext := path.Ext(strings.ReplaceAll(filename, "\\", "/"))
	if len(ext) < 2 || len(ext) > maxExtLen {
		return ""
	}
	for _, r := range ext[1:] {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return ""
		}
	}
	return strings.ToLower(ext)
}

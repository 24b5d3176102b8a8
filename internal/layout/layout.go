// Package layout maps playlist entries to paths under the download directory.
package layout

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/snapetech/vodgrab/internal/playlist"
)

const mediaExt = ".mp4"

var (
	ErrEmptyEpisode  = errors.New("layout: empty episode name")
	ErrUnsafeSegment = errors.New("layout: path segment is . or ..")
)

var replacer = strings.NewReplacer(
	"<", "-",
	">", "-",
	":", "-",
	`"`, "-",
	"/", "-",
	`\`, "-",
	"|", "-",
	"?", "-",
	"*", "-",
)

// Sanitize replaces each of < > : " / \ | ? * with '-'. It is idempotent.
func Sanitize(s string) string {
	return replacer.Replace(s)
}

// Destination returns base/<group>/<series>/<episode>.mp4 with every segment sanitized.
// Empty group or series segments collapse into their parent.
func Destination(base string, e playlist.Entry) (string, error) {
	group, series, episode := Sanitize(e.Group), Sanitize(e.Series), Sanitize(e.Episode)
	if episode == "" {
		return "", ErrEmptyEpisode
	}
	for _, seg := range []string{group, series, episode} {
		if seg == "." || seg == ".." {
			return "", ErrUnsafeSegment
		}
	}
	return filepath.Join(base, group, series, episode+mediaExt), nil
}

// PartialPath is the file written while dest is downloading; it is renamed to dest when complete.
func PartialPath(dest string) string {
	return dest + ".partial"
}

// EnsureDir creates dir and its parents if missing.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

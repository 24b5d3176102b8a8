package playlist

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	tvgNameRe    = regexp.MustCompile(`tvg-name="([^"]+)"`)
	groupTitleRe = regexp.MustCompile(`group-title="([^"]+)"`)
	mediaURLRe   = regexp.MustCompile(`^http.*\.mp4$`)
)

// ErrNoEntry is returned by Step for a media line that no valid #EXTINF preceded.
var ErrNoEntry = errors.New("media line without preceding metadata")

// Entry is the metadata carried by one #EXTINF line.
type Entry struct {
	Series  string
	Episode string
	Group   string
}

// Media is a direct media URL paired with the entry that was current when it was read.
type Media struct {
	URL   string
	Entry Entry
	Line  int
	// Stale is set when at least one #EXTINF line failed to parse after Entry was committed,
	// so Entry may belong to an earlier item.
	Stale bool
}

// State is the parse accumulator. The zero value is the state before the first line.
type State struct {
	Entry     Entry
	HaveEntry bool
	Stale     bool
	Line      int
}

// MetadataError reports an #EXTINF line whose attributes could not be extracted.
type MetadataError struct {
	Line   int
	Text   string
	Reason string
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("line %d: %s: %q", e.Line, e.Reason, e.Text)
}

// Step consumes one raw playlist line and returns the next state. It emits a Media
// for URL lines; metadata failures leave the previous entry in place and mark it stale.
func Step(st State, raw string) (State, *Media, error) {
	st.Line++
	line := strings.TrimSpace(raw)
	if strings.HasPrefix(line, "#EXTINF") {
		e, err := parseEXTINF(line)
		if err != nil {
			st.Stale = st.HaveEntry || st.Stale
			return st, nil, &MetadataError{Line: st.Line, Text: line, Reason: err.Error()}
		}
		st.Entry = e
		st.HaveEntry = true
		st.Stale = false
		return st, nil, nil
	}
	if mediaURLRe.MatchString(line) {
		if !st.HaveEntry {
			return st, nil, fmt.Errorf("line %d: %w", st.Line, ErrNoEntry)
		}
		return st, &Media{URL: line, Entry: st.Entry, Line: st.Line, Stale: st.Stale}, nil
	}
	return st, nil, nil
}

func parseEXTINF(line string) (Entry, error) {
	m := tvgNameRe.FindStringSubmatch(line)
	if m == nil {
		return Entry{}, errors.New("missing tvg-name")
	}
	parts := strings.Fields(m[1])
	if len(parts) < 2 {
		return Entry{}, errors.New("tvg-name needs series and episode tokens")
	}
	g := groupTitleRe.FindStringSubmatch(line)
	if g == nil {
		return Entry{}, errors.New("missing group-title")
	}
	n := len(parts)
	return Entry{
		Series:  strings.Join(parts[:n-2], " "),
		Episode: parts[n-2] + parts[n-1],
		Group:   g[1],
	}, nil
}

// Stats counts what a Parse call saw.
type Stats struct {
	Lines          int
	Entries        int
	MetadataErrors int
	Media          int
	Orphans        int // media lines before any valid entry
	Stale          int // media emitted with a stale entry
}

func (s Stats) String() string {
	return fmt.Sprintf("lines=%d entries=%d meta_errs=%d media=%d orphans=%d stale=%d",
		s.Lines, s.Entries, s.MetadataErrors, s.Media, s.Orphans, s.Stale)
}

// Parse reads r line by line and calls fn for each media reference in file order.
// Lines have no length limit. Metadata and orphan errors are logged and counted;
// only read errors and errors returned by fn stop the parse.
func Parse(r io.Reader, fn func(Media) error) (Stats, error) {
	br := bufio.NewReader(r)
	var st State
	var stats Stats
	for {
		raw, rerr := br.ReadString('\n')
		if rerr != nil && rerr != io.EOF {
			return stats, rerr
		}
		if raw == "" && rerr == io.EOF {
			return stats, nil
		}
		var m *Media
		var err error
		st, m, err = Step(st, raw)
		stats.Lines = st.Line
		if err != nil {
			var me *MetadataError
			switch {
			case errors.As(err, &me):
				stats.MetadataErrors++
				log.Printf("playlist: skip entry: %v", shorten(err.Error()))
			case errors.Is(err, ErrNoEntry):
				stats.Orphans++
				log.Printf("playlist: skip url: %v", err)
			default:
				return stats, err
			}
			continue
		}
		if m == nil {
			if isEXTINF(raw) {
				stats.Entries++
			}
			continue
		}
		stats.Media++
		if m.Stale {
			stats.Stale++
		}
		if err := fn(*m); err != nil {
			return stats, err
		}
	}
}

// shorten caps log output for very long lines (embedded logos and the like).
func shorten(s string) string {
	const limit = 512
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

func isEXTINF(raw string) bool {
	return strings.HasPrefix(strings.TrimSpace(raw), "#EXTINF")
}

// ParseFile parses the playlist at path. Path is cleaned with filepath.Clean.
func ParseFile(path string, fn func(Media) error) (Stats, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return Stats{}, err
	}
	defer f.Close()
	return Parse(f, fn)
}

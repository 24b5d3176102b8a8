// Package grabber runs one pass over a playlist: every media reference is resolved to
// base/<group>/<series>/<episode>.mp4 and downloaded in file order. Per-item failures
// are logged and counted; they never stop the run.
package grabber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/snapetech/vodgrab/internal/download"
	"github.com/snapetech/vodgrab/internal/history"
	"github.com/snapetech/vodgrab/internal/layout"
	"github.com/snapetech/vodgrab/internal/metrics"
	"github.com/snapetech/vodgrab/internal/playlist"
)

// Fetcher downloads url to dest; *download.Downloader implements it.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string) (download.Result, error)
}

// Recorder persists run outcomes; *history.Store implements it.
type Recorder interface {
	BeginRun(ctx context.Context, id, source, baseDir string, at time.Time) error
	FinishRun(ctx context.Context, id string, at time.Time) error
	Record(ctx context.Context, it history.Item) error
	LastOutcome(ctx context.Context, dest string) (string, error)
}

// Runner holds what a run needs. Base and Fetcher are required.
type Runner struct {
	Base    string
	Fetcher Fetcher
	// Client fetches remote playlists; nil uses http.DefaultClient.
	Client   *http.Client
	Recorder Recorder
	Metrics  *metrics.Metrics
	// Strict rejects media that follow a failed #EXTINF line instead of reusing the previous entry.
	Strict bool
	// Out receives human-readable status lines; nil discards them.
	Out   io.Writer
	RunID string

	now func() time.Time
}

// Summary counts the outcome of a run.
type Summary struct {
	RunID      string
	Playlist   playlist.Stats
	Downloaded int
	Skipped    int // destination already present
	Failed     int // attempts exhausted or directory could not be created
	Rejected   int // stale in strict mode, or no usable destination
	Bytes      int64
	Duration   time.Duration
}

func (s Summary) String() string {
	return fmt.Sprintf("run=%s downloaded=%d skipped=%d failed=%d rejected=%d bytes=%d dur=%s (%s)",
		s.RunID, s.Downloaded, s.Skipped, s.Failed, s.Rejected, s.Bytes,
		s.Duration.Round(time.Millisecond), s.Playlist)
}

func (r *Runner) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

func (r *Runner) printf(format string, args ...any) {
	if r.Out != nil {
		fmt.Fprintf(r.Out, format, args...)
	}
}

// Run parses source (a local path or http(s) URL) and downloads each media item.
// It returns an error only when the playlist cannot be read or ctx is canceled.
func (r *Runner) Run(ctx context.Context, source string) (Summary, error) {
	if r.Fetcher == nil {
		return Summary{}, errors.New("grabber: no fetcher")
	}
	start := r.clock()
	sum := Summary{RunID: r.RunID}
	if sum.RunID == "" {
		sum.RunID = uuid.NewString()
	}
	if r.Recorder != nil {
		if err := r.Recorder.BeginRun(ctx, sum.RunID, source, r.Base, start); err != nil {
			log.Printf("grabber: history begin run=%s: %v", sum.RunID, err)
		}
	}

	stats, err := playlist.Open(ctx, r.Client, source, func(m playlist.Media) error {
		return r.handle(ctx, sum.RunID, m, &sum)
	})
	sum.Playlist = stats
	sum.Rejected += stats.Orphans
	sum.Duration = r.clock().Sub(start)

	if r.Metrics != nil {
		r.Metrics.MetadataErrors.Add(float64(stats.MetadataErrors))
		for i := 0; i < stats.Orphans; i++ {
			r.Metrics.Item(metrics.OutcomeRejected, 0, 0)
		}
	}
	if r.Recorder != nil {
		if ferr := r.Recorder.FinishRun(context.WithoutCancel(ctx), sum.RunID, r.clock()); ferr != nil {
			log.Printf("grabber: history finish run=%s: %v", sum.RunID, ferr)
		}
	}
	return sum, err
}

func (r *Runner) handle(ctx context.Context, runID string, m playlist.Media, sum *Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.Stale {
		if r.Strict {
			log.Printf("grabber: reject line=%d url=%q: previous #EXTINF failed to parse", m.Line, m.URL)
			sum.Rejected++
			r.record(ctx, runID, m, "", metrics.OutcomeRejected, download.Result{}, errors.New("stale metadata"), 0)
			return nil
		}
		log.Printf("grabber: line=%d reusing metadata of the last valid #EXTINF (%s / %s / %s)",
			m.Line, m.Entry.Group, m.Entry.Series, m.Entry.Episode)
	}

	dest, err := layout.Destination(r.Base, m.Entry)
	if err != nil {
		log.Printf("grabber: reject line=%d url=%q: %v", m.Line, m.URL, err)
		sum.Rejected++
		r.record(ctx, runID, m, "", metrics.OutcomeRejected, download.Result{}, err, 0)
		return nil
	}
	if err := layout.EnsureDir(filepath.Dir(dest)); err != nil {
		log.Printf("grabber: mkdir for %s: %v", dest, err)
		sum.Failed++
		r.record(ctx, runID, m, dest, metrics.OutcomeFailed, download.Result{}, err, 0)
		return nil
	}

	r.noteEarlierFailure(ctx, dest)

	r.printf("Downloading %s...\n", m.URL)
	began := r.clock()
	res, err := r.Fetcher.Fetch(ctx, m.URL, dest)
	took := r.clock().Sub(began)
	switch {
	case err != nil && ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		r.printf("Failed to download %s: %v\n", m.URL, err)
		sum.Failed++
		r.record(ctx, runID, m, dest, metrics.OutcomeFailed, res, err, took)
	case res.Skipped:
		r.printf("%s already exists, skipping\n", dest)
		sum.Skipped++
		r.record(ctx, runID, m, dest, metrics.OutcomeSkipped, res, nil, took)
	default:
		r.printf("%s downloaded to %s\n", m.URL, dest)
		sum.Downloaded++
		sum.Bytes += res.Bytes
		r.record(ctx, runID, m, dest, metrics.OutcomeDownloaded, res, nil, took)
	}
	return nil
}

// noteEarlierFailure logs when the previous recorded attempt at dest failed.
func (r *Runner) noteEarlierFailure(ctx context.Context, dest string) {
	if r.Recorder == nil {
		return
	}
	last, err := r.Recorder.LastOutcome(ctx, dest)
	if err != nil {
		log.Printf("grabber: history lookup dest=%s: %v", dest, err)
		return
	}
	if last == metrics.OutcomeFailed {
		log.Printf("grabber: dest=%s failed in an earlier run; trying again", dest)
	}
}

func (r *Runner) record(ctx context.Context, runID string, m playlist.Media, dest, outcome string, res download.Result, err error, took time.Duration) {
	if r.Metrics != nil {
		r.Metrics.Item(outcome, res.Bytes, took)
	}
	if r.Recorder == nil {
		return
	}
	it := history.Item{
		RunID:    runID,
		Line:     m.Line,
		URL:      m.URL,
		Dest:     dest,
		Outcome:  outcome,
		Attempts: res.Attempts,
		Bytes:    res.Bytes,
		At:       r.clock(),
	}
	if err != nil {
		it.Err = err.Error()
	}
	if rerr := r.Recorder.Record(ctx, it); rerr != nil {
		log.Printf("grabber: history record line=%d: %v", m.Line, rerr)
	}
}

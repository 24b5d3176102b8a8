// Package download streams direct media URLs to disk with a bounded number of
// immediate retries. A destination that already exists is never fetched again.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"golang.org/x/time/rate"

	"github.com/snapetech/vodgrab/internal/httpclient"
	"github.com/snapetech/vodgrab/internal/layout"
	"github.com/snapetech/vodgrab/internal/progress"
)

const (
	DefaultMaxAttempts = 4
	DefaultChunkSize   = 8 << 10 // 8 KiB
	DefaultUserAgent   = "vodgrab/1.0"
)

var (
	// ErrExhausted matches every *ExhaustedError.
	ErrExhausted         = errors.New("download: attempts exhausted")
	ErrUnsupportedScheme = errors.New("download: url is not http or https")
)

// ExhaustedError is returned when every attempt failed. No file is left on disk.
type ExhaustedError struct {
	URL      string
	Attempts int
	Err      error // last attempt error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("download %s: failed after %d attempts: %v", redactURL(e.URL), e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// StatusError is a non-2xx response.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string { return "unexpected status: " + e.Status }

// Observer is notified of every state transition, in order.
type Observer interface {
	Observe(url string, tr Transition)
}

// Result describes a finished Fetch.
type Result struct {
	Path        string
	Skipped     bool // destination already existed; no request was made
	Bytes       int64
	Attempts    int
	Transitions []Transition
}

// Downloader fetches one file at a time. Zero values are replaced with defaults.
type Downloader struct {
	Client      *http.Client
	MaxAttempts int
	ChunkSize   int
	UserAgent   string
	// Limiter, when set, caps write throughput in bytes per second.
	Limiter  *rate.Limiter
	Progress progress.Reporter
	Observer Observer
}

func (d *Downloader) client() *http.Client {
	if d.Client == nil {
		return httpclient.ForDownloads(httpclient.Options{})
	}
	return d.Client
}

func (d *Downloader) maxAttempts() int {
	if d.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return d.MaxAttempts
}

func (d *Downloader) chunkSize() int {
	if d.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return d.ChunkSize
}

func (d *Downloader) progress() progress.Reporter {
	if d.Progress == nil {
		return progress.Nop{}
	}
	return d.Progress
}

// Fetch downloads url to dest. If dest exists it returns immediately with Skipped set.
// Otherwise it attempts up to MaxAttempts times with no delay between attempts, writing
// to a partial file that is renamed to dest on success and removed on every failure.
func (d *Downloader) Fetch(ctx context.Context, url, dest string) (Result, error) {
	res := Result{Path: dest}
	if _, err := os.Stat(dest); err == nil {
		log.Printf("download: %s already exists, skipping", dest)
		res.Skipped = true
		return res, nil
	}
	if !httpclient.IsHTTPOrHTTPS(url) {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedScheme, redactURL(url))
	}

	max := d.maxAttempts()
	partial := layout.PartialPath(dest)
	st := Idle
	var lastErr error
	move := func(to State) {
		tr := Transition{From: st, To: to, Attempt: res.Attempts}
		if st == Attempting {
			tr.Err = lastErr
		}
		res.Transitions = append(res.Transitions, tr)
		if d.Observer != nil {
			d.Observer.Observe(url, tr)
		}
		st = to
	}

	for {
		switch st {
		case Idle, Retrying:
			move(next(st, res.Attempts, max, nil, false))
		case Attempting:
			res.Attempts++
			n, err := d.attempt(ctx, url, partial, dest)
			lastErr = err
			to := next(st, res.Attempts, max, err, ctx.Err() != nil)
			if to != Succeeded {
				removeQuiet(partial)
			}
			if to == Retrying {
				log.Printf("download: error fetching %s, attempt %d of %d: %v", redactURL(url), res.Attempts, max, err)
			}
			if to == Succeeded {
				res.Bytes = n
			}
			move(to)
		case Succeeded:
			log.Printf("download: %s saved to %s (%d bytes)", redactURL(url), dest, res.Bytes)
			return res, nil
		case Canceled:
			return Result{Attempts: res.Attempts, Transitions: res.Transitions}, ctx.Err()
		case Exhausted:
			log.Printf("download: giving up on %s after %d attempts: %v", redactURL(url), res.Attempts, lastErr)
			return Result{Attempts: res.Attempts, Transitions: res.Transitions},
				&ExhaustedError{URL: url, Attempts: res.Attempts, Err: lastErr}
		}
	}
}

// attempt performs one GET into partial and renames it to dest when the body is complete.
func (d *Downloader) attempt(ctx context.Context, url, partial, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	ua := d.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	resp, err := d.client().Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	total := resp.ContentLength
	if total < 0 {
		total = 0
	}

	f, err := os.Create(partial)
	if err != nil {
		return 0, err
	}
	bar := d.progress()
	bar.Start(dest, total)
	n, copyErr := d.copyChunks(ctx, f, resp.Body, bar)
	closeErr := f.Close()
	bar.Finish(copyErr == nil && closeErr == nil)
	if copyErr != nil {
		return n, copyErr
	}
	if closeErr != nil {
		return n, closeErr
	}
	if err := os.Rename(partial, dest); err != nil {
		return n, err
	}
	return n, nil
}

func (d *Downloader) copyChunks(ctx context.Context, w io.Writer, r io.Reader, bar progress.Reporter) (int64, error) {
	buf := make([]byte, d.chunkSize())
	var written int64
	for {
		nr, rerr := r.Read(buf)
		if nr > 0 {
			if err := d.wait(ctx, nr); err != nil {
				return written, err
			}
			nw, werr := w.Write(buf[:nr])
			written += int64(nw)
			bar.Update(written)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
		if err := ctx.Err(); err != nil {
			return written, err
		}
	}
}

// wait blocks until the limiter admits n bytes, splitting n into burst-sized pieces.
func (d *Downloader) wait(ctx context.Context, n int) error {
	if d.Limiter == nil || d.Limiter.Limit() == rate.Inf {
		return nil
	}
	burst := d.Limiter.Burst()
	if burst <= 0 {
		return nil
	}
	for n > 0 {
		k := n
		if k > burst {
			k = burst
		}
		if err := d.Limiter.WaitN(ctx, k); err != nil {
			return err
		}
		n -= k
	}
	return nil
}

// NewLimiter returns a byte-rate limiter for bytesPerSec, or nil when bytesPerSec <= 0.
func NewLimiter(bytesPerSec int) *rate.Limiter {
	if bytesPerSec <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec)
}

func removeQuiet(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("download: remove partial %s: %v", path, err)
	}
}

func redactURL(s string) string {
	if i := strings.Index(s, "?"); i >= 0 {
		return s[:i] + "?[redacted]"
	}
	return s
}

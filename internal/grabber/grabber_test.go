package grabber

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/snapetech/vodgrab/internal/download"
	"github.com/snapetech/vodgrab/internal/history"
	"github.com/snapetech/vodgrab/internal/metrics"
)

func writePlaylist(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "playlist.m3u")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func mediaServer(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if strings.Contains(r.URL.Path, "broken") {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("video:" + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestRun_downloadsIntoTree(t *testing.T) {
	srv, _ := mediaServer(t)
	base := t.TempDir()
	m3u := "#EXTM3U\n" +
		"#EXTINF:-1 tvg-name=\"Show Name S01E01\" group-title=\"Drama\"\n" +
		srv.URL + "/video.mp4\n" +
		"#EXTINF:-1 tvg-name=\"What? Show S01 E02\" group-title=\"Sci/Fi\"\n" +
		srv.URL + "/other.mp4\n"
	var out bytes.Buffer
	r := &Runner{
		Base:    base,
		Fetcher: &download.Downloader{Client: srv.Client()},
		Out:     &out,
		RunID:   "run-test",
	}
	sum, err := r.Run(context.Background(), writePlaylist(t, m3u))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Downloaded != 2 || sum.Failed != 0 || sum.RunID != "run-test" {
		t.Errorf("summary = %s", sum)
	}

	// "Show Name S01E01" splits into series "Show" and episode "NameS01E01".
	first := filepath.Join(base, "Drama", "Show", "NameS01E01.mp4")
	second := filepath.Join(base, "Sci-Fi", "What- Show", "S01E02.mp4")
	for path, want := range map[string]string{first: "video:/video.mp4", second: "video:/other.mp4"} {
		got, err := os.ReadFile(path)
		if err != nil {
			t.Errorf("read %s: %v", path, err)
			continue
		}
		if string(got) != want {
			t.Errorf("%s = %q, want %q", path, got, want)
		}
	}
	if !strings.Contains(out.String(), "Downloading "+srv.URL+"/video.mp4...") {
		t.Errorf("status output = %q", out.String())
	}
}

// With season and episode as separate tokens the series keeps all of its words.
func TestRun_separateSeasonEpisodeTokens(t *testing.T) {
	srv, _ := mediaServer(t)
	base := t.TempDir()
	m3u := "#EXTINF:-1 tvg-name=\"Show Name S01 E01\" group-title=\"Drama\"\n" + srv.URL + "/video.mp4\n"
	r := &Runner{Base: base, Fetcher: &download.Downloader{Client: srv.Client()}}
	if _, err := r.Run(context.Background(), writePlaylist(t, m3u)); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(base, "Drama", "Show Name", "S01E01.mp4")); err != nil {
		t.Errorf("expected Drama/Show Name/S01E01.mp4: %v", err)
	}
}

func TestRun_failuresDoNotStopRun(t *testing.T) {
	srv, hits := mediaServer(t)
	base := t.TempDir()
	m3u := "#EXTINF:-1 tvg-name=\"A S01 E01\" group-title=\"G\"\n" + srv.URL + "/broken.mp4\n" +
		"#EXTINF:-1 tvg-name=\"A S01 E02\" group-title=\"G\"\n" + srv.URL + "/fine.mp4\n"
	m := metrics.New()
	r := &Runner{Base: base, Fetcher: &download.Downloader{Client: srv.Client(), Observer: m}, Metrics: m}
	sum, err := r.Run(context.Background(), writePlaylist(t, m3u))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Failed != 1 || sum.Downloaded != 1 {
		t.Errorf("summary = %s", sum)
	}
	if got := atomic.LoadInt32(hits); got != 5 {
		t.Errorf("requests = %d, want 4 failed + 1 ok", got)
	}
	if _, err := os.Stat(filepath.Join(base, "G", "A", "S01E01.mp4")); !os.IsNotExist(err) {
		t.Errorf("failed item must leave no file; stat err=%v", err)
	}
	if got := testutil.ToFloat64(m.AttemptsTotal.WithLabelValues("error")); got != 4 {
		t.Errorf("error attempts = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.ItemsTotal.WithLabelValues(metrics.OutcomeFailed)); got != 1 {
		t.Errorf("failed items = %v", got)
	}
}

func TestRun_existingFileSkipped(t *testing.T) {
	srv, hits := mediaServer(t)
	base := t.TempDir()
	dest := filepath.Join(base, "G", "A", "S01E01.mp4")
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dest, []byte("kept"), 0644); err != nil {
		t.Fatal(err)
	}
	m3u := "#EXTINF:-1 tvg-name=\"A S01 E01\" group-title=\"G\"\n" + srv.URL + "/a.mp4\n"
	r := &Runner{Base: base, Fetcher: &download.Downloader{Client: srv.Client()}}
	sum, err := r.Run(context.Background(), writePlaylist(t, m3u))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Skipped != 1 || atomic.LoadInt32(hits) != 0 {
		t.Errorf("summary = %s hits=%d", sum, *hits)
	}
}

type fakeFetcher struct {
	calls []string
	err   error
}

func (f *fakeFetcher) Fetch(_ context.Context, url, dest string) (download.Result, error) {
	f.calls = append(f.calls, url+" -> "+dest)
	if f.err != nil {
		return download.Result{Attempts: 4}, f.err
	}
	return download.Result{Path: dest, Attempts: 1, Bytes: 3}, nil
}

const staleM3U = `#EXTINF:-1 tvg-name="First S01 E01" group-title="G"
http://h/1.mp4
#EXTINF:-1 tvg-name="Second S01 E02"
http://h/2.mp4
http://h/again.mp4
`

func TestRun_staleCarryOver(t *testing.T) {
	base := t.TempDir()
	f := &fakeFetcher{}
	r := &Runner{Base: base, Fetcher: f}
	sum, err := r.Run(context.Background(), writePlaylist(t, staleM3U))
	if err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(base, "G", "First", "S01E01.mp4")
	want := []string{
		"http://h/1.mp4 -> " + dest,
		"http://h/2.mp4 -> " + dest,
		"http://h/again.mp4 -> " + dest,
	}
	if strings.Join(f.calls, "\n") != strings.Join(want, "\n") {
		t.Errorf("calls = %q, want %q", f.calls, want)
	}
	if sum.Playlist.MetadataErrors != 1 || sum.Playlist.Stale != 2 {
		t.Errorf("stats = %s", sum.Playlist)
	}
}

func TestRun_strictRejectsStale(t *testing.T) {
	base := t.TempDir()
	f := &fakeFetcher{}
	r := &Runner{Base: base, Fetcher: f, Strict: true}
	sum, err := r.Run(context.Background(), writePlaylist(t, staleM3U))
	if err != nil {
		t.Fatal(err)
	}
	if len(f.calls) != 1 || sum.Rejected != 2 || sum.Downloaded != 1 {
		t.Errorf("calls=%q summary=%s", f.calls, sum)
	}
}

func TestRun_recordsHistory(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	base := t.TempDir()
	m3u := "http://h/orphan.mp4\n#EXTINF:-1 tvg-name=\"A S01 E01\" group-title=\"G\"\nhttp://h/a.mp4\n"
	r := &Runner{Base: base, Fetcher: &fakeFetcher{}, Recorder: store, RunID: "r1"}
	if _, err := r.Run(context.Background(), writePlaylist(t, m3u)); err != nil {
		t.Fatal(err)
	}
	items, err := store.Items(context.Background(), "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Outcome != metrics.OutcomeDownloaded || items[0].Line != 3 || items[0].Bytes != 3 {
		t.Errorf("items = %+v", items)
	}
}

func TestRun_logsEarlierFailure(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	var logs bytes.Buffer
	log.SetOutput(&logs)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	base := t.TempDir()
	pl := writePlaylist(t, "#EXTINF:-1 tvg-name=\"A S01 E01\" group-title=\"G\"\nhttp://h/a.mp4\n")
	dest := filepath.Join(base, "G", "A", "S01E01.mp4")

	first := &Runner{Base: base, Fetcher: &fakeFetcher{err: download.ErrExhausted}, Recorder: store, RunID: "r1"}
	sum, err := first.Run(context.Background(), pl)
	if err != nil || sum.Failed != 1 {
		t.Fatalf("first run: summary=%s err=%v", sum, err)
	}
	if strings.Contains(logs.String(), "failed in an earlier run") {
		t.Errorf("first run should not report an earlier failure; logs %q", logs.String())
	}

	second := &Runner{Base: base, Fetcher: &fakeFetcher{}, Recorder: store, RunID: "r2"}
	if _, err := second.Run(context.Background(), pl); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(logs.String(), "dest="+dest+" failed in an earlier run") {
		t.Errorf("logs = %q", logs.String())
	}
	last, err := store.LastOutcome(context.Background(), dest)
	if err != nil || last != metrics.OutcomeDownloaded {
		t.Errorf("LastOutcome = %q, %v", last, err)
	}
}

func TestRun_missingPlaylist(t *testing.T) {
	f := &fakeFetcher{}
	r := &Runner{Base: t.TempDir(), Fetcher: f}
	_, err := r.Run(context.Background(), filepath.Join(t.TempDir(), "nope.m3u"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want not-exist", err)
	}
	if len(f.calls) != 0 {
		t.Errorf("no downloads expected; got %q", f.calls)
	}
}

func TestRun_canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &fakeFetcher{}
	r := &Runner{Base: t.TempDir(), Fetcher: f}
	m3u := "#EXTINF:-1 tvg-name=\"A S01 E01\" group-title=\"G\"\nhttp://h/a.mp4\n"
	_, err := r.Run(ctx, writePlaylist(t, m3u))
	if !errors.Is(err, context.Canceled) || len(f.calls) != 0 {
		t.Errorf("err=%v calls=%q", err, f.calls)
	}
}

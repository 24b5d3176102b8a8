// Command vodgrab downloads every direct MP4 listed in an M3U playlist into
// <dest>/<group>/<series>/<episode>.mp4.
//
// Settings come from VODGRAB_* environment variables (optionally from a .env file);
// flags override them. When no destination is configured the user is prompted for one.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/snapetech/vodgrab/internal/config"
	"github.com/snapetech/vodgrab/internal/download"
	"github.com/snapetech/vodgrab/internal/grabber"
	"github.com/snapetech/vodgrab/internal/history"
	"github.com/snapetech/vodgrab/internal/httpclient"
	"github.com/snapetech/vodgrab/internal/metrics"
	"github.com/snapetech/vodgrab/internal/playlist"
	"github.com/snapetech/vodgrab/internal/progress"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout)
	stop()
	os.Exit(code)
}

// run returns the process exit code. Missing inputs are reported and end the run
// with 0, so only unexpected failures (bad flags, unreadable playlist) exit non-zero.
func run(ctx context.Context, args []string, stdin io.Reader, stdout *os.File) int {
	fs := flag.NewFlagSet("vodgrab", flag.ContinueOnError)
	envFile := fs.String("env", ".env", "Path to .env file (missing file is ignored)")
	playlistFlag := fs.String("playlist", "", "Playlist path or http(s) URL (default $VODGRAB_PLAYLIST or playlist.m3u)")
	destFlag := fs.String("dest", "", "Base download directory (default $VODGRAB_DEST, else prompt)")
	attempts := fs.Int("attempts", 0, "Attempts per file (default $VODGRAB_MAX_ATTEMPTS or 4)")
	rateLimit := fs.Int("rate-limit", -1, "Max bytes per second, 0 = unlimited (default $VODGRAB_RATE_LIMIT)")
	strict := fs.Bool("strict", false, "Skip URLs that follow an unparseable #EXTINF instead of reusing the previous entry")
	historyDB := fs.String("history", "", "SQLite history ledger path (default $VODGRAB_HISTORY_DB)")
	metricsFile := fs.String("metrics-file", "", "Write Prometheus textfile metrics here when done (default $VODGRAB_METRICS_FILE)")
	progressMode := fs.String("progress", "", "Progress display: auto, bar, lines, off (default $VODGRAB_PROGRESS or auto)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if err := config.LoadEnvFile(*envFile); err != nil {
		log.Printf("Load %s: %v", *envFile, err)
	}
	cfg := config.Load()
	if *playlistFlag != "" {
		cfg.Playlist = *playlistFlag
	}
	if *destFlag != "" {
		cfg.Dest = *destFlag
	}
	if *attempts > 0 {
		cfg.MaxAttempts = *attempts
	}
	if *rateLimit >= 0 {
		cfg.RateLimit = *rateLimit
	}
	if *strict {
		cfg.StrictMetadata = true
	}
	if *historyDB != "" {
		cfg.HistoryDB = *historyDB
	}
	if *metricsFile != "" {
		cfg.MetricsFile = *metricsFile
	}
	if *progressMode != "" {
		cfg.Progress = *progressMode
	}

	if cfg.Dest == "" {
		dest, err := promptDest(stdin, stdout)
		if err != nil {
			fmt.Fprintf(stdout, "No destination directory given: %v\n", err)
			return 0
		}
		cfg.Dest = dest
	}
	if fi, err := os.Stat(cfg.Dest); err != nil || !fi.IsDir() {
		fmt.Fprintf(stdout, "Directory %s does not exist.\n", cfg.Dest)
		return 0
	}
	if !playlist.IsRemote(cfg.Playlist) {
		if fi, err := os.Stat(cfg.Playlist); err != nil || fi.IsDir() {
			fmt.Fprintf(stdout, "Playlist file %s not found.\n", cfg.Playlist)
			return 0
		}
	}

	httpOpts := httpclient.Options{
		ConnectTimeout: cfg.ConnectTimeout,
		HeaderTimeout:  cfg.HeaderTimeout,
		Proxy:          cfg.Proxy,
		NoProxy:        cfg.NoProxy,
	}
	m := metrics.New()
	dl := &download.Downloader{
		Client:      httpclient.ForDownloads(httpOpts),
		MaxAttempts: cfg.MaxAttempts,
		ChunkSize:   cfg.ChunkSize,
		UserAgent:   cfg.UserAgent,
		Limiter:     download.NewLimiter(cfg.RateLimit),
		Progress:    progress.New(cfg.Progress, stdout),
		Observer:    m,
	}
	runner := &grabber.Runner{
		Base:    cfg.Dest,
		Fetcher: dl,
		Client:  httpclient.ForPlaylist(httpOpts),
		Metrics: m,
		Strict:  cfg.StrictMetadata,
		Out:     stdout,
	}
	if cfg.HistoryDB != "" {
		store, err := history.Open(cfg.HistoryDB)
		if err != nil {
			log.Printf("History %s disabled: %v", cfg.HistoryDB, err)
		} else {
			defer store.Close()
			runner.Recorder = store
		}
	}

	log.Printf("Reading %s into %s", cfg.Playlist, cfg.Dest)
	sum, err := runner.Run(ctx, cfg.Playlist)
	if cfg.MetricsFile != "" {
		if werr := m.WriteTextfile(cfg.MetricsFile, time.Now()); werr != nil {
			log.Printf("Write metrics %s: %v", cfg.MetricsFile, werr)
		}
	}
	switch {
	case errors.Is(err, context.Canceled):
		log.Printf("Interrupted: %s", sum)
		return 0
	case err != nil:
		log.Printf("Run failed: %v", err)
		return 1
	}
	log.Printf("Done: %s", sum)
	return 0
}

// promptDest asks for the base directory on out and reads one line from in.
func promptDest(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Enter the directory to download files into: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		if err == nil || errors.Is(err, io.EOF) {
			return "", errors.New("empty input")
		}
		return "", err
	}
	return line, nil
}

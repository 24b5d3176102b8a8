package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultPlaylist is read from the working directory when no playlist is configured.
const DefaultPlaylist = "playlist.m3u"

// Config holds downloader settings. Load reads it from VODGRAB_* environment variables;
// command-line flags override individual fields afterwards.
type Config struct {
	Playlist string // local path or http(s) URL
	Dest     string // base directory; empty means prompt

	// Download
	MaxAttempts    int
	ChunkSize      int
	UserAgent      string
	ConnectTimeout time.Duration
	HeaderTimeout  time.Duration
	Proxy          string // overrides HTTP(S)_PROXY when set
	NoProxy        string
	RateLimit      int // bytes per second; 0 = unlimited

	// StrictMetadata drops URL lines that follow a failed #EXTINF instead of
	// pairing them with the previous entry.
	StrictMetadata bool

	// Outputs
	HistoryDB   string // SQLite ledger path; "" = disabled
	MetricsFile string // Prometheus textfile path; "" = disabled
	Progress    string // "auto" | "bar" | "lines" | "off"
}

// Load reads config from environment. Call LoadEnvFile(".env") before Load() to use a .env file.
func Load() *Config {
	c := &Config{
		Playlist:       getEnv("VODGRAB_PLAYLIST", DefaultPlaylist),
		Dest:           os.Getenv("VODGRAB_DEST"),
		MaxAttempts:    getEnvInt("VODGRAB_MAX_ATTEMPTS", 4),
		ChunkSize:      getEnvInt("VODGRAB_CHUNK_SIZE", 8<<10),
		UserAgent:      getEnv("VODGRAB_USER_AGENT", "vodgrab/1.0"),
		ConnectTimeout: getEnvDuration("VODGRAB_CONNECT_TIMEOUT", 15*time.Second),
		HeaderTimeout:  getEnvDuration("VODGRAB_HEADER_TIMEOUT", 30*time.Second),
		Proxy:          os.Getenv("VODGRAB_PROXY"),
		NoProxy:        os.Getenv("VODGRAB_NO_PROXY"),
		RateLimit:      getEnvInt("VODGRAB_RATE_LIMIT", 0),
		StrictMetadata: getEnvBool("VODGRAB_STRICT_METADATA", false),
		HistoryDB:      os.Getenv("VODGRAB_HISTORY_DB"),
		MetricsFile:    os.Getenv("VODGRAB_METRICS_FILE"),
		Progress:       getEnvProgress("VODGRAB_PROGRESS", "auto"),
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 4
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 8 << 10
	}
	if c.RateLimit < 0 {
		c.RateLimit = 0
	}
	return c
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return defaultVal
		}
		return n
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvProgress returns "auto", "bar", "lines" or "off"; anything else falls back to defaultVal.
func getEnvProgress(key, defaultVal string) string {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch v {
	case "auto", "bar", "lines", "off":
		return v
	case "none", "0", "false", "no":
		return "off"
	}
	return defaultVal
}

package httpclient

import (
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http/httpproxy"
)

const (
	DefaultConnectTimeout  = 15 * time.Second
	DefaultHeaderTimeout   = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	DefaultPlaylistTimeout = 60 * time.Second
	MaxIdleConnsPerHost    = 4
)

// Options tunes the transport shared by the playlist fetch and the downloader.
// Zero values are replaced with the defaults above.
type Options struct {
	ConnectTimeout time.Duration
	HeaderTimeout  time.Duration
	// Proxy is used for both http and https requests when set; otherwise the
	// HTTP_PROXY / HTTPS_PROXY / NO_PROXY environment applies.
	Proxy   string
	NoProxy string
}

func (o *Options) applyDefaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.HeaderTimeout <= 0 {
		o.HeaderTimeout = DefaultHeaderTimeout
	}
}

// ProxyFunc returns the proxy selector for o.
func (o Options) ProxyFunc() func(*url.URL) (*url.URL, error) {
	cfg := httpproxy.FromEnvironment()
	if o.Proxy != "" {
		cfg.HTTPProxy = o.Proxy
		cfg.HTTPSProxy = o.Proxy
	}
	if o.NoProxy != "" {
		cfg.NoProxy = o.NoProxy
	}
	return cfg.ProxyFunc()
}

func newTransport(o Options) *http.Transport {
	pf := o.ProxyFunc()
	return &http.Transport{
		Proxy: func(r *http.Request) (*url.URL, error) { return pf(r.URL) },
		DialContext: (&net.Dialer{
			Timeout:   o.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   o.ConnectTimeout,
		ResponseHeaderTimeout: o.HeaderTimeout,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   MaxIdleConnsPerHost,
		IdleConnTimeout:       DefaultIdleConnTimeout,
	}
}

// ForDownloads returns a client with no overall timeout: large files may stream for
// a long time, so only connect and response-header phases are bounded.
func ForDownloads(o Options) *http.Client {
	o.applyDefaults()
	return &http.Client{Transport: newTransport(o)}
}

// ForPlaylist returns a client with an overall timeout for fetching a remote playlist.
func ForPlaylist(o Options) *http.Client {
	o.applyDefaults()
	return &http.Client{Timeout: DefaultPlaylistTimeout, Transport: newTransport(o)}
}

// IsHTTPOrHTTPS returns true if u is a valid URL with scheme http or https.
// Used to reject file://, ftp://, and other schemes before a request is sent.
func IsHTTPOrHTTPS(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	s := parsed.Scheme
	return (s == "http" || s == "https") && parsed.Host != ""
}

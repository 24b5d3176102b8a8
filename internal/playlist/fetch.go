package playlist

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
)

const userAgent = "vodgrab/1.0"

// Fetch downloads the playlist at url and parses it in a streaming fashion.
// Brotli and gzip response encodings are decoded.
func Fetch(ctx context.Context, client *http.Client, url string, fn func(Media) error) (Stats, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Stats{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Encoding", "br, gzip")
	resp, err := client.Do(req)
	if err != nil {
		return Stats{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Stats{}, errStatusCode(resp.StatusCode)
	}
	body, err := decodeBody(resp)
	if err != nil {
		return Stats{}, err
	}
	return Parse(body, fn)
}

func decodeBody(resp *http.Response) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "br":
		return brotli.NewReader(resp.Body), nil
	case "gzip":
		return gzip.NewReader(resp.Body)
	default:
		return resp.Body, nil
	}
}

// IsRemote reports whether source names an http(s) playlist rather than a local file.
func IsRemote(source string) bool {
	s := strings.ToLower(source)
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Open parses source, fetching it with client when it is an http(s) URL.
func Open(ctx context.Context, client *http.Client, source string, fn func(Media) error) (Stats, error) {
	if IsRemote(source) {
		return Fetch(ctx, client, source, fn)
	}
	return ParseFile(source, fn)
}

type errStatusCode int

func (e errStatusCode) Error() string {
	return "unexpected status: " + strconv.Itoa(int(e))
}

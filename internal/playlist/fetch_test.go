package playlist

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andybalholm/brotli"
)

const remoteM3U = `#EXTM3U
#EXTINF:-1 tvg-name="Remote Show S01 E01" group-title="Net"
http://upstream.example/ep1.mp4
`

func TestFetch_plain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != userAgent {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "audio/x-mpegurl")
		w.Write([]byte(remoteM3U))
	}))
	defer srv.Close()

	var got []Media
	if _, err := Fetch(context.Background(), srv.Client(), srv.URL, func(m Media) error {
		got = append(got, m)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Entry.Group != "Net" {
		t.Errorf("got %+v", got)
	}
}

func TestFetch_encodings(t *testing.T) {
	var brBuf, gzBuf bytes.Buffer
	bw := brotli.NewWriter(&brBuf)
	bw.Write([]byte(remoteM3U))
	bw.Close()
	gw := gzip.NewWriter(&gzBuf)
	gw.Write([]byte(remoteM3U))
	gw.Close()

	tests := []struct {
		encoding string
		body     []byte
	}{
		{"br", brBuf.Bytes()},
		{"gzip", gzBuf.Bytes()},
	}
	for _, tt := range tests {
		t.Run(tt.encoding, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Encoding", tt.encoding)
				w.Write(tt.body)
			}))
			defer srv.Close()
			n := 0
			if _, err := Fetch(context.Background(), srv.Client(), srv.URL, func(Media) error { n++; return nil }); err != nil {
				t.Fatal(err)
			}
			if n != 1 {
				t.Errorf("media count = %d, want 1", n)
			}
		})
	}
}

func TestFetch_non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	_, err := Fetch(context.Background(), srv.Client(), srv.URL, func(Media) error { return nil })
	if err == nil || err.Error() != "unexpected status: 404" {
		t.Errorf("err = %v", err)
	}
}

func TestIsRemote(t *testing.T) {
	tests := map[string]bool{
		"http://h/p.m3u":  true,
		"HTTPS://h/p.m3u": true,
		"playlist.m3u":    false,
		"/tmp/http.m3u":   false,
	}
	for in, want := range tests {
		if got := IsRemote(in); got != want {
			t.Errorf("IsRemote(%q) = %v, want %v", in, got, want)
		}
	}
}

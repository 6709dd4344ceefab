package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

type mockPoster struct {
	id       string
	err      error
	calls    int
	body     []byte
	filename string
	ctype    string
	tmpPath  string
}

func (m *mockPoster) UploadMedia(_ context.Context, r io.Reader, filename, contentType string) (string, error) {
	m.calls++
	m.filename = filename
	m.ctype = contentType
	if f, ok := r.(*os.File); ok {
		m.tmpPath = f.Name()
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.body = data
	if m.err != nil {
		return "", m.err
	}
	return m.id, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("temp dir not empty: %d entries left behind", len(entries))
	}
}

func newImageServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestUpload_Success(t *testing.T) {
	srv := newImageServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngBytes)
	})
	dir := t.TempDir()
	poster := &mockPoster{id: "media-1"}
	u := New(poster, WithTempDir(dir), WithLogger(discardLogger()))

	id, ok := u.Upload(context.Background(), srv.URL+"/img/market-7.png")
	if !ok || id != "media-1" {
		t.Fatalf("Upload() = (%q, %v), want (media-1, true)", id, ok)
	}
	if !bytes.Equal(poster.body, pngBytes) {
		t.Errorf("uploaded %d bytes, want %d", len(poster.body), len(pngBytes))
	}
	if poster.filename != "market-7.png" {
		t.Errorf("filename = %q, want market-7.png", poster.filename)
	}
	if poster.ctype != "image/png" {
		t.Errorf("content type = %q, want image/png", poster.ctype)
	}
	if poster.tmpPath == "" {
		t.Fatal("poster did not receive the temp file")
	}
	if _, err := os.Stat(poster.tmpPath); !os.IsNotExist(err) {
		t.Errorf("temp file %s still exists", poster.tmpPath)
	}
	assertDirEmpty(t, dir)
}

func TestUpload_SniffsContentType(t *testing.T) {
	srv := newImageServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(pngBytes)
	})
	poster := &mockPoster{id: "m"}
	u := New(poster, WithTempDir(t.TempDir()), WithLogger(discardLogger()))

	if _, ok := u.Upload(context.Background(), srv.URL+"/x"); !ok {
		t.Fatal("Upload failed")
	}
	if poster.ctype != "image/png" {
		t.Errorf("content type = %q, want image/png", poster.ctype)
	}
}

func TestUpload_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		opts    []Option
		poster  *mockPoster
		upload  bool
	}{
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.NotFound(w, r)
			},
			poster: &mockPoster{id: "x"},
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			poster: &mockPoster{id: "x"},
		},
		{
			name: "oversize",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "image/png")
				w.Write(pngBytes)
			},
			opts:   []Option{WithMaxBytes(16)},
			poster: &mockPoster{id: "x"},
		},
		{
			name: "not an image",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				w.Write([]byte("<html></html>"))
			},
			poster: &mockPoster{id: "x"},
		},
		{
			name: "empty body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "image/png")
			},
			poster: &mockPoster{id: "x"},
		},
		{
			name: "upload rejected",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "image/png")
				w.Write(pngBytes)
			},
			poster: &mockPoster{err: errors.New("media rejected")},
			upload: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newImageServer(t, tt.handler)
			dir := t.TempDir()
			opts := append([]Option{WithTempDir(dir), WithLogger(discardLogger())}, tt.opts...)
			u := New(tt.poster, opts...)

			id, ok := u.Upload(context.Background(), srv.URL+"/img.png")
			if ok || id != "" {
				t.Errorf("Upload() = (%q, %v), want failure", id, ok)
			}
			if tt.upload && tt.poster.calls != 1 {
				t.Errorf("poster calls = %d, want 1", tt.poster.calls)
			}
			if !tt.upload && tt.poster.calls != 0 {
				t.Errorf("poster called %d times for a failed fetch", tt.poster.calls)
			}
			assertDirEmpty(t, dir)
		})
	}
}

func TestUpload_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := newImageServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	defer close(release)

	dir := t.TempDir()
	poster := &mockPoster{id: "x"}
	u := New(poster, WithTempDir(dir), WithFetchTimeout(50*time.Millisecond), WithLogger(discardLogger()))

	start := time.Now()
	_, ok := u.Upload(context.Background(), srv.URL+"/slow.png")
	if ok {
		t.Fatal("Upload succeeded against a hanging server")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Upload took %v, fetch timeout not applied", elapsed)
	}
	if poster.calls != 0 {
		t.Error("poster called after fetch timeout")
	}
	assertDirEmpty(t, dir)
}

func TestUpload_RejectsUnsupportedURL(t *testing.T) {
	poster := &mockPoster{id: "x"}
	u := New(poster, WithTempDir(t.TempDir()), WithLogger(discardLogger()))

	for _, raw := range []string{"", "   ", "file:///etc/passwd", "ftp://host/img.png"} {
		if _, ok := u.Upload(context.Background(), raw); ok {
			t.Errorf("Upload(%q) succeeded", raw)
		}
	}
	if poster.calls != 0 {
		t.Errorf("poster calls = %d, want 0", poster.calls)
	}
}

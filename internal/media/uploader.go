// Package media fetches market images and hands them to the posting platform.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
)

const (
	DefaultFetchTimeout = 30 * time.Second
	DefaultMaxBytes     = 5 << 20

	sniffLen = 512
)

var errTooLarge = errors.New("image exceeds size limit")

// MediaPoster submits media bytes to the platform and returns its handle.
type MediaPoster interface {
	UploadMedia(ctx context.Context, r io.Reader, filename, contentType string) (string, error)
}

// Uploader downloads an image into a temp file and uploads it through a
// MediaPoster. Failures are logged and reported as ok=false, never returned.
type Uploader struct {
	poster     MediaPoster
	httpClient *http.Client
	timeout    time.Duration
	maxBytes   int64
	tempDir    string
	logger     *slog.Logger
}

// Option customises an Uploader.
type Option func(*Uploader)

// WithFetchTimeout bounds the image download.
func WithFetchTimeout(d time.Duration) Option {
	return func(u *Uploader) {
		if d > 0 {
			u.timeout = d
		}
	}
}

// WithMaxBytes caps the accepted image size.
func WithMaxBytes(n int64) Option {
	return func(u *Uploader) {
		if n > 0 {
			u.maxBytes = n
		}
	}
}

// WithTempDir sets where transient image files are written (default os.TempDir).
func WithTempDir(dir string) Option {
	return func(u *Uploader) { u.tempDir = dir }
}

// WithHTTPClient replaces the client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(u *Uploader) { u.httpClient = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(u *Uploader) {
		if l != nil {
			u.logger = l
		}
	}
}

func New(poster MediaPoster, opts ...Option) *Uploader {
	u := &Uploader{
		poster:     poster,
		httpClient: &http.Client{},
		timeout:    DefaultFetchTimeout,
		maxBytes:   DefaultMaxBytes,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload fetches imageURL and uploads it. The temp file is closed and
// removed before Upload returns, whatever the outcome.
func (u *Uploader) Upload(ctx context.Context, imageURL string) (string, bool) {
	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" {
		return "", false
	}
	parsed, err := url.Parse(imageURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		u.logger.Warn("skipping image with unsupported url", "url", imageURL)
		return "", false
	}

	tmp, err := os.CreateTemp(u.tempDir, "spredd-media-*")
	if err != nil {
		u.logger.Error("creating temp file for image", "error", err)
		return "", false
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	contentType, err := u.download(ctx, imageURL, tmp)
	if err != nil {
		u.logger.Warn("image fetch failed", "url", imageURL, "error", err)
		return "", false
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		u.logger.Error("rewinding image file", "error", err)
		return "", false
	}

	mediaID, err := u.poster.UploadMedia(ctx, tmp, filenameFor(parsed), contentType)
	if err != nil {
		u.logger.Warn("media upload failed", "url", imageURL, "error", err)
		return "", false
	}
	u.logger.Debug("media uploaded", "url", imageURL, "media_id", mediaID)
	return mediaID, true
}

// download streams the image body into dst and returns its content type.
func (u *Uploader) download(ctx context.Context, imageURL string, dst *os.File) (string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if resp.ContentLength > u.maxBytes {
		return "", errTooLarge
	}

	n, err := io.Copy(dst, io.LimitReader(resp.Body, u.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("reading image: %w", err)
	}
	if n > u.maxBytes {
		return "", errTooLarge
	}
	if n == 0 {
		return "", errors.New("empty image body")
	}

	contentType := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	contentType = strings.TrimSpace(contentType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType, err = sniff(dst)
		if err != nil {
			return "", err
		}
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("unsupported content type %q", contentType)
	}
	return contentType, nil
}

func sniff(f *os.File) (string, error) {
	buf := make([]byte, sniffLen)
	n, err := f.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("sniffing image: %w", err)
	}
	ct := http.DetectContentType(buf[:n])
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return ct, nil
}

func filenameFor(u *url.URL) string {
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "image"
	}
	return name
}

// Package download streams remote fixtures to local disk.
package download

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/loykin/harness/internal/errs"
	"github.com/loykin/harness/internal/logger"
	"github.com/loykin/harness/internal/metrics"
)

// Downloader fetches URLs with plain GET requests. Nothing is retried.
type Downloader struct {
	Client *http.Client
	Logger *slog.Logger
}

// New returns a Downloader backed by a pooled client with no global state.
func New() *Downloader {
	return &Downloader{Client: cleanhttp.DefaultPooledClient()}
}

func (d *Downloader) client() *http.Client {
	if d != nil && d.Client != nil {
		return d.Client
	}
	return cleanhttp.DefaultClient()
}

func (d *Downloader) log() *slog.Logger {
	if d != nil {
		return logger.Or(d.Logger)
	}
	return logger.L()
}

// Fetch downloads url into dest, creating or truncating it, and returns the
// number of bytes written. A partial file may remain when the body stream fails.
func (d *Downloader) Fetch(ctx context.Context, url, dest string) (n int64, err error) {
	log := d.log().With("url", url, "path", dest)
	log.Info("downloading file")
	defer func() {
		metrics.ObserveDownload(n, err)
		if err != nil {
			log.Error("error downloading", "error", err)
			return
		}
		log.Info("successfully downloaded file", "bytes", n)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, &errs.NetworkError{URL: url, Err: err}
	}
	resp, err := d.client().Do(req)
	if err != nil {
		return 0, &errs.NetworkError{URL: url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &errs.NetworkError{URL: url, StatusCode: resp.StatusCode, Err: errs.ErrBadStatus}
	}

	f, err := os.Create(dest) // #nosec G304 -- destination chosen by the test
	if err != nil {
		return 0, &errs.FileWriteError{Path: dest, Err: err}
	}
	w := &trackingWriter{w: f}
	n, err = io.Copy(w, resp.Body)
	if err != nil {
		_ = f.Close()
		if w.err != nil {
			return n, &errs.FileWriteError{Path: dest, Err: w.err}
		}
		return n, &errs.NetworkError{URL: url, Err: err}
	}
	if err := f.Close(); err != nil {
		return n, &errs.FileWriteError{Path: dest, Err: err}
	}
	return n, nil
}

// Download runs Fetch in a goroutine and reports through done exactly once.
// The first completion event wins, whether it is an error or a success.
func (d *Downloader) Download(ctx context.Context, url, dest string, done func(error)) {
	finish := Once(done)
	go func() {
		_, err := d.Fetch(ctx, url, dest)
		finish(err)
	}()
}

// Once wraps done so that only its first invocation has any effect.
func Once(done func(error)) func(error) {
	var once sync.Once
	return func(err error) {
		once.Do(func() {
			if done != nil {
				done(err)
			}
		})
	}
}

// trackingWriter remembers write failures so they can be told apart from
// read failures on the response body.
type trackingWriter struct {
	w   io.Writer
	err error
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil {
		t.err = err
	}
	return n, err
}

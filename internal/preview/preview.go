// Package preview turns image URLs into small inline thumbnails for
// completion documentation.
//
// Thumbnails are resized server side through COS image processing, then
// downloaded with a hard size ceiling and returned as a base64 data URI.
// Every failure degrades to showing the plain URL.
package preview

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/koustreak/cosbrowser/internal/errs"
	"github.com/koustreak/cosbrowser/internal/logger"
	"github.com/koustreak/cosbrowser/internal/metrics"
)

const (
	// DefaultMaxBytes is the largest thumbnail accepted.
	DefaultMaxBytes = 100 * 1024
	// DefaultTimeout bounds one thumbnail request end to end.
	DefaultTimeout = 5 * time.Second
	// DefaultMemoSize is the number of resolved previews kept in memory.
	DefaultMemoSize = 256
	// ThumbnailParams asks COS for a 200px wide, 50% quality rendition.
	ThumbnailParams = "imageMogr2/thumbnail/200x/quality/50"
	// FallbackContentType is used when the response has no Content-Type.
	FallbackContentType = "image/png"
)

// Fallback reasons.
const (
	ReasonTooLarge = "too_large"
	ReasonError    = "error"
)

// Preview is the outcome of resolving one image URL.
type Preview struct {
	// URL is the original image URL.
	URL string `json:"url"`
	// DataURI holds the thumbnail when it was fetched.
	DataURI string `json:"dataUri,omitempty"`
	// Fallback is set when no thumbnail is available; show URL instead.
	Fallback bool `json:"fallback"`
	// Reason explains a fallback: "too_large" or "error".
	Reason string `json:"reason,omitempty"`
}

// Markdown renders the preview as completion documentation.
func (p Preview) Markdown() string {
	if p.Fallback || p.DataURI == "" {
		return "📷 " + p.URL
	}
	return "**Image preview**\n\n![preview](" + p.DataURI + ")"
}

// Options tunes a Fetcher. Zero values select the defaults.
type Options struct {
	Client   *http.Client
	MaxBytes int64
	Timeout  time.Duration
	MemoSize int

	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// Fetcher downloads bounded thumbnails. It is safe for concurrent use.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	timeout  time.Duration
	memo     *lru.Cache[string, Preview]
	log      *logger.Logger
	metrics  *metrics.Metrics
}

// New returns a Fetcher.
func New(opts Options) *Fetcher {
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	size := opts.MemoSize
	if size <= 0 {
		size = DefaultMemoSize
	}
	// lru.New only fails for a non-positive size.
	memo, _ := lru.New[string, Preview](size)

	return &Fetcher{
		client:   client,
		maxBytes: maxBytes,
		timeout:  timeout,
		memo:     memo,
		log:      logger.OrGlobal(opts.Logger).Component("preview"),
		metrics:  opts.Metrics,
	}
}

// ThumbnailURL appends the image processing parameters to src.
func ThumbnailURL(src string) string {
	sep := "?"
	if strings.Contains(src, "?") {
		sep = "&"
	}
	return src + sep + ThumbnailParams
}

// Fetch downloads url and returns it as a data URI.
//
// A declared Content-Length above the ceiling fails with errs.ErrKindTooLarge
// before any body byte is read; without a usable length the body is counted
// while streaming and the same error is returned once the ceiling is passed.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errs.Wrap(errs.ErrKindInvalidInput, "bad preview url", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", mapError(err, "preview request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		kind := errs.ErrKindQueryFailed
		if resp.StatusCode == http.StatusNotFound {
			kind = errs.ErrKindNotFound
		}
		return "", errs.New(kind, fmt.Sprintf("preview request returned HTTP %d", resp.StatusCode))
	}

	if resp.ContentLength > f.maxBytes {
		return "", errs.New(errs.ErrKindTooLarge, fmt.Sprintf("preview is %d bytes, limit %d", resp.ContentLength, f.maxBytes))
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return "", mapError(err, "preview download failed")
	}
	if n > f.maxBytes {
		return "", errs.New(errs.ErrKindTooLarge, fmt.Sprintf("preview exceeds %d bytes", f.maxBytes))
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = FallbackContentType
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Resolve returns the thumbnail preview for imageURL. It never fails: any
// error or an oversized thumbnail yields a fallback preview.
func (f *Fetcher) Resolve(ctx context.Context, imageURL string) Preview {
	return f.ResolveFrom(ctx, imageURL, ThumbnailURL(imageURL))
}

// ResolveFrom is Resolve with the download taken from fetchURL as is, for
// example a presigned URL of a private object. The result is memoised
// under imageURL.
func (f *Fetcher) ResolveFrom(ctx context.Context, imageURL, fetchURL string) Preview {
	if p, ok := f.memo.Get(imageURL); ok {
		f.metrics.Preview("memo")
		return p
	}

	data, err := f.Fetch(ctx, fetchURL)
	switch {
	case err == nil:
		p := Preview{URL: imageURL, DataURI: data}
		f.memo.Add(imageURL, p)
		f.metrics.Preview("ok")
		f.log.DebugWith("preview loaded", map[string]interface{}{
			"url":   imageURL,
			"bytes": len(data),
		})
		return p
	case errs.IsTooLarge(err):
		p := Preview{URL: imageURL, Fallback: true, Reason: ReasonTooLarge}
		f.memo.Add(imageURL, p)
		f.metrics.Preview(ReasonTooLarge)
		f.log.DebugWith("preview too large, showing url", map[string]interface{}{"url": imageURL})
		return p
	default:
		f.metrics.Preview(ReasonError)
		f.log.WarnWith("preview failed, showing url", err, map[string]interface{}{"url": imageURL})
		return Preview{URL: imageURL, Fallback: true, Reason: ReasonError}
	}
}

// Purge drops every memoised preview.
func (f *Fetcher) Purge() {
	f.memo.Purge()
}

func mapError(err error, msg string) *errs.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}
	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}

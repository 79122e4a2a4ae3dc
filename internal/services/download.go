package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/desertthunder/trackline/internal/shared"
)

// Downloader streams remote media without buffering it in memory.
type Downloader struct {
	client  *resty.Client
	limiter *rate.Limiter
}

// NewDownloader creates a downloader. Media can be large, so the timeout is generous.
func NewDownloader(timeout time.Duration, limiter *rate.Limiter) *Downloader {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Downloader{client: newClient("", timeout), limiter: limiter}
}

// Download copies the body at url into w and returns the number of bytes written.
func (d *Downloader) Download(ctx context.Context, url string, w io.Writer) (int64, error) {
	if url == "" {
		return 0, fmt.Errorf("%w: download url", shared.ErrMissingArgument)
	}
	if err := throttle(ctx, d.limiter); err != nil {
		return 0, err
	}

	resp, err := d.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return 0, requestError(ctx, "download", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if status := resp.StatusCode(); status < 200 || status >= 300 {
		sentinel := shared.ErrAPIRequest
		if status == http.StatusTooManyRequests || status >= 500 {
			sentinel = shared.ErrServiceUnavailable
		}
		return 0, fmt.Errorf("%w: download of %s returned status %d", sentinel, url, status)
	}

	n, err := io.Copy(w, body)
	if err != nil {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		return n, fmt.Errorf("%w: download interrupted after %d bytes: %v", shared.ErrServiceUnavailable, n, err)
	}
	return n, nil
}

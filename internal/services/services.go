package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/desertthunder/trackline/internal/shared"
)

const (
	userAgent      = "trackline/1.0"
	defaultTimeout = 30 * time.Second
)

// NewLimiter returns a limiter allowing rps requests per second with a burst of one.
// A non-positive rps disables limiting.
func NewLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

func newClient(baseURL string, timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent)
	if baseURL != "" {
		c.SetBaseURL(strings.TrimRight(baseURL, "/"))
	}
	return c
}

// throttle blocks until the limiter admits one request. A nil limiter never blocks.
func throttle(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// requestError classifies a transport error returned by resty.
func requestError(ctx context.Context, service string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %s request failed: %v", shared.ErrServiceUnavailable, service, err)
}

// responseError converts a non-2xx response into a wrapped sentinel error.
//
// 429 and 5xx responses are reported as [shared.ErrServiceUnavailable], the rest as [shared.ErrAPIRequest].
func responseError(service string, resp *resty.Response) error {
	status := resp.StatusCode()
	detail := strings.TrimSpace(resp.String())
	if len(detail) > 200 {
		detail = detail[:200]
	}

	sentinel := shared.ErrAPIRequest
	if status == http.StatusTooManyRequests || status >= 500 {
		sentinel = shared.ErrServiceUnavailable
	}
	if detail == "" {
		return fmt.Errorf("%w: %s returned status %d", sentinel, service, status)
	}
	return fmt.Errorf("%w: %s returned status %d: %s", sentinel, service, status, detail)
}

// IsRetryable reports whether a provider error is transient.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, shared.ErrServiceUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

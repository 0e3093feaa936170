package httputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/banshee-data/postexperiment/internal/monitoring"
)

// StatusError is returned by Fetch for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// FetchOptions control retries in Fetch. Zero values select the defaults.
type FetchOptions struct {
	Attempts uint
	Delay    time.Duration
	MaxBytes int64
}

const (
	defaultAttempts = 3
	defaultDelay    = 500 * time.Millisecond
	defaultMaxBytes = 32 << 20
)

// Fetch downloads url and returns the body. Network errors and 5xx/429
// responses are retried with exponential backoff; other client errors are
// returned immediately.
func Fetch(ctx context.Context, client HTTPClient, url string, opts FetchOptions) ([]byte, error) {
	if opts.Attempts == 0 {
		opts.Attempts = defaultAttempts
	}
	if opts.Delay == 0 {
		opts.Delay = defaultDelay
	}
	if opts.MaxBytes == 0 {
		opts.MaxBytes = defaultMaxBytes
	}

	body, err := retry.DoWithData(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, retry.Unrecoverable(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			serr := &StatusError{URL: url, StatusCode: resp.StatusCode}
			if !serr.Temporary() {
				return nil, retry.Unrecoverable(serr)
			}
			return nil, serr
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, opts.MaxBytes+1))
		if err != nil {
			return nil, err
		}
		if int64(len(data)) > opts.MaxBytes {
			return nil, retry.Unrecoverable(fmt.Errorf("GET %s: response exceeds %d bytes", url, opts.MaxBytes))
		}
		return data, nil
	},
		retry.Context(ctx),
		retry.Attempts(opts.Attempts),
		retry.Delay(opts.Delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			monitoring.Logf("fetch %s: attempt %d/%d failed: %v", url, attempt+1, opts.Attempts, err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	return body, nil
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var serr *StatusError
	return errors.As(err, &serr) && serr.StatusCode == code
}

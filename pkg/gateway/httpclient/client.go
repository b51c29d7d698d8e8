package httpclient

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/synaptica-ai/proof-portal/pkg/common/logger"
)

// New creates an HTTP client for calls to sibling services.
func New(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// Retry runs fn up to attempts times with exponential backoff capped at
// maxDelay. Errors rejected by retriable end the loop early.
func Retry(ctx context.Context, attempts int, baseDelay, maxDelay time.Duration, retriable func(error) bool, fn func() error) error {
	var err error
	delay := baseDelay
	for i := 0; i < attempts || i == 0; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = fn()
		if err == nil {
			return nil
		}
		if retriable != nil && !retriable(err) {
			return err
		}
		if i >= attempts-1 {
			break
		}

		logger.Log.WithError(err).WithField("attempt", i+1).Debug("retrying outbound call")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}

	return err
}

// IsRetriable reports timeouts and 5xx responses.
func IsRetriable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// StatusError is a non-2xx response from a sibling service.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return "unexpected status " + http.StatusText(e.Code)
}

package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// RetryConfig controls the exponential backoff loop used by DoWithRetry.
type RetryConfig struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	Jitter         bool
	RetryFunc      func(resp *http.Response, err error) bool
	CircuitBreaker *CircuitBreaker
}

// DefaultRetryConfig returns the retry profile used for collaborator calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
		RetryFunc:  DefaultShouldRetry,
	}
}

// backoff returns the wait before the given attempt (attempt >= 1).
// Jitter spreads co-scheduled pass workers so they do not hammer a
// recovering collaborator in lockstep.
func (c RetryConfig) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt-1)))
	if delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	if c.Jitter {
		delay += time.Duration(float64(delay) * 0.1 * (2*rand.Float64() - 1))
	}
	return delay
}

// DefaultShouldRetry retries transport errors and the status codes that
// signal a transient upstream condition. 4xx other than 429 is the
// caller's problem and is returned as-is.
func DefaultShouldRetry(resp *http.Response, err error) bool {
	if err != nil || resp == nil {
		return true
	}
	switch resp.StatusCode {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// DoWithRetry executes req with exponential backoff. When a circuit
// breaker is configured the whole retry loop counts as one call against
// it, so a flapping collaborator trips the breaker instead of absorbing
// MaxRetries attempts per caller.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, config RetryConfig) (*http.Response, error) {
	if config.CircuitBreaker == nil {
		return retryAttempts(ctx, client, req, config)
	}

	var resp *http.Response
	var err error
	cbErr := config.CircuitBreaker.Call(func() error {
		resp, err = retryAttempts(ctx, client, req, config)
		if err != nil {
			return err
		}
		if resp != nil && resp.StatusCode >= 500 {
			return fmt.Errorf("server error: %d", resp.StatusCode)
		}
		return nil
	})
	// Call can fail without the attempt running at all (breaker open),
	// or because a 5xx was counted against the breaker. Either way the
	// caller gets an error, so release the response if one came back.
	if cbErr != nil && err == nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, cbErr
	}
	return resp, err
}

// bufferBody drains req.Body so each attempt can replay it. Returns nil
// for body-less requests.
func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	bodyBytes, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	_ = req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	req.ContentLength = int64(len(bodyBytes))
	req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(bodyBytes)), nil }
	return bodyBytes, nil
}

func retryAttempts(ctx context.Context, client *http.Client, req *http.Request, config RetryConfig) (*http.Response, error) {
	bodyBytes, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	var lastResp *http.Response
	var lastErr error
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(config.backoff(attempt)):
			}
		}

		// Each attempt gets a fresh request so the body is readable again.
		attemptReq := req.Clone(ctx)
		if bodyBytes != nil {
			attemptReq.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		lastResp, lastErr = client.Do(attemptReq)
		if !config.RetryFunc(lastResp, lastErr) {
			return lastResp, lastErr
		}
		if attempt == config.MaxRetries {
			break
		}
		// Drop the retried response; its connection goes back to the pool.
		if lastResp != nil && lastResp.Body != nil {
			lastResp.Body.Close()
		}
	}

	return lastResp, lastErr
}

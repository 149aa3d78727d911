package lookout

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/failsafe-go/failsafe-go"

	"flotilla/pkg/api/lookout"
	"flotilla/pkg/cache"
	"flotilla/pkg/clients"
	"flotilla/pkg/logging"
	"flotilla/pkg/models"
)

// Client calls the Lookout early-warning service. Signal fetches run through
// a failsafe executor (retry plus circuit breaker) and an optional
// read-through cache.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	serviceToken string
	logger       logging.Logger
	httpExecutor failsafe.Executor[*http.Response]
	shouldRetry  func(resp *http.Response, err error) bool
	cache        *cache.Cache
}

// Config wires the client's endpoint, credentials, resilience policies
// and optional cache.
type Config struct {
	BaseURL              string
	ServiceToken         string
	Timeout              time.Duration
	Logger               logging.Logger
	RetryConfig          *clients.RetryConfig
	CircuitBreakerConfig *clients.CircuitBreakerConfig
	Cache                *cache.Cache
}

// DefaultCacheOptions returns the cache profile for risk signals. One
// weekly pass consults the same client's signal once per channel, so
// short TTLs with stale-while-revalidate absorb the fan-out without
// masking a fresh warning for long.
func DefaultCacheOptions() cache.Options {
	return cache.Options{
		TTL:                  2 * time.Minute,
		StaleWhileRevalidate: 5 * time.Minute,
		NegativeTTL:          30 * time.Second,
		MaxEntries:           4096,
	}
}

// NewClient builds a client with the failsafe executor assembled from the
// configured retry and breaker settings.
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	retryCfg := clients.DefaultRetryConfig()
	if config.RetryConfig != nil {
		retryCfg = *config.RetryConfig
	}
	execCfg := clients.HTTPExecutorConfig{
		MaxRetries:     retryCfg.MaxRetries,
		BaseDelay:      retryCfg.BaseDelay,
		MaxDelay:       retryCfg.MaxDelay,
		CircuitBreaker: config.CircuitBreakerConfig,
		ShouldRetry:    retryCfg.RetryFunc,
	}
	if execCfg.ShouldRetry == nil {
		execCfg.ShouldRetry = clients.DefaultShouldRetry
	}

	return &Client{
		baseURL: config.BaseURL,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: clients.DefaultTransport(),
		},
		serviceToken: config.ServiceToken,
		logger:       config.Logger,
		httpExecutor: clients.NewHTTPExecutor(execCfg),
		shouldRetry:  execCfg.ShouldRetry,
		cache:        config.Cache,
	}
}

// doRequest executes one logical request through the failsafe executor,
// rebuilding the request per attempt. A retried response's body is closed
// before the next attempt so connections return to the pool.
func (c *Client) doRequest(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	if c.httpExecutor == nil {
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		return c.httpClient.Do(req)
	}

	return clients.ExecuteHTTP(ctx, c.httpExecutor, func() (*http.Response, error) {
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if c.shouldRetry != nil && c.shouldRetry(resp, err) {
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
		}
		return resp, err
	})
}

// getWithCache routes the fetch through the response cache when one is
// configured; a cacheless client just calls the loader.
func (c *Client) getWithCache(ctx context.Context, key string, loader func() (interface{}, bool, error)) (interface{}, bool, error) {
	if c.cache == nil {
		return loader()
	}
	return c.cache.Get(ctx, key, func(_ context.Context, _ string) (interface{}, bool, error) {
		return loader()
	})
}

// GetSignal retrieves the active risk signal for a client
func (c *Client) GetSignal(ctx context.Context, clientID string) (*models.RiskSignal, error) {
	key := "GetSignal:" + clientID
	val, ok, err := c.getWithCache(ctx, key, func() (interface{}, bool, error) {
		requestURL := fmt.Sprintf("%s/api/v1/signals/%s", c.baseURL, url.PathEscape(clientID))

		resp, err := c.doRequest(ctx, func(ctx context.Context) (*http.Request, error) {
			httpReq, err := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
			if err != nil {
				return nil, err
			}
			if c.serviceToken != "" {
				httpReq.Header.Set("Authorization", "Bearer "+c.serviceToken)
			}
			return httpReq, nil
		})
		if err != nil {
			clients.RecordCollaboratorError("lookout")
			return nil, false, fmt.Errorf("failed to call Lookout: %w", err)
		}
		defer resp.Body.Close()

		// Lookout answers 404 for clients it does not track. Cached as
		// a negative result so a pass over many channels asks once.
		if resp.StatusCode == http.StatusNotFound {
			return nil, false, nil
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			if c.logger != nil {
				c.logger.WithFields(logging.Fields{
					"status":    resp.StatusCode,
					"client_id": clientID,
					"response":  string(body),
				}).Error("Lookout signal fetch failed")
			}
			clients.RecordCollaboratorError("lookout")
			return nil, false, fmt.Errorf("signal fetch failed with status %d", resp.StatusCode)
		}

		var signal lookout.SignalResponse
		if err := json.NewDecoder(resp.Body).Decode(&signal); err != nil {
			clients.RecordCollaboratorError("lookout")
			return nil, false, fmt.Errorf("decode signal response: %w", err)
		}
		return &signal, true, nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("signal unavailable for client %s", clientID)
	}
	return val.(*models.RiskSignal), nil
}

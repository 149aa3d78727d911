package chandler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"flotilla/pkg/api/chandler"
	"flotilla/pkg/clients"
	"flotilla/pkg/ctxkeys"
	"flotilla/pkg/logging"
	"flotilla/pkg/models"
)

// Client calls chandler, the asset producer service, over its REST API.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	serviceToken string
	logger       logging.Logger
	retryConfig  clients.RetryConfig
}

// Config wires the client's endpoint, credentials and resilience policies.
type Config struct {
	BaseURL              string
	ServiceToken         string
	Timeout              time.Duration
	Logger               logging.Logger
	RetryConfig          *clients.RetryConfig
	CircuitBreakerConfig *clients.CircuitBreakerConfig
}

// NewClient builds a client with retry and breaker defaults applied.
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		// Collaborator calls are timeout-bounded; the guardrail layer
		// treats expiry as "signal unavailable", never as success.
		config.Timeout = 10 * time.Second
	}

	retryConfig := clients.DefaultRetryConfig()
	if config.RetryConfig != nil {
		retryConfig = *config.RetryConfig
	}

	if config.CircuitBreakerConfig != nil {
		retryConfig.CircuitBreaker = clients.NewCircuitBreaker(*config.CircuitBreakerConfig)
	}

	httpClient := &http.Client{
		Timeout:   config.Timeout,
		Transport: clients.DefaultTransport(),
	}

	return &Client{
		baseURL:      config.BaseURL,
		httpClient:   httpClient,
		serviceToken: config.ServiceToken,
		logger:       config.Logger,
		retryConfig:  retryConfig,
	}
}

// ListAssets retrieves the candidate assets for a client and channel
func (c *Client) ListAssets(ctx context.Context, clientID string, channel models.Channel) (*chandler.ListAssetsResponse, error) {
	params := url.Values{
		"client_id": {clientID},
		"channel":   {string(channel)},
	}
	requestURL := c.baseURL + "/api/v1/assets?" + params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build asset request: %w", err)
	}

	// Forward the caller's JWT when one rode in on the context, so
	// user-initiated previews keep the user's identity downstream.
	if jwtToken := ctxkeys.GetJWTToken(ctx); jwtToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+jwtToken)
	} else if c.serviceToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.serviceToken)
	}

	resp, err := clients.DoWithRetry(ctx, c.httpClient, httpReq, c.retryConfig)
	if err != nil {
		clients.RecordCollaboratorError("chandler")
		return nil, fmt.Errorf("failed to call Chandler: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if c.logger != nil {
			c.logger.WithFields(logging.Fields{
				"status":    resp.StatusCode,
				"client_id": clientID,
				"channel":   channel,
				"response":  string(body),
			}).Error("Chandler asset listing failed")
		}
		clients.RecordCollaboratorError("chandler")
		return nil, fmt.Errorf("asset listing failed with status %d", resp.StatusCode)
	}

	var assets chandler.ListAssetsResponse
	if err := json.NewDecoder(resp.Body).Decode(&assets); err != nil {
		clients.RecordCollaboratorError("chandler")
		return nil, fmt.Errorf("decode asset listing: %w", err)
	}

	return &assets, nil
}

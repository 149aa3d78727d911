package clients

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"flotilla/pkg/logging"
)

// CircuitBreakerState is the reduced state model exposed to callers and
// metrics.
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes the breaker guarding calls to a sibling
// service. Bosun runs one per collaborator so a dead chandler cannot trip
// the lookout breaker.
type CircuitBreakerConfig struct {
	// Name identifies the breaker in logs and metrics.
	Name string

	// MaxRequests is the number of successes required in half-open state
	// before the circuit closes again.
	MaxRequests uint32

	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration

	// FailureRatio trips the circuit once failures/total exceeds it.
	FailureRatio float64

	// MinRequests is the sample size required before the ratio is
	// evaluated, so a single cold-start failure cannot trip the circuit.
	MinRequests uint32

	// Logger receives state change warnings.
	Logger logging.Logger

	// OnStateChange is invoked on every transition.
	OnStateChange func(name string, from, to CircuitBreakerState)
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:         "default",
		MaxRequests:  1,
		Timeout:      15 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  10,
	}
}

func (cfg CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if cfg.Name == "" {
		cfg.Name = "circuit-breaker"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.FailureRatio == 0 {
		cfg.FailureRatio = 0.5
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 10
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	return cfg
}

// failureThreshold translates the ratio config into the absolute count
// failsafe-go expects, e.g. 50% of 10 requests trips at 5 failures.
func (cfg CircuitBreakerConfig) failureThreshold() uint {
	n := uint(float64(cfg.MinRequests) * cfg.FailureRatio)
	if n < 1 {
		n = 1
	}
	return n
}

func (cfg CircuitBreakerConfig) stateChangeListener() func(circuitbreaker.StateChangedEvent) {
	if cfg.Logger == nil && cfg.OnStateChange == nil {
		return nil
	}
	return func(event circuitbreaker.StateChangedEvent) {
		from := convertState(event.OldState)
		to := convertState(event.NewState)

		if cfg.Logger != nil {
			cfg.Logger.WithFields(logging.Fields{
				"circuit_breaker": cfg.Name,
				"from_state":      from.String(),
				"to_state":        to.String(),
			}).Warn("circuit breaker state change")
		}

		if cfg.OnStateChange != nil {
			cfg.OnStateChange(cfg.Name, from, to)
		}
	}
}

// CircuitBreaker wraps failsafe-go's breaker behind the reduced state model.
type CircuitBreaker struct {
	cb   circuitbreaker.CircuitBreaker[any]
	name string
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cfg = cfg.withDefaults()

	builder := circuitbreaker.NewBuilder[any]().
		WithFailureThresholdRatio(cfg.failureThreshold(), uint(cfg.MinRequests)).
		WithDelay(cfg.Timeout).
		WithSuccessThreshold(uint(cfg.MaxRequests))

	if listener := cfg.stateChangeListener(); listener != nil {
		builder = builder.OnStateChanged(listener)
	}

	return &CircuitBreaker{
		cb:   builder.Build(),
		name: cfg.Name,
	}
}

func convertState(state circuitbreaker.State) CircuitBreakerState {
	switch state {
	case circuitbreaker.ClosedState:
		return StateClosed
	case circuitbreaker.HalfOpenState:
		return StateHalfOpen
	case circuitbreaker.OpenState:
		return StateOpen
	default:
		return StateClosed
	}
}

// Call runs fn through the breaker. While the circuit is open it returns
// circuitbreaker.ErrOpen without invoking fn.
func (cb *CircuitBreaker) Call(fn func() error) error {
	_, err := failsafe.With(cb.cb).Get(func() (any, error) {
		return nil, fn()
	})
	return err
}

func (cb *CircuitBreaker) State() CircuitBreakerState {
	return convertState(cb.cb.State())
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// HTTPExecutorConfig assembles the failsafe policies for an HTTP client:
// bounded retries with backoff, optionally behind a circuit breaker.
type HTTPExecutorConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// CircuitBreaker, when set, guards the retried call.
	CircuitBreaker *CircuitBreakerConfig

	// ShouldRetry classifies a response as retryable.
	ShouldRetry func(resp *http.Response, err error) bool
}

func normalizeHTTPExecutorConfig(cfg HTTPExecutorConfig) HTTPExecutorConfig {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = DefaultShouldRetry
	}
	return cfg
}

// NewHTTPRetryPolicy builds the retry half of the executor.
//
//nolint:bodyclose // the [*http.Response] here is only a type parameter; nothing is fetched
func NewHTTPRetryPolicy(cfg HTTPExecutorConfig) retrypolicy.RetryPolicy[*http.Response] {
	cfg = normalizeHTTPExecutorConfig(cfg)

	return retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(resp *http.Response, err error) bool {
			// An open breaker stays open for its whole delay, so
			// retrying against it only burns backoff time.
			if errors.Is(err, circuitbreaker.ErrOpen) {
				return false
			}
			return cfg.ShouldRetry(resp, err)
		}).
		Build()
}

// NewHTTPExecutor combines the retry policy with a typed circuit breaker
// built from the same thresholds as CircuitBreakerConfig. Failures for the
// breaker are transport errors and 5xx responses.
//
//nolint:bodyclose // the [*http.Response] here is only a type parameter; nothing is fetched
func NewHTTPExecutor(cfg HTTPExecutorConfig) failsafe.Executor[*http.Response] {
	retry := NewHTTPRetryPolicy(cfg)

	if cfg.CircuitBreaker == nil {
		return failsafe.With(retry)
	}

	cbCfg := cfg.CircuitBreaker.withDefaults()
	builder := circuitbreaker.NewBuilder[*http.Response]().
		WithFailureThresholdRatio(cbCfg.failureThreshold(), uint(cbCfg.MinRequests)).
		WithDelay(cbCfg.Timeout).
		WithSuccessThreshold(uint(cbCfg.MaxRequests)).
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp != nil && resp.StatusCode >= 500
		})

	if listener := cbCfg.stateChangeListener(); listener != nil {
		builder = builder.OnStateChanged(listener)
	}

	return failsafe.With(retry, builder.Build())
}

// ExecuteHTTP runs one logical request through the executor. fn is invoked
// once per attempt and must build a fresh request each time.
func ExecuteHTTP(ctx context.Context, executor failsafe.Executor[*http.Response], fn func() (*http.Response, error)) (*http.Response, error) {
	return executor.WithContext(ctx).Get(fn)
}

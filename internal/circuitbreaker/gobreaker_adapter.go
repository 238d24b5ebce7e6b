// Package circuitbreaker wraps sony/gobreaker for calls to third-party APIs
package circuitbreaker

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"line-flex-bridge/internal/common/errors"
	"line-flex-bridge/internal/common/logging"
)

// Config holds the configuration for a circuit breaker
type Config struct {
	// MaxFailures is the number of consecutive failures that opens the breaker
	MaxFailures int
	// Timeout is how long the breaker stays open before going half-open
	Timeout time.Duration
	// MaxConcurrentRequests is the number of probes allowed while half-open
	MaxConcurrentRequests int
	// IsSuccessful decides whether an error counts against the breaker.
	// Nil means only a nil error is a success.
	IsSuccessful func(err error) bool
}

// DefaultConfig returns the configuration used when none is valid
func DefaultConfig() Config {
	return Config{
		MaxFailures:           5,
		Timeout:               60 * time.Second,
		MaxConcurrentRequests: 1,
	}
}

// Validate checks that all thresholds are positive
func (c Config) Validate() error {
	if c.MaxFailures <= 0 {
		return fmt.Errorf("MaxFailures must be positive, got %d", c.MaxFailures)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("Timeout must be positive, got %v", c.Timeout)
	}
	if c.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("MaxConcurrentRequests must be positive, got %d", c.MaxConcurrentRequests)
	}
	return nil
}

var (
	// TokenEndpointConfig guards the OAuth2 token endpoint
	TokenEndpointConfig = Config{
		MaxFailures:           5,
		Timeout:               60 * time.Second,
		MaxConcurrentRequests: 1,
	}

	// APIConfig guards the messaging and conversation REST APIs
	APIConfig = Config{
		MaxFailures:           3,
		Timeout:               30 * time.Second,
		MaxConcurrentRequests: 2,
	}
)

// ErrOpen is wrapped by Execute when the breaker rejects a call
var ErrOpen = stderrors.New("circuit breaker is open")

// GoBreakerAdapter runs functions through a gobreaker.CircuitBreaker
type GoBreakerAdapter struct {
	name    string
	breaker *gobreaker.CircuitBreaker
}

// NewGoBreaker creates a named breaker. An invalid config falls back to DefaultConfig.
func NewGoBreaker(name string, config Config, logger logging.Logger) *GoBreakerAdapter {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if err := config.Validate(); err != nil {
		logger.Warn("Invalid circuit breaker config, using defaults",
			logging.Field{Key: "breaker", Value: name},
			logging.Field{Key: "error", Value: err.Error()},
		)
		isSuccessful := config.IsSuccessful
		config = DefaultConfig()
		config.IsSuccessful = isSuccessful
	}

	isSuccessful := config.IsSuccessful
	if isSuccessful == nil {
		isSuccessful = func(err error) bool { return err == nil }
	}
	maxFailures := uint32(config.MaxFailures)

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(config.MaxConcurrentRequests),
		Interval:    time.Minute,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				logging.Field{Key: "breaker", Value: name},
				logging.Field{Key: "from", Value: from.String()},
				logging.Field{Key: "to", Value: to.String()},
			)
		},
		IsSuccessful: isSuccessful,
	}

	return &GoBreakerAdapter{
		name:    name,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Execute runs fn unless the breaker is open. Rejections wrap ErrOpen.
func (g *GoBreakerAdapter) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})

	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.InternalError(fmt.Sprintf("circuit breaker '%s' rejected the call", g.name),
			fmt.Errorf("%w: %v", ErrOpen, err))
	}
	return err
}

// Name returns the breaker name
func (g *GoBreakerAdapter) Name() string {
	return g.name
}

// IsOpen reports whether calls are currently rejected
func (g *GoBreakerAdapter) IsOpen() bool {
	return g.breaker.State() == gobreaker.StateOpen
}

// Counts exposes the rolling gobreaker counters
func (g *GoBreakerAdapter) Counts() gobreaker.Counts {
	return g.breaker.Counts()
}

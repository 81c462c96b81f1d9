package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// OptionType represents the type of option contract.
type OptionType string

const (
	// OptionTypePut represents a put option contract
	OptionTypePut OptionType = "put"
	// OptionTypeCall represents a call option contract
	OptionTypeCall OptionType = "call"
)

// Quote is a single underlying or index quote.
type Quote struct {
	Symbol string
	Last   float64
	Bid    float64
	Ask    float64
}

// OptionQuote is one contract's market data within a chain.
type OptionQuote struct {
	Symbol     string
	OptionType OptionType
	Strike     float64
	Bid        float64
	Ask        float64
}

// Mid returns the bid/ask midpoint.
func (o *OptionQuote) Mid() float64 {
	return (o.Bid + o.Ask) / 2
}

// CondorOrder describes a four-leg iron condor to submit or close.
type CondorOrder struct {
	Symbol     string
	ShortPut   float64
	LongPut    float64
	ShortCall  float64
	LongCall   float64
	Expiration time.Time
	Quantity   int
	LimitPrice float64 // net credit to open, net debit to close
	Tag        string  // client order tag, used for unknown-outcome reconciliation
}

// OrderResult is the broker's view of a submitted order.
type OrderResult struct {
	ID           string
	Status       string
	AvgFillPrice float64
	Tag          string
}

// IsFilled reports whether the order filled completely.
func (r *OrderResult) IsFilled() bool {
	return strings.EqualFold(r.Status, "filled")
}

// IsTerminal reports whether the order reached a final state.
func (r *OrderResult) IsTerminal() bool {
	switch strings.ToLower(r.Status) {
	case "filled", "canceled", "cancelled", "rejected", "expired":
		return true
	default:
		return false
	}
}

// ErrOrderNotFound is returned by FindOrderByTag when no order carries the tag.
var ErrOrderNotFound = errors.New("order not found")

// APIError is a non-2xx response from the broker API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker API error %d: %s", e.Status, e.Message)
}

// IsPermanentAPIError reports whether an error is a permanent API error that
// should not be retried. 4xx except 429 Too Many Requests.
func IsPermanentAPIError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != 429
	}
	return false
}

// Broker defines the capability interface for interacting with a brokerage.
// All operations are network calls and must run under the caller's context.
type Broker interface {
	// Account operations
	GetAccountBalance(ctx context.Context) (float64, error)

	// Market data
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	GetOptionChain(ctx context.Context, symbol string, expiration time.Time) ([]OptionQuote, error)

	// Order placement
	PlaceIronCondor(ctx context.Context, order CondorOrder) (*OrderResult, error)
	CloseIronCondor(ctx context.Context, order CondorOrder) (*OrderResult, error)

	// Order status
	GetOrderStatus(ctx context.Context, orderID string) (*OrderResult, error)
	// FindOrderByTag looks up a recent order by its client tag. Used to
	// reconcile submissions whose outcome is unknown after a timeout.
	FindOrderByTag(ctx context.Context, tag string) (*OrderResult, error)
}

// GetOptionByStrike finds an option with a specific strike price in a chain.
func GetOptionByStrike(options []OptionQuote, strike float64, optionType OptionType) *OptionQuote {
	for i := range options {
		if options[i].OptionType == optionType && absDiff(options[i].Strike, strike) <= 1e-4 {
			return &options[i]
		}
	}
	return nil
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// Ensure CircuitBreakerBroker implements Broker at compile time.
var _ Broker = (*CircuitBreakerBroker)(nil)

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods.
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBroker creates a CircuitBreakerBroker with sensible defaults.
func NewCircuitBreakerBroker(broker Broker, logger zerolog.Logger) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, logger, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings.
func NewCircuitBreakerBrokerWithSettings(broker Broker, logger zerolog.Logger, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// GetAccountBalance wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetAccountBalance(ctx context.Context) (float64, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (float64, error) {
		return b.GetAccountBalance(ctx)
	})
}

// GetQuote wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*Quote, error) {
		return b.GetQuote(ctx, symbol)
	})
}

// GetOptionChain wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetOptionChain(ctx context.Context, symbol string, expiration time.Time) ([]OptionQuote, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]OptionQuote, error) {
		return b.GetOptionChain(ctx, symbol, expiration)
	})
}

// PlaceIronCondor wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) PlaceIronCondor(ctx context.Context, order CondorOrder) (*OrderResult, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*OrderResult, error) {
		return b.PlaceIronCondor(ctx, order)
	})
}

// CloseIronCondor wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) CloseIronCondor(ctx context.Context, order CondorOrder) (*OrderResult, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*OrderResult, error) {
		return b.CloseIronCondor(ctx, order)
	})
}

// GetOrderStatus wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetOrderStatus(ctx context.Context, orderID string) (*OrderResult, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*OrderResult, error) {
		return b.GetOrderStatus(ctx, orderID)
	})
}

// FindOrderByTag wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) FindOrderByTag(ctx context.Context, tag string) (*OrderResult, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*OrderResult, error) {
		return b.FindOrderByTag(ctx, tag)
	})
}

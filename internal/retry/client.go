// Package retry wraps close-order submission with bounded retries so a
// transient broker hiccup does not strand an open position.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sbenson/condorbot/internal/broker"
)

// Config bounds the retry loop.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultConfig is tuned for intraday close orders.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// Client retries condor close orders against a broker.
type Client struct {
	broker broker.Broker
	logger zerolog.Logger
	config Config
}

// NewClient creates a retry client with optional config override.
func NewClient(b broker.Broker, logger zerolog.Logger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	return &Client{broker: b, logger: logger, config: cfg}
}

// CloseWithRetry submits a close order, retrying transient failures with
// exponential backoff. Permanent broker rejections stop the loop early.
// Note the close order carries its own tag, so a retry after an ambiguous
// failure is reconcilable, not a blind resubmission.
func (c *Client) CloseWithRetry(ctx context.Context, order broker.CondorOrder) (*broker.OrderResult, error) {
	closeCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		select {
		case <-closeCtx.Done():
			return nil, fmt.Errorf("close timed out after %v: %w", c.config.Timeout, closeCtx.Err())
		default:
		}

		c.logger.Info().
			Int("attempt", attempt+1).
			Int("max_attempts", c.config.MaxRetries+1).
			Str("symbol", order.Symbol).
			Msg("submitting close order")

		res, err := c.broker.CloseIronCondor(closeCtx, order)
		if err == nil {
			c.logger.Info().Str("order_id", res.ID).Int("attempt", attempt+1).Msg("close order placed")
			return res, nil
		}

		lastErr = err
		c.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("close attempt failed")

		if broker.IsPermanentAPIError(err) || !c.isTransientError(err) || attempt >= c.config.MaxRetries {
			break
		}

		select {
		case <-time.After(backoff):
			backoff = c.nextBackoff(backoff)
		case <-closeCtx.Done():
			return nil, fmt.Errorf("close timed out during backoff: %w", closeCtx.Err())
		}
	}

	return nil, fmt.Errorf("close failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// nextBackoff grows the delay by 1.5x, capped, plus up to 25% jitter.
func (c *Client) nextBackoff(current time.Duration) time.Duration {
	backoff := time.Duration(float64(current) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err == nil {
			backoff += time.Duration(jitterVal.Int64())
		}
	}
	return backoff
}

func (c *Client) isTransientError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"429",
		"502",
		"503",
		"504",
		"network",
		"dns",
		"tcp",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

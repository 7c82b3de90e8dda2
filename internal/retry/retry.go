package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

func DefaultConfig() Config {
	return Config{
		MaxRetries: 4,
		BaseDelay:  2 * time.Second,
		MaxDelay:   15 * time.Second,
		Multiplier: 1.5,
	}
}

// Delay returns the backoff before retry number attempt (0-based).
func (c Config) Delay(attempt int) time.Duration {
	multiplier := c.Multiplier
	if multiplier <= 0 {
		multiplier = 1.5
	}
	delay := time.Duration(float64(c.BaseDelay) * math.Pow(multiplier, float64(attempt)))
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

// Do runs operation until it succeeds, shouldRetry rejects the error, the
// retries are exhausted, or ctx is done. A nil shouldRetry retries every error.
func Do(ctx context.Context, config Config, logger *logrus.Logger, operation func(ctx context.Context) error, shouldRetry func(error) bool) error {
	var err error
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			if err != nil {
				return err
			}
			return ctx.Err()
		default:
		}

		err = operation(ctx)
		if err == nil {
			return nil
		}

		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}

		if attempt == config.MaxRetries {
			break
		}

		delay := config.Delay(attempt)

		if logger != nil {
			logger.WithFields(logrus.Fields{
				"attempt": attempt + 1,
				"delay":   delay,
				"error":   err.Error(),
			}).Warn("Retrying operation")
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}

	if config.MaxRetries == 0 {
		return err
	}
	return fmt.Errorf("operation failed after %d retries: %w", config.MaxRetries, err)
}

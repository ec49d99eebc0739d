package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/kozaktomas/photo-dedup/internal/constants"
	"github.com/kozaktomas/photo-dedup/internal/logger"
)

// RetryConfig controls retries of transient I/O failures.
type RetryConfig struct {
	Attempts          int           // total attempts, at least 1
	InitialBackoff    time.Duration // delay before the second attempt
	MaxBackoff        time.Duration // cap on the delay
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:          constants.DefaultRetryLimit,
		InitialBackoff:    constants.RetryInitialBackoff * time.Millisecond,
		MaxBackoff:        constants.RetryMaxBackoff * time.Millisecond,
		BackoffMultiplier: constants.RetryBackoffMultiplier,
	}
}

// TransientIOError is an I/O failure that persisted through every retry.
type TransientIOError struct {
	Op       string
	Path     string
	Attempts int
	Err      error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("%s %s: gave up after %d attempts: %v", e.Op, e.Path, e.Attempts, e.Err)
}

func (e *TransientIOError) Unwrap() error { return e.Err }

type timeout interface{ Timeout() bool }

// IsTransient reports whether err is worth retrying: locked or busy files,
// interrupted calls, short reads and timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientIOError
	if errors.As(err, &te) {
		return true
	}
	switch {
	case errors.Is(err, os.ErrPermission),
		errors.Is(err, syscall.EBUSY),
		errors.Is(err, syscall.EAGAIN),
		errors.Is(err, syscall.EINTR),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	var t timeout
	return errors.As(err, &t) && t.Timeout()
}

// retryWithBackoff runs fn until it succeeds, fails with a non-transient error,
// or runs out of attempts. It returns the number of attempts made.
func retryWithBackoff(ctx context.Context, cfg RetryConfig, op, path string, fn func() error) (int, error) {
	attempts := max(cfg.Attempts, 1)
	backoff := cfg.InitialBackoff
	log := logger.C(ctx)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				log.Debug().Str("op", op).Str("path", path).Int("attempt", attempt).Msg("succeeded after retry")
			}
			return attempt, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return attempt, err
		}
		if attempt == attempts {
			break
		}
		if ctx.Err() != nil {
			return attempt, fmt.Errorf("%s %s: %w", op, path, ctx.Err())
		}

		log.Warn().Err(err).Str("op", op).Str("path", path).
			Int("attempt", attempt).Int("max_attempts", attempts).Dur("backoff", backoff).
			Msg("transient failure, retrying")

		select {
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
			if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		case <-ctx.Done():
			return attempt, fmt.Errorf("%s %s: canceled during backoff: %w", op, path, ctx.Err())
		}
	}

	return attempts, &TransientIOError{Op: op, Path: path, Attempts: attempts, Err: lastErr}
}

package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	ingesterrors "github.com/input-output-hk/sftp-ingest/errors"
)

// RetryPolicy controls how network operations are retried. The zero value and
// MaxAttempts of 1 run every operation exactly once.
//
// Only CONNECTION_ERROR and TRANSFER_ERROR failures are retried. Everything
// else, including a cancelled context, stops immediately.
type RetryPolicy struct {
	// MaxAttempts includes the first attempt.
	MaxAttempts int
	// InitialInterval is the delay before the second attempt.
	InitialInterval time.Duration
	// MaxInterval caps the delay between attempts.
	MaxInterval time.Duration
}

// NoRetry runs every operation once.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	eb.MaxElapsedTime = 0
	eb.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1)), ctx)
}

// Do runs fn until it succeeds, fails permanently or attempts run out. The
// returned error is always classified; unclassified failures are reported
// under fallback.
func (p RetryPolicy) Do(
	ctx context.Context,
	op string,
	fallback ingesterrors.ErrorCode,
	log zerolog.Logger,
	fn func(ctx context.Context) error,
) error {
	if p.MaxAttempts <= 1 {
		return ingesterrors.Classify(fallback, op, fn(ctx))
	}

	attempt := 0
	err := backoff.RetryNotify(
		func() error {
			attempt++
			err := ingesterrors.Classify(fallback, op, fn(ctx))
			if err == nil {
				return nil
			}
			if ctx.Err() != nil || !ingesterrors.CodeOf(err).Retryable() {
				return backoff.Permanent(err)
			}
			return err
		},
		p.newBackOff(ctx),
		func(err error, wait time.Duration) {
			log.Warn().
				Err(err).
				Str("op", op).
				Int("attempt", attempt).
				Int("max_attempts", p.MaxAttempts).
				Dur("wait", wait).
				Msg("retrying after failure")
		},
	)

	return ingesterrors.Classify(fallback, op, err)
}

// Package poller tracks a long-running backend job by querying its status at a steady cadence.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/highlightr/highlightr-agent/internal/clip"
)

// ErrPollTimeout is returned when MaxDuration elapses before the job reaches a terminal status.
var ErrPollTimeout = errors.New("poll timeout: job did not finish in time")

// Config holds polling cadence. The zero value of every optional field keeps the
// fixed-interval, unbounded behavior.
type Config struct {
	// Interval is the delay between the end of one query and the start of the next.
	Interval time.Duration
	// MaxDuration bounds the whole loop. Zero means unbounded.
	MaxDuration time.Duration
	// Backoff multiplies the delay after each inconclusive tick. Values <= 1 keep it fixed.
	Backoff float64
	// MaxInterval caps the grown delay.
	MaxInterval time.Duration
	// JitterFraction is the fraction of a grown delay used for jitter (0.0-1.0).
	JitterFraction float64
}

func DefaultConfig() Config {
	return Config{
		Interval:       2 * time.Second,
		Backoff:        1.0,
		MaxInterval:    30 * time.Second,
		JitterFraction: 0.2,
	}
}

// QueryFunc performs one status query.
type QueryFunc func(ctx context.Context) (clip.PollResult, error)

// ProposeFunc hands a result to the owner of the job. It returns true when polling should
// stop, either because the result was terminal or because the owner has moved on.
type ProposeFunc func(clip.PollResult) bool

type Loop struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.MaxInterval < cfg.Interval {
		cfg.MaxInterval = cfg.Interval
	}
	return &Loop{cfg: cfg, logger: logger}
}

func (l *Loop) Config() Config {
	return l.cfg
}

// Run queries until propose asks to stop, a permanent error occurs, ctx is cancelled or
// MaxDuration elapses. Queries never overlap: the next one is scheduled only after the
// previous one has resolved. Transport failures and 5xx responses are logged and retried.
func (l *Loop) Run(ctx context.Context, query QueryFunc, propose ProposeFunc) error {
	start := time.Now()
	delay := l.cfg.Interval
	ticks := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ticks++
		result, err := query(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		switch {
		case err == nil:
			if propose(result) {
				l.logger.Debug("polling finished", "ticks", ticks, "status", result.Status)
				return nil
			}
			delay = l.cfg.Interval
		case clip.IsTransient(err):
			l.logger.Warn("inconclusive poll tick, rescheduling", "tick", ticks, "error", err)
			delay = l.grow(delay)
		default:
			return fmt.Errorf("poll tick %d: %w", ticks, err)
		}

		sleep := delay
		if l.cfg.MaxDuration > 0 {
			remaining := l.cfg.MaxDuration - time.Since(start)
			if remaining <= 0 {
				return ErrPollTimeout
			}
			if sleep > remaining {
				sleep = remaining
			}
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if l.cfg.MaxDuration > 0 && time.Since(start) >= l.cfg.MaxDuration {
			return ErrPollTimeout
		}
	}
}

func (l *Loop) grow(delay time.Duration) time.Duration {
	if l.cfg.Backoff <= 1 {
		return l.cfg.Interval
	}
	next := time.Duration(float64(delay) * l.cfg.Backoff)
	next += jitter(next, l.cfg.JitterFraction)
	if next > l.cfg.MaxInterval {
		next = l.cfg.MaxInterval
	}
	if next < l.cfg.Interval {
		next = l.cfg.Interval
	}
	return next
}

// jitter returns a random duration in range [-fraction*d, +fraction*d].
func jitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return 0
	}
	r := float64(d) * fraction
	return time.Duration((rand.Float64() - 0.5) * 2 * r)
}

// Package ratelimit provides the token-bucket gate in front of all outbound
// CRM calls. One Limiter instance is shared process-wide by injection; it
// protects the upstream from aggregate overload, not per-tenant fairness.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrDailyCapExceeded is returned when the calendar-day call cap has been
// reached. It is terminal until the next UTC midnight and must not be retried.
var ErrDailyCapExceeded = errors.New("daily API call cap reached")

// Config holds token bucket parameters.
type Config struct {
	Capacity        int           // max tokens in the bucket
	RefillPerSecond float64       // continuous refill rate
	DailyCap        int           // successful acquisitions per UTC day
	InitialBackoff  time.Duration // first sleep when the bucket is empty
	MaxBackoff      time.Duration // backoff ceiling
}

// Stats is a read-only snapshot of limiter state.
type Stats struct {
	AvailableTokens int `json:"availableTokens"`
	DailyCount      int `json:"dailyCount"`
	DailyCap        int `json:"dailyCap"`
	DailyRemaining  int `json:"dailyRemaining"`
}

// Limiter is a mutex-guarded token bucket with a hard daily cap.
// Refill is continuous, computed from elapsed wall-clock time on each
// acquisition attempt rather than on a background tick.
type Limiter struct {
	mu             sync.Mutex
	capacity       float64
	refillPerSec   float64
	dailyCap       int
	initialBackoff time.Duration
	maxBackoff     time.Duration

	tokens       float64
	lastRefill   time.Time
	dailyCount   int
	dailyResetAt time.Time

	now   func() time.Time                             // for testing
	sleep func(ctx context.Context, d time.Duration) error // for testing
}

// New creates a Limiter with a full bucket. Zero backoff values default to
// 1s initial and 8s ceiling.
func New(cfg Config) *Limiter {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 8 * time.Second
	}

	now := time.Now()
	return &Limiter{
		capacity:       float64(cfg.Capacity),
		refillPerSec:   cfg.RefillPerSecond,
		dailyCap:       cfg.DailyCap,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		tokens:         float64(cfg.Capacity),
		lastRefill:     now,
		dailyResetAt:   nextMidnightUTC(now),
		now:            time.Now,
		sleep:          sleepCtx,
	}
}

// Acquire blocks until a token is available, then consumes it.
// It returns ErrDailyCapExceeded immediately when the daily cap is reached,
// and the context error if ctx is cancelled while waiting. Waiting uses
// exponential backoff between attempts; total retries are unbounded.
func (l *Limiter) Acquire(ctx context.Context) error {
	backoff := l.initialBackoff

	for {
		l.mu.Lock()
		l.refillLocked()

		if l.dailyCount >= l.dailyCap {
			l.mu.Unlock()
			return fmt.Errorf("%w (%d calls, resets at midnight UTC)", ErrDailyCapExceeded, l.dailyCap)
		}

		if l.tokens >= 1 {
			l.tokens--
			l.dailyCount++
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		if err := l.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = min(backoff*2, l.maxBackoff)
	}
}

// GetStats returns a snapshot of available tokens and daily usage.
// It recomputes the refill but does not consume anything.
func (l *Limiter) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked()

	return Stats{
		AvailableTokens: int(math.Floor(l.tokens)),
		DailyCount:      l.dailyCount,
		DailyCap:        l.dailyCap,
		DailyRemaining:  l.dailyCap - l.dailyCount,
	}
}

// refillLocked must be called with l.mu held.
func (l *Limiter) refillLocked() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed > 0 {
		l.tokens = math.Min(l.capacity, l.tokens+elapsed*l.refillPerSec)
	}
	l.lastRefill = now

	if !now.Before(l.dailyResetAt) {
		l.dailyCount = 0
		l.dailyResetAt = nextMidnightUTC(now)
	}
}

// nextMidnightUTC returns the first instant of the next UTC day after t.
func nextMidnightUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day()+1, 0, 0, 0, 0, time.UTC)
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Package retry wraps remote list calls with exponential backoff for
// rate-limited upstreams.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/GoogleCloudPlatform/cloudgauge/pkg/common/logger"
)

// ErrRateLimited classifies an upstream rate-limit response (HTTP 429 /
// RESOURCE_EXHAUSTED). It is the only error class Do retries.
var ErrRateLimited = errors.New("rate limited by upstream")

// RateLimited reports whether err belongs to the rate-limit error class.
func RateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }

// Config controls the retry schedule.
type Config struct {
	// MaxAttempts bounds the total number of calls, first try included.
	MaxAttempts int

	// InitialDelay is the wait after the first rate-limited attempt.
	InitialDelay time.Duration

	// Factor multiplies the delay after each further attempt.
	Factor float64

	// JitterUnit scales the random jitter added to every delay; the jitter is
	// uniform in [0, JitterUnit). Defaults to one second.
	JitterUnit time.Duration
}

// DefaultConfig matches the schedule used against cloud list APIs: up to 5
// attempts, 1.5s initial delay doubling each time, plus up to 1s of jitter.
func DefaultConfig() Config {
	return Config{MaxAttempts: 5, InitialDelay: 1500 * time.Millisecond, Factor: 2, JitterUnit: time.Second}
}

// Do executes call, retrying only rate-limited failures on the configured
// schedule. Any other error is logged and the zero value returned
// immediately; exhausting the schedule also returns the zero value. Callers
// therefore cannot distinguish a confirmed-empty result from a gave-up one;
// callers that need the distinction must treat the zero value as suspect.
func Do[T any](ctx context.Context, log *logger.Logger, cfg Config, opName string, call func(ctx context.Context) (T, error)) T {
	var result T
	var permanent error

	operation := func() error {
		v, err := call(ctx)
		if err == nil {
			result = v
			return nil
		}
		if RateLimited(err) {
			log.Warn(ctx, "rate limit hit, backing off", "operation", opName, "error", err)
			return err
		}
		permanent = err
		return backoff.Permanent(err)
	}

	sched := newSchedule(cfg, rand.New(rand.NewSource(time.Now().UnixNano())))
	if err := backoff.Retry(operation, backoff.WithContext(sched, ctx)); err != nil {
		var zero T
		if permanent != nil {
			log.Error(ctx, "upstream call failed, returning empty result", "operation", opName, "error", permanent)
		} else {
			log.Error(ctx, "rate limit retries exhausted, returning empty result",
				"operation", opName, "attempts", cfg.MaxAttempts, "error", err)
		}
		return zero
	}

	return result
}

// schedule implements backoff.BackOff with the fixed formula
// initial x factor^attempt plus random jitter in [0,1)s. It stops after
// MaxAttempts-1 delays so the total call count never exceeds MaxAttempts.
type schedule struct {
	cfg     Config
	attempt int
	rng     *rand.Rand
}

func newSchedule(cfg Config, rng *rand.Rand) *schedule {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.JitterUnit <= 0 {
		cfg.JitterUnit = time.Second
	}
	return &schedule{cfg: cfg, rng: rng}
}

func (s *schedule) NextBackOff() time.Duration {
	if s.attempt >= s.cfg.MaxAttempts-1 {
		return backoff.Stop
	}
	base := float64(s.cfg.InitialDelay) * math.Pow(s.cfg.Factor, float64(s.attempt))
	jitter := s.rng.Float64() * float64(s.cfg.JitterUnit)
	s.attempt++
	return time.Duration(base + jitter)
}

func (s *schedule) Reset() { s.attempt = 0 }

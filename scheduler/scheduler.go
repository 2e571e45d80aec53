/*
Package scheduler computes jittered delays for mark status checks.

A batch of feed cards mounting together would otherwise fire their status
checks together. Every delay mixes the card's position in the feed with a
random component so checks spread over a window.
*/
package scheduler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Source yields random numbers in [0, n). Implementations must be safe for concurrent use.
type Source interface {
	Int64N(n int64) int64
}

type globalSource struct{}

func (globalSource) Int64N(n int64) int64 {
	return rand.Int64N(n)
}

// Delays holds the step and spread of every delay kind
type Delays struct {
	InitialStep   time.Duration `yaml:"initial_step"`
	InitialSpread time.Duration `yaml:"initial_spread"`
	CheckStep     time.Duration `yaml:"check_step"`
	CheckSpread   time.Duration `yaml:"check_spread"`
	SaturatedMin  time.Duration `yaml:"saturated_min"`
	SaturatedMax  time.Duration `yaml:"saturated_max"`
	BackoffMin    time.Duration `yaml:"backoff_min"`
	BackoffMax    time.Duration `yaml:"backoff_max"`
}

// DefaultDelays returns the production delay settings
func DefaultDelays() Delays {
	return Delays{
		InitialStep:   500 * time.Millisecond,
		InitialSpread: 1000 * time.Millisecond,
		CheckStep:     200 * time.Millisecond,
		CheckSpread:   2000 * time.Millisecond,
		SaturatedMin:  2000 * time.Millisecond,
		SaturatedMax:  5000 * time.Millisecond,
		BackoffMin:    15000 * time.Millisecond,
		BackoffMax:    30000 * time.Millisecond,
	}
}

// Validate rejects negative values and inverted ranges
func (d Delays) Validate() error {
	for _, field := range []struct {
		name  string
		value time.Duration
	}{
		{"initial step", d.InitialStep},
		{"initial spread", d.InitialSpread},
		{"check step", d.CheckStep},
		{"check spread", d.CheckSpread},
		{"saturated min", d.SaturatedMin},
		{"backoff min", d.BackoffMin},
	} {
		if field.value < 0 {
			return fmt.Errorf("%s delay must not be negative", field.name)
		}
	}
	if d.SaturatedMax < d.SaturatedMin {
		return fmt.Errorf("saturated delay range is inverted: %v > %v", d.SaturatedMin, d.SaturatedMax)
	}
	if d.BackoffMax < d.BackoffMin {
		return fmt.Errorf("backoff delay range is inverted: %v > %v", d.BackoffMin, d.BackoffMax)
	}
	return nil
}

// Jitter computes delays from Delays and a random Source
type Jitter struct {
	delays Delays
	rnd    Source
}

// NewJitter creates a Jitter. A nil source selects the math/rand/v2 global generator.
func NewJitter(delays Delays, rnd Source) *Jitter {
	if rnd == nil {
		rnd = globalSource{}
	}
	return &Jitter{delays: delays, rnd: rnd}
}

// Delays returns the configured delay settings
func (j *Jitter) Delays() Delays {
	return j.delays
}

// InitialDelay is the wait before the first check of a freshly mounted item:
// index*InitialStep plus a random value in [0, InitialSpread].
func (j *Jitter) InitialDelay(index int) time.Duration {
	return step(index, j.delays.InitialStep) + j.upTo(j.delays.InitialSpread)
}

// PerCheckDelay is applied before every check attempt, retries included:
// a random value in [0, CheckSpread] plus index*CheckStep.
func (j *Jitter) PerCheckDelay(index int) time.Duration {
	return j.upTo(j.delays.CheckSpread) + step(index, j.delays.CheckStep)
}

// SaturatedDelay is the wait after the limiter refused a slot
func (j *Jitter) SaturatedDelay() time.Duration {
	return j.between(j.delays.SaturatedMin, j.delays.SaturatedMax)
}

// BackoffDelay is the wait after the API rate limited a check
func (j *Jitter) BackoffDelay() time.Duration {
	return j.between(j.delays.BackoffMin, j.delays.BackoffMax)
}

func step(index int, unit time.Duration) time.Duration {
	if index < 0 {
		index = 0
	}
	return time.Duration(index) * unit
}

func (j *Jitter) upTo(spread time.Duration) time.Duration {
	if spread <= 0 {
		return 0
	}
	return time.Duration(j.rnd.Int64N(int64(spread) + 1))
}

func (j *Jitter) between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + j.upTo(max-min)
}

// Sleep waits for d or until ctx is done, whichever comes first
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy bounds the retry loop. Delay before attempt n+1 is
// BaseDelay*Multiplier^(n-1), capped at MaxDelay, then spread by ±Jitter.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay"`
	Multiplier  float64       `json:"multiplier"`
	Jitter      float64       `json:"jitter"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2,
		Jitter:      0.2,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = d.Jitter
	}
	return p
}

// Retrier is the single retry loop used by every call site. What is worth
// retrying is decided by its Classifier.
type Retrier struct {
	policy   RetryPolicy
	classify Classifier
	logger   *zap.Logger
	sleep    func(context.Context, time.Duration) error
	random   func() float64
}

type RetrierOption func(*Retrier)

func WithRetryLogger(l *zap.Logger) RetrierOption {
	return func(r *Retrier) { r.logger = l }
}

// WithSleep replaces the wait between attempts.
func WithSleep(sleep func(context.Context, time.Duration) error) RetrierOption {
	return func(r *Retrier) { r.sleep = sleep }
}

// WithRandom replaces the jitter source; it must return values in [0,1).
func WithRandom(random func() float64) RetrierOption {
	return func(r *Retrier) { r.random = random }
}

func NewRetrier(policy RetryPolicy, classify Classifier, opts ...RetrierOption) *Retrier {
	if classify == nil {
		classify = DefaultClassifier
	}
	r := &Retrier{
		policy:   policy.withDefaults(),
		classify: classify,
		logger:   zap.NewNop(),
		sleep:    sleepContext,
		random:   rand.Float64,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Retrier) Policy() RetryPolicy {
	return r.policy
}

// Backoff returns the wait after the given failed attempt (1-based).
func (r *Retrier) Backoff(attempt int) time.Duration {
	p := r.policy
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d *= 1 - p.Jitter + 2*p.Jitter*r.random()
	}
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

// Do calls fn until it succeeds, returns a terminal error, or the attempts run
// out. The last error is returned unchanged.
func (r *Retrier) Do(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !r.classify(err) || attempt == r.policy.MaxAttempts {
			return err
		}

		wait := r.Backoff(attempt)
		r.logger.Debug("retrying after transient failure",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
		if serr := r.sleep(ctx, wait); serr != nil {
			return err
		}
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

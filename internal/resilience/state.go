package resilience

import (
	"fmt"
	"time"
)

// State of a circuit breaker
type State int32

const (
	// StateClosed passes calls through and counts consecutive failures.
	StateClosed State = iota
	// StateOpen rejects calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen admits a bounded number of trial calls.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "CLOSED":
		*s = StateClosed
	case "OPEN":
		*s = StateOpen
	case "HALF_OPEN":
		*s = StateHalfOpen
	default:
		return fmt.Errorf("unknown circuit state %q", string(b))
	}
	return nil
}

// CircuitState is the persisted state of one breaker.
type CircuitState struct {
	State          State     `json:"state"`
	Failures       int       `json:"failures"`
	Successes      int       `json:"successes"`
	HalfOpenCalls  int       `json:"half_open_calls"`
	OpenedAt       time.Time `json:"opened_at,omitempty"`
	LastTransition time.Time `json:"last_transition,omitempty"`
}

// BreakerConfig holds the thresholds of one breaker.
type BreakerConfig struct {
	FailureThreshold    int           `json:"failure_threshold"`
	SuccessThreshold    int           `json:"success_threshold"`
	Cooldown            time.Duration `json:"cooldown"`
	MaxHalfOpenRequests int           `json:"max_half_open_requests"`
}

// DefaultBreakerConfig returns 5 failures to open, 2 successes to close and a
// 30s cooldown.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Cooldown:            30 * time.Second,
		MaxHalfOpenRequests: 2,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.MaxHalfOpenRequests <= 0 {
		c.MaxHalfOpenRequests = c.SuccessThreshold
	}
	return c
}

const halfOpenRetryHint = time.Second

// admission is the outcome of asking a breaker for permission.
type admission struct {
	allowed    bool
	retryAfter time.Duration
}

// admit applies the admission rule to st in place.
func admit(st *CircuitState, cfg BreakerConfig, now time.Time) admission {
	switch st.State {
	case StateOpen:
		elapsed := now.Sub(st.OpenedAt)
		if elapsed < cfg.Cooldown {
			return admission{retryAfter: cfg.Cooldown - elapsed}
		}
		st.State = StateHalfOpen
		st.Successes = 0
		st.HalfOpenCalls = 1
		st.LastTransition = now
		return admission{allowed: true}
	case StateHalfOpen:
		if st.HalfOpenCalls >= cfg.MaxHalfOpenRequests {
			return admission{retryAfter: halfOpenRetryHint}
		}
		st.HalfOpenCalls++
		return admission{allowed: true}
	default:
		return admission{allowed: true}
	}
}

func onSuccess(st *CircuitState, cfg BreakerConfig, now time.Time) {
	switch st.State {
	case StateClosed:
		st.Failures = 0
	case StateHalfOpen:
		st.Successes++
		if st.HalfOpenCalls > 0 {
			st.HalfOpenCalls--
		}
		if st.Successes >= cfg.SuccessThreshold {
			*st = CircuitState{State: StateClosed, LastTransition: now}
		}
	}
}

func onFailure(st *CircuitState, cfg BreakerConfig, now time.Time) {
	switch st.State {
	case StateClosed:
		st.Failures++
		if st.Failures >= cfg.FailureThreshold {
			st.State = StateOpen
			st.OpenedAt = now
			st.LastTransition = now
		}
	case StateHalfOpen:
		st.State = StateOpen
		st.OpenedAt = now
		st.LastTransition = now
		st.Successes = 0
		st.HalfOpenCalls = 0
	}
}

// onRelease frees a half-open slot for a call that ended without a verdict.
func onRelease(st *CircuitState) {
	if st.State == StateHalfOpen && st.HalfOpenCalls > 0 {
		st.HalfOpenCalls--
	}
}

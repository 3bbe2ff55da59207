// Package backoff implements the per-identifier exponential backoff and
// circuit breaker engine: typed-error retry strategies plus a
// closed/open/half-open state machine keyed by an arbitrary identifier
// (proxy URL or domain).
package backoff

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rohmanhakim/antibot-acquire/internal/config"
)

// Engine tracks one retryState per identifier under a single mutex — the
// same "per-identifier map guarded by a mutex" shape used by the rate
// limiter's per-host timing table.
type Engine struct {
	mu    sync.Mutex
	rngMu sync.Mutex
	rng   *rand.Rand

	states map[string]*retryState

	strategies          map[ErrorKind]Strategy
	failureThreshold    int
	circuitTimeout      time.Duration
	maxHalfOpenAttempts int
}

// NewEngine builds an Engine from an explicit strategy table.
func NewEngine(strategies map[ErrorKind]Strategy, failureThreshold int, circuitTimeout time.Duration, maxHalfOpenAttempts int, randomSeed int64) *Engine {
	if maxHalfOpenAttempts <= 0 {
		maxHalfOpenAttempts = 1
	}
	return &Engine{
		rng:                 rand.New(rand.NewSource(randomSeed)),
		states:              make(map[string]*retryState),
		strategies:          strategies,
		failureThreshold:    failureThreshold,
		circuitTimeout:      circuitTimeout,
		maxHalfOpenAttempts: maxHalfOpenAttempts,
	}
}

// NewEngineFromConfig adapts the JSON-facing config.BackoffConfig (string
// keyed) into the engine's typed ErrorKind table.
func NewEngineFromConfig(cfg config.BackoffConfig, randomSeed int64) *Engine {
	strategies := make(map[ErrorKind]Strategy, len(cfg.Strategies))
	for kind, s := range cfg.Strategies {
		strategies[ErrorKind(kind)] = Strategy{
			MaxAttempts: s.MaxAttempts,
			Multiplier:  s.Multiplier,
			BaseDelay:   s.BaseDelay,
			MaxDelay:    s.MaxDelay,
		}
	}
	return NewEngine(strategies, cfg.FailureThreshold, cfg.CircuitTimeout, cfg.MaxHalfOpenAttempts, randomSeed)
}

func (e *Engine) stateFor(id string) *retryState {
	s, ok := e.states[id]
	if !ok {
		s = &retryState{state: Closed}
		e.states[id] = s
	}
	return s
}

func (e *Engine) strategyFor(kind ErrorKind) Strategy {
	if s, ok := e.strategies[kind]; ok {
		return s
	}
	return Strategy{MaxAttempts: 1, Multiplier: 1, BaseDelay: time.Second}
}

// ShouldRetry decides whether a further attempt is permitted for id at the
// given 0-indexed attempt number, given the error kind just observed.
func (e *Engine) ShouldRetry(id string, attempt int, kind ErrorKind) bool {
	if kind == KindBlocked || kind == KindAuthentication {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stateFor(id)
	e.transitionLocked(s)
	if s.state == Open {
		return false
	}

	if kind == KindCaptcha {
		return attempt < 2
	}

	strategy := e.strategyFor(kind)
	return attempt < strategy.MaxAttempts
}

// WaitWithBackoff computes the delay to sleep before the next attempt for
// id at the given attempt number and error kind, applying jitter and the
// success-rate adaptive multiplier, then sleeps.
func (e *Engine) WaitWithBackoff(id string, attempt int, kind ErrorKind) time.Duration {
	delay := e.computeDelay(id, attempt, kind)
	if delay > 0 {
		time.Sleep(delay)
	}
	return delay
}

// ComputeDelay is the pure counterpart of WaitWithBackoff, exposed for
// tests and callers that want to schedule the sleep themselves.
func (e *Engine) ComputeDelay(id string, attempt int, kind ErrorKind) time.Duration {
	return e.computeDelay(id, attempt, kind)
}

func (e *Engine) computeDelay(id string, attempt int, kind ErrorKind) time.Duration {
	strategy := e.strategyFor(kind)

	base := float64(strategy.BaseDelay)
	for i := 0; i < attempt; i++ {
		base *= strategy.Multiplier
	}
	if strategy.MaxDelay > 0 && base > float64(strategy.MaxDelay) {
		base = float64(strategy.MaxDelay)
	}

	e.mu.Lock()
	s := e.stateFor(id)
	rate := s.successRate()
	e.mu.Unlock()

	switch {
	case rate < 0.3:
		base *= 1.5
	case rate > 0.8:
		base *= 0.8
	}

	e.rngMu.Lock()
	jitterFactor := 1.1 + e.rng.Float64()*(1.5-1.1)
	e.rngMu.Unlock()

	return time.Duration(base * jitterFactor)
}

// TrackFailure records a failed attempt for id, advancing the circuit
// breaker toward open if the failure threshold is reached.
func (e *Engine) TrackFailure(id string, kind ErrorKind) {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.stateFor(id)
	s.attemptCount++
	s.totalObservations++
	s.consecutiveFailures++
	s.pushKind(kind)
	if s.firstFailure.IsZero() {
		s.firstFailure = now
	}
	s.lastFailure = now

	switch s.state {
	case HalfOpen:
		s.state = Open
		s.openedAt = now
		s.halfOpenAttempts = 0
	case Closed:
		if s.consecutiveFailures >= e.failureThreshold {
			s.state = Open
			s.openedAt = now
		}
	}
}

// TrackSuccess records a successful attempt for id, resetting the failure
// streak and closing a half-open circuit.
func (e *Engine) TrackSuccess(id string) {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.stateFor(id)
	s.attemptCount++
	s.totalObservations++
	s.successCount++
	s.consecutiveFailures = 0
	s.lastSuccess = now
	s.state = Closed
	s.halfOpenAttempts = 0
}

// transitionLocked advances Open → HalfOpen once the circuit timeout has
// elapsed. Caller must hold e.mu.
func (e *Engine) transitionLocked(s *retryState) {
	if s.state == Open && time.Since(s.openedAt) >= e.circuitTimeout {
		s.state = HalfOpen
		s.halfOpenAttempts = 0
	}
}

// IsHealthy reports whether id is currently eligible for selection: not
// open, below the failure threshold, and either under-observed or holding
// a success rate of at least 0.2.
func (e *Engine) IsHealthy(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stateFor(id)
	e.transitionLocked(s)

	if s.state == Open {
		return false
	}
	if s.consecutiveFailures >= e.failureThreshold {
		return false
	}
	return s.attemptCount < 5 || s.successRate() >= 0.2
}

// SuccessRate returns id's observed success rate, defaulting to 1.0 when
// there are no observations yet.
func (e *Engine) SuccessRate(id string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateFor(id).successRate()
}

// AdmitHalfOpenProbe attempts to reserve one of the limited half-open
// probe slots for id, returning false if the circuit is not half-open or
// the probe budget is exhausted.
func (e *Engine) AdmitHalfOpenProbe(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stateFor(id)
	e.transitionLocked(s)

	if s.state != HalfOpen {
		return false
	}
	if s.halfOpenAttempts >= e.maxHalfOpenAttempts {
		return false
	}
	s.halfOpenAttempts++
	return true
}

// State returns the current circuit state for id.
func (e *Engine) State(id string) CircuitState {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stateFor(id)
	e.transitionLocked(s)
	return s.state
}

// Prune removes identifiers whose most recent activity is older than
// maxAge, bounding unbounded map growth across a long-running process.
func (e *Engine) Prune(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, s := range e.states {
		last := s.lastSuccess
		if s.lastFailure.After(last) {
			last = s.lastFailure
		}
		if last.Before(cutoff) {
			delete(e.states, id)
		}
	}
}

package coordinator

import (
	"sync"
	"time"
)

// Domain breaker thresholds are fixed, matching the acquisition protocol
// rather than the per-proxy backoff engine's configurable strategy table:
// the domain breaker is a single independent safety valve, not a tunable
// retry policy.
const (
	domainConsecutiveFailureLimit = 20
	domainErrorRateWindow         = 50
	domainErrorRateLimit          = 0.8
	domainDefaultCircuitTimeout   = 5 * time.Minute
	domainHalfOpenMaxAttempts     = 1
)

type domainBreakerState struct {
	isOpen              bool
	halfOpen            bool
	halfOpenAttempts    int
	consecutiveFailures int
	recentResults       []bool // true = success, bounded to domainErrorRateWindow
	openedAt            time.Time
}

func (s *domainBreakerState) pushResult(success bool) {
	s.recentResults = append(s.recentResults, success)
	if len(s.recentResults) > domainErrorRateWindow {
		s.recentResults = s.recentResults[len(s.recentResults)-domainErrorRateWindow:]
	}
}

func (s *domainBreakerState) errorRate() float64 {
	if len(s.recentResults) < domainErrorRateWindow {
		return 0
	}
	failures := 0
	for _, ok := range s.recentResults {
		if !ok {
			failures++
		}
	}
	return float64(failures) / float64(len(s.recentResults))
}

// domainBreaker is the per-domain circuit breaker, independent of the
// per-proxy backoff.Engine: it trips when a domain itself looks hostile
// regardless of which proxy or user agent was used against it.
type domainBreaker struct {
	mu             sync.Mutex
	states         map[string]*domainBreakerState
	circuitTimeout time.Duration
}

func newDomainBreaker(circuitTimeout time.Duration) *domainBreaker {
	if circuitTimeout <= 0 {
		circuitTimeout = domainDefaultCircuitTimeout
	}
	return &domainBreaker{
		states:         make(map[string]*domainBreakerState),
		circuitTimeout: circuitTimeout,
	}
}

func (b *domainBreaker) stateFor(domain string) *domainBreakerState {
	s, ok := b.states[domain]
	if !ok {
		s = &domainBreakerState{}
		b.states[domain] = s
	}
	return s
}

// isOpen reports whether domain is currently blocked, advancing Open to
// HalfOpen once the circuit timeout has elapsed.
func (b *domainBreaker) isOpen(domain string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stateFor(domain)

	if s.isOpen {
		if !s.openedAt.IsZero() && time.Since(s.openedAt) > b.circuitTimeout {
			s.isOpen = false
			s.halfOpen = true
			s.halfOpenAttempts = 0
			return false
		}
		return true
	}

	if s.halfOpen && s.halfOpenAttempts >= domainHalfOpenMaxAttempts {
		b.openLocked(domain)
		return true
	}

	return false
}

// beforeRequest increments the half-open probe counter if domain is
// currently half-open, matching the original's pre-request bookkeeping.
func (b *domainBreaker) beforeRequest(domain string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stateFor(domain)
	if s.halfOpen {
		s.halfOpenAttempts++
	}
}

// recordSuccess closes a half-open circuit and clears the failure streak.
func (b *domainBreaker) recordSuccess(domain string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stateFor(domain)
	s.consecutiveFailures = 0
	s.pushResult(true)
	if s.halfOpen {
		s.halfOpen = false
		s.halfOpenAttempts = 0
		s.openedAt = time.Time{}
	}
}

// recordFailure advances the failure streak and reopens a half-open probe
// failure immediately.
func (b *domainBreaker) recordFailure(domain string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stateFor(domain)
	s.consecutiveFailures++
	s.pushResult(false)
	if s.halfOpen {
		b.openLocked(domain)
		return
	}
	if s.consecutiveFailures >= domainConsecutiveFailureLimit || s.errorRate() >= domainErrorRateLimit {
		b.openLocked(domain)
	}
}

func (b *domainBreaker) openLocked(domain string) {
	s := b.stateFor(domain)
	s.isOpen = true
	s.halfOpen = false
	s.halfOpenAttempts = 0
	s.openedAt = time.Now()
}

package backoff

import "time"

// ErrorKind is the stable error taxonomy keying both the strategy table and
// the circuit breaker's failure classification.
type ErrorKind string

const (
	KindTimeout        ErrorKind = "timeout"
	KindRateLimit      ErrorKind = "rate_limit"
	KindCaptcha        ErrorKind = "captcha"
	KindBlocked        ErrorKind = "blocked"
	KindNetwork        ErrorKind = "network"
	KindHTTP5xx        ErrorKind = "http_5xx"
	KindHTTP4xx        ErrorKind = "http_4xx"
	KindProxyError     ErrorKind = "proxy_error"
	KindAuthentication ErrorKind = "authentication"
	KindUnknown        ErrorKind = "unknown"
)

// Strategy is the per-error-kind retry policy.
type Strategy struct {
	MaxAttempts int
	Multiplier  float64
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// CircuitState is the per-identifier breaker state.
type CircuitState int

const (
	Closed CircuitState = iota
	Open
	HalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// retryState is the per-identifier mutable bookkeeping (spec §3.1 RetryState).
type retryState struct {
	attemptCount        int
	successCount        int
	consecutiveFailures int
	totalObservations   int

	firstFailure time.Time
	lastFailure  time.Time
	lastSuccess  time.Time

	recentKinds []ErrorKind

	state            CircuitState
	openedAt         time.Time
	halfOpenAttempts int
}

const recentKindsCap = 20

func (r *retryState) pushKind(kind ErrorKind) {
	r.recentKinds = append(r.recentKinds, kind)
	if len(r.recentKinds) > recentKindsCap {
		r.recentKinds = r.recentKinds[len(r.recentKinds)-recentKindsCap:]
	}
}

func (r *retryState) successRate() float64 {
	if r.totalObservations == 0 {
		return 1
	}
	return float64(r.successCount) / float64(r.totalObservations)
}

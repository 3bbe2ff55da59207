package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/rohmanhakim/antibot-acquire/internal/backoff"
	"github.com/rohmanhakim/antibot-acquire/internal/metadata"
	"github.com/rohmanhakim/antibot-acquire/internal/validator"
	"github.com/rohmanhakim/antibot-acquire/pkg/failure"
)

type CoordinatorErrorCause string

const (
	ErrCauseCircuitOpen       CoordinatorErrorCause = "domain circuit open"
	ErrCauseRobotsBlocked     CoordinatorErrorCause = "disallowed by robots"
	ErrCauseNoProxyAvailable  CoordinatorErrorCause = "no healthy proxy available"
	ErrCauseAttemptsExhausted CoordinatorErrorCause = "retry attempts exhausted"
	ErrCauseNotFound          CoordinatorErrorCause = "resource not found"
)

type CoordinatorError struct {
	Message   string
	Retryable bool
	Cause     CoordinatorErrorCause
}

func (e *CoordinatorError) Error() string {
	return fmt.Sprintf("coordinator error: %s: %s", e.Cause, e.Message)
}

func (e *CoordinatorError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *CoordinatorError) IsRetryable() bool {
	return e.Retryable
}

func mapCoordinatorErrorToMetadataCause(err *CoordinatorError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseRobotsBlocked, ErrCauseCircuitOpen:
		return metadata.CausePolicyDisallow
	case ErrCauseNoProxyAvailable, ErrCauseAttemptsExhausted:
		return metadata.CauseNetworkFailure
	case ErrCauseNotFound:
		return metadata.CauseContentInvalid
	default:
		return metadata.CauseUnknown
	}
}

// classifyTransportError maps a raw transport-level error from the HTTP
// client into the shared backoff.ErrorKind taxonomy.
func classifyTransportError(err error) backoff.ErrorKind {
	if err == nil {
		return backoff.KindUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return backoff.KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return backoff.KindTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return backoff.KindProxyError
	}
	return backoff.KindNetwork
}

// classifyStatus maps an HTTP status code to a backoff.ErrorKind for codes
// that indicate failure; callers only consult this once a status is known
// to be outside the success range.
func classifyStatus(status int) backoff.ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return backoff.KindRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return backoff.KindAuthentication
	case status >= 500:
		return backoff.KindHTTP5xx
	case status >= 400:
		return backoff.KindHTTP4xx
	default:
		return backoff.KindUnknown
	}
}

// classifyBlockType maps a content validator's block classification to the
// backoff error kind used for proxy scoring and retry-policy lookup.
func classifyBlockType(bt validator.BlockType) backoff.ErrorKind {
	switch bt {
	case validator.BlockCaptcha:
		return backoff.KindCaptcha
	case validator.BlockRateLimit:
		return backoff.KindRateLimit
	case validator.BlockBotDetection, validator.BlockSilentBlock:
		return backoff.KindBlocked
	case validator.BlockHTTPError:
		return backoff.KindHTTP4xx
	default:
		return backoff.KindUnknown
	}
}

// escalationEligible reports whether a validation result warrants handing
// the request off to the guard-bypass challenge solver rather than simply
// rotating proxies and retrying.
func escalationEligible(result validator.Result, status int) bool {
	switch result.BlockType {
	case validator.BlockBotDetection, validator.BlockCaptcha, validator.BlockRateLimit:
		return true
	}
	if result.BlockDetected && (status == http.StatusForbidden || status == http.StatusTooManyRequests) {
		return true
	}
	return false
}

package backoff

import (
	"fmt"

	"github.com/rohmanhakim/antibot-acquire/internal/metadata"
	"github.com/rohmanhakim/antibot-acquire/pkg/failure"
)

type BackoffErrorCause string

const (
	ErrCauseCircuitOpen     BackoffErrorCause = "circuit open"
	ErrCauseAttemptsExhausted BackoffErrorCause = "retry attempts exhausted"
	ErrCauseNoRetry         BackoffErrorCause = "error kind is not retryable"
)

// BackoffError reports that id was rejected before any request was
// attempted: the circuit is open, or the retry budget for the observed
// error kind is exhausted.
type BackoffError struct {
	ID        string
	Kind      ErrorKind
	Message   string
	Retryable bool
	Cause     BackoffErrorCause
}

func (e *BackoffError) Error() string {
	return fmt.Sprintf("backoff error for %q (kind=%s): %s", e.ID, e.Kind, e.Cause)
}

func (e *BackoffError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *BackoffError) IsRetryable() bool {
	return e.Retryable
}

// mapBackoffErrorToMetadataCause maps backoff-local error semantics to the
// canonical metadata.ErrorCause table. Observational only; must not be
// used to derive control-flow decisions.
func mapBackoffErrorToMetadataCause(err *BackoffError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseCircuitOpen:
		return metadata.CausePolicyDisallow
	case ErrCauseAttemptsExhausted:
		return metadata.CauseNetworkFailure
	case ErrCauseNoRetry:
		return metadata.CausePolicyDisallow
	default:
		return metadata.CauseUnknown
	}
}

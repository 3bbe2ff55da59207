package challenge

import (
	"fmt"

	"github.com/rohmanhakim/antibot-acquire/internal/metadata"
	"github.com/rohmanhakim/antibot-acquire/pkg/failure"
)

type ChallengeErrorCause string

const (
	ErrCauseDisabled        ChallengeErrorCause = "challenge solver disabled"
	ErrCauseRequestFailed   ChallengeErrorCause = "solver request failed"
	ErrCauseHTTPStatus      ChallengeErrorCause = "solver returned non-ok status"
	ErrCauseMalformedReply  ChallengeErrorCause = "malformed solver response"
	ErrCauseBudgetExhausted ChallengeErrorCause = "per-domain bypass attempt budget exhausted"
)

type ChallengeError struct {
	Message   string
	Retryable bool
	Cause     ChallengeErrorCause
}

func (e *ChallengeError) Error() string {
	return fmt.Sprintf("challenge solver error: %s: %s", e.Cause, e.Message)
}

func (e *ChallengeError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *ChallengeError) IsRetryable() bool {
	return e.Retryable
}

func mapChallengeErrorToMetadataCause(err *ChallengeError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseRequestFailed, ErrCauseHTTPStatus:
		return metadata.CauseNetworkFailure
	case ErrCauseMalformedReply:
		return metadata.CauseContentInvalid
	case ErrCauseBudgetExhausted, ErrCauseDisabled:
		return metadata.CausePolicyDisallow
	default:
		return metadata.CauseUnknown
	}
}

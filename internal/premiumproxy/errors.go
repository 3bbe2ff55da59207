package premiumproxy

import (
	"fmt"

	"github.com/rohmanhakim/antibot-acquire/internal/metadata"
	"github.com/rohmanhakim/antibot-acquire/pkg/failure"
)

type PremiumProxyErrorCause string

const (
	ErrCauseRequestConstruction PremiumProxyErrorCause = "failed to construct provider request"
	ErrCauseNetworkFailure      PremiumProxyErrorCause = "network failure calling provider"
	ErrCauseHTTPStatus          PremiumProxyErrorCause = "unexpected provider http status"
	ErrCauseMalformedResponse   PremiumProxyErrorCause = "malformed provider response"
	ErrCauseProviderError       PremiumProxyErrorCause = "provider reported an error status"
	ErrCauseBudgetExceeded      PremiumProxyErrorCause = "purchase would exceed monthly budget"
	ErrCauseCooldownActive      PremiumProxyErrorCause = "purchase cooldown still active"
)

type PremiumProxyError struct {
	Message   string
	Retryable bool
	Cause     PremiumProxyErrorCause
}

func (e *PremiumProxyError) Error() string {
	return fmt.Sprintf("premium proxy error: %s: %s", e.Cause, e.Message)
}

func (e *PremiumProxyError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *PremiumProxyError) IsRetryable() bool {
	return e.Retryable
}

func mapPremiumProxyErrorToMetadataCause(err *PremiumProxyError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseNetworkFailure, ErrCauseHTTPStatus:
		return metadata.CauseNetworkFailure
	case ErrCauseBudgetExceeded, ErrCauseCooldownActive:
		return metadata.CausePolicyDisallow
	case ErrCauseMalformedResponse, ErrCauseRequestConstruction:
		return metadata.CauseInvariantViolation
	default:
		return metadata.CauseUnknown
	}
}

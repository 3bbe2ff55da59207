package captcha

import (
	"fmt"

	"github.com/rohmanhakim/antibot-acquire/internal/metadata"
	"github.com/rohmanhakim/antibot-acquire/pkg/failure"
)

type CaptchaErrorCause string

const (
	ErrCauseDisabled           CaptchaErrorCause = "solver disabled or missing api key"
	ErrCauseInsufficientBalance CaptchaErrorCause = "insufficient solver balance"
	ErrCauseSubmitFailed       CaptchaErrorCause = "captcha submit request failed"
	ErrCausePollFailed         CaptchaErrorCause = "captcha poll request failed"
	ErrCauseSolveTimeout       CaptchaErrorCause = "captcha solve timed out"
	ErrCauseDailyLimitExceeded CaptchaErrorCause = "daily spend limit exceeded"
)

type CaptchaError struct {
	Message   string
	Retryable bool
	Cause     CaptchaErrorCause
}

func (e *CaptchaError) Error() string {
	return fmt.Sprintf("captcha solver error: %s: %s", e.Cause, e.Message)
}

func (e *CaptchaError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *CaptchaError) IsRetryable() bool {
	return e.Retryable
}

func mapCaptchaErrorToMetadataCause(err *CaptchaError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseSubmitFailed, ErrCausePollFailed, ErrCauseSolveTimeout:
		return metadata.CauseNetworkFailure
	case ErrCauseInsufficientBalance, ErrCauseDailyLimitExceeded:
		return metadata.CausePolicyDisallow
	default:
		return metadata.CauseUnknown
	}
}

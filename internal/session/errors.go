package session

import (
	"fmt"

	"github.com/rohmanhakim/antibot-acquire/internal/metadata"
	"github.com/rohmanhakim/antibot-acquire/pkg/failure"
)

type SessionErrorCause string

const (
	ErrCauseEncryptFailed SessionErrorCause = "session encryption failed"
	ErrCauseDecryptFailed SessionErrorCause = "session decryption failed"
	ErrCauseCorruptFile   SessionErrorCause = "session file corrupt"
	ErrCauseIOFailure     SessionErrorCause = "session store io failure"
)

type SessionError struct {
	Message   string
	Retryable bool
	Cause     SessionErrorCause
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session store error: %s: %s", e.Cause, e.Message)
}

func (e *SessionError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *SessionError) IsRetryable() bool {
	return e.Retryable
}

func mapSessionErrorToMetadataCause(err *SessionError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseIOFailure:
		return metadata.CauseStorageFailure
	case ErrCauseCorruptFile, ErrCauseDecryptFailed, ErrCauseEncryptFailed:
		return metadata.CauseContentInvalid
	default:
		return metadata.CauseUnknown
	}
}

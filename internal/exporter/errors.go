package exporter

import (
	"fmt"

	"github.com/rohmanhakim/antibot-acquire/internal/metadata"
	"github.com/rohmanhakim/antibot-acquire/pkg/failure"
)

type ExporterErrorCause string

const (
	ErrCauseNotOpened    ExporterErrorCause = "writer not opened"
	ErrCauseIOFailure    ExporterErrorCause = "exporter io failure"
	ErrCauseMarshalFailed ExporterErrorCause = "product marshal failed"
	ErrCauseLockHeld     ExporterErrorCause = "process lock held by another exporter"
)

type ExporterError struct {
	Message   string
	Retryable bool
	Cause     ExporterErrorCause
}

func (e *ExporterError) Error() string {
	return fmt.Sprintf("exporter error: %s: %s", e.Cause, e.Message)
}

func (e *ExporterError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *ExporterError) IsRetryable() bool {
	return e.Retryable
}

func mapExporterErrorToMetadataCause(err *ExporterError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseIOFailure:
		return metadata.CauseStorageFailure
	case ErrCauseMarshalFailed:
		return metadata.CauseContentInvalid
	case ErrCauseLockHeld:
		return metadata.CauseInvariantViolation
	default:
		return metadata.CauseUnknown
	}
}

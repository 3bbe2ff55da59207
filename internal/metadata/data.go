package metadata

import (
	"time"
)

// FetchEvent logs one HTTP attempt outcome for a single acquisition attempt.
type FetchEvent struct {
	FetchURL    string
	HTTPStatus  int
	Duration    time.Duration
	ContentType string
	RetryCount  int
	Proxy       string
	UserAgent   string
	Domain      string
}

/*
RunStats
  - Represents a terminal, derived summary of one exporter run
  - Contains only aggregate counts and durations
  - Is computed by the exporter after all URLs are processed
  - Is recorded exactly once
  - Must not influence scheduling, retries, or run termination
  - Must be constructed without reading metadata
*/
type RunStats struct {
	TotalURLs      int
	Succeeded      int
	Failed         int
	Skipped        int
	DurationMs     int64
	ProxyBurns     int
	CaptchaSolves  int
	ChallengeSolves int
}

// ArtifactKind distinguishes the kind of output artifact recorded.
type ArtifactKind int

const (
	ArtifactUnknown ArtifactKind = iota
	ArtifactPartial
	ArtifactExport
	ArtifactLatest
	ArtifactSession
)

/*
ErrorCause is a closed, canonical classification used exclusively for
observability (logging, metrics, reporting).

Rules:
  - ErrorCause is for observability only.
  - It must never be used to derive retry, continuation, or abort decisions.
  - Any use of metadata.ErrorCause outside logging, metrics, or reporting is a design violation.
  - ErrorCause MUST NOT influence control flow.
  - ErrorCause MUST NOT be used for retry, continuation, or abort decisions.
  - ErrorCause values MUST have stable, package-agnostic semantics.
  - Pipeline packages MAY map their local errors to ErrorCause,
    but MUST NOT invent new meanings.

Non-goals:
  - ErrorCause does not encode severity.
  - ErrorCause does not imply retryability.
  - ErrorCause does not imply run termination.
  - ErrorCause does not imply correctness of downstream behavior.

If a failure does not clearly match a defined cause, CauseUnknown MUST be used.
*/
type ErrorCause int

/*
Canonical ErrorCause Table

# CauseUnknown

Meaning:
  - The failure does not map cleanly to any known category.
  - Used as a safe fallback.

Examples:
  - Unexpected internal errors
  - Unclassified third-party library failures

# CauseNetworkFailure

Meaning:
  - Failure caused by network transport or remote availability.

Examples:
  - TCP timeouts
  - DNS resolution failures
  - Connection resets
  - robots.txt fetch timeout

# CausePolicyDisallow

Meaning:
  - Acquisition was disallowed or halted by an explicit policy or rule.

Examples:
  - robots.txt disallow
  - HTTP 403 / 401 interpreted as access denial
  - rate-limit enforcement
  - domain circuit open

# CauseContentInvalid

Meaning:
  - Content was fetched but could not be validated as a usable response.

Examples:
  - CAPTCHA / bot-detection page
  - Silent-block / placeholder body
  - Guard page requiring challenge-solver escalation

# CauseStorageFailure

Meaning:
  - Failure while persisting run artifacts.

Examples:
  - Disk full
  - Write permission errors
  - Filesystem I/O failures

# CauseInvariantViolation

Meaning:
  - A system-level invariant was violated.

Examples:
  - Burned proxy returned from acquire()
  - Half-open breaker admitting more than the configured probe count
  - Session record returned past its expiry
*/
const (
	CauseUnknown = iota
	CauseNetworkFailure
	CausePolicyDisallow
	CauseContentInvalid
	CauseStorageFailure
	CauseInvariantViolation
)

type ErrorRecord struct {
	packageName string
	action      string
	cause       ErrorCause
	errorString string
	observedAt  time.Time
	attrs       []Attribute
}

type Attribute struct {
	Key   AttributeKey
	Value string
}

func NewAttr(key AttributeKey, val string) Attribute {
	return Attribute{
		Key:   key,
		Value: val,
	}
}

type AttributeKey string

const (
	AttrTime       AttributeKey = "time"
	AttrURL        AttributeKey = "url"
	AttrHost       AttributeKey = "host"
	AttrPath       AttributeKey = "path"
	AttrDepth      AttributeKey = "depth"
	AttrField      AttributeKey = "field"
	AttrHTTPStatus AttributeKey = "http_status"
	AttrAssetURL   AttributeKey = "asset_url"
	AttrWritePath  AttributeKey = "write_path"
	AttrProxy      AttributeKey = "proxy"
	AttrUserAgent  AttributeKey = "user_agent"
	AttrBlockType  AttributeKey = "block_type"
	AttrAttempt    AttributeKey = "attempt"
)

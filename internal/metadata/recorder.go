package metadata

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

/*
Metadata Collected
- Fetch timestamps, durations, HTTP status codes
- Proxy/user-agent identity per attempt
- Classified failures (canonical ErrorCause only, never raw control state)
- Written artifacts (partial/export/session files)
- Terminal run statistics

Logging Goals
- Debuggable acquisition behavior
- Post-run auditability
- Failure diagnostics

Structured logging is preferred: every Record* call emits one zap entry;
RecordFetch, RecordError and RecordArtifact also update a Prometheus
counter (run stats are logged only).

Allowed:
- Primitive values
- Timestamps
- URLs (as values, not objects with behavior)
- Hashes, status codes, durations
- Identifiers (proxy URL, domain, run ID)
*/

// Recorder is the default MetadataSink: zap for structured logs, a small
// Prometheus registry for counters a caller may choose to expose.
type Recorder struct {
	log       *zap.Logger
	fetches   prometheus.Counter
	errors    *prometheus.CounterVec
	artifacts *prometheus.CounterVec
}

// NewRecorder builds a Recorder. Pass a registerer (or nil to skip
// registration, e.g. in tests that construct more than one Recorder).
func NewRecorder(log *zap.Logger, reg prometheus.Registerer) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}

	r := &Recorder{
		log: log,
		fetches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "antibot_fetch_total",
			Help: "Total HTTP fetch attempts performed by the coordinator.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "antibot_errors_total",
			Help: "Classified failures by canonical cause.",
		}, []string{"package", "cause"}),
		artifacts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "antibot_artifacts_total",
			Help: "Artifacts written by kind.",
		}, []string{"kind"}),
	}

	if reg != nil {
		reg.MustRegister(r.fetches, r.errors, r.artifacts)
	}
	return r
}

func (r *Recorder) RecordFetch(event FetchEvent) {
	r.fetches.Inc()
	r.log.Debug("fetch",
		zap.String("url", event.FetchURL),
		zap.Int("status", event.HTTPStatus),
		zap.Duration("duration", event.Duration),
		zap.Int("retry_count", event.RetryCount),
		zap.String("proxy", event.Proxy),
		zap.String("user_agent", event.UserAgent),
		zap.String("domain", event.Domain),
	)
}

func (r *Recorder) RecordError(
	observedAt time.Time,
	packageName string,
	action string,
	cause ErrorCause,
	errorString string,
	attrs []Attribute,
) {
	r.errors.WithLabelValues(packageName, causeLabel(cause)).Inc()

	fields := make([]zap.Field, 0, len(attrs)+4)
	fields = append(fields,
		zap.Time("observed_at", observedAt),
		zap.String("package", packageName),
		zap.String("action", action),
		zap.String("cause", causeLabel(cause)),
	)
	for _, a := range attrs {
		fields = append(fields, zap.String(string(a.Key), a.Value))
	}
	r.log.Warn(errorString, fields...)
}

func (r *Recorder) RecordArtifact(kind ArtifactKind, path string, attrs []Attribute) {
	r.artifacts.WithLabelValues(artifactLabel(kind)).Inc()

	fields := make([]zap.Field, 0, len(attrs)+2)
	fields = append(fields, zap.String("kind", artifactLabel(kind)), zap.String("path", path))
	for _, a := range attrs {
		fields = append(fields, zap.String(string(a.Key), a.Value))
	}
	r.log.Info("artifact written", fields...)
}

func (r *Recorder) RecordRunStats(stats RunStats) {
	r.log.Info("run complete",
		zap.Int("total_urls", stats.TotalURLs),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("failed", stats.Failed),
		zap.Int("skipped", stats.Skipped),
		zap.Int64("duration_ms", stats.DurationMs),
		zap.Int("proxy_burns", stats.ProxyBurns),
		zap.Int("captcha_solves", stats.CaptchaSolves),
		zap.Int("challenge_solves", stats.ChallengeSolves),
	)
}

func causeLabel(cause ErrorCause) string {
	switch cause {
	case CauseNetworkFailure:
		return "network_failure"
	case CausePolicyDisallow:
		return "policy_disallow"
	case CauseContentInvalid:
		return "content_invalid"
	case CauseStorageFailure:
		return "storage_failure"
	case CauseInvariantViolation:
		return "invariant_violation"
	default:
		return "unknown"
	}
}

func artifactLabel(kind ArtifactKind) string {
	switch kind {
	case ArtifactPartial:
		return "partial"
	case ArtifactExport:
		return "export"
	case ArtifactLatest:
		return "latest"
	case ArtifactSession:
		return "session"
	default:
		return "unknown"
	}
}

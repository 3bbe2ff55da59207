package metadata

import "time"

// MetadataSink is the narrow recording surface every pipeline component
// depends on. It is strictly observational: nothing reachable through this
// interface may be read back to drive a retry, rotation, or abort decision.
// Components that need a decision (is this proxy healthy? should we retry?)
// read their own typed state, never a MetadataSink.
type MetadataSink interface {
	// RecordFetch logs one HTTP attempt outcome.
	RecordFetch(event FetchEvent)

	// RecordError logs a classified failure for later audit. cause is the
	// canonical ErrorCause, never a control-flow signal.
	RecordError(
		observedAt time.Time,
		packageName string,
		action string,
		cause ErrorCause,
		errorString string,
		attrs []Attribute,
	)

	// RecordArtifact logs a written output artifact (export file, partial
	// writer finalize, session file).
	RecordArtifact(kind ArtifactKind, path string, attrs []Attribute)

	// RecordRunStats logs the terminal, derived summary of one exporter run.
	// Called exactly once, after all URLs have been processed.
	RecordRunStats(stats RunStats)
}

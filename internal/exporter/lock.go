package exporter

import (
	"path/filepath"

	"github.com/rohmanhakim/antibot-acquire/pkg/fileutil"
)

// AcquireProcessLock takes the advisory per-site lock at dir/<site>.lock,
// preventing two exporters from writing the same site concurrently.
func AcquireProcessLock(dir, site string) (*fileutil.Lock, error) {
	if classified := fileutil.EnsureDir(dir); classified != nil {
		return nil, &ExporterError{Message: classified.Error(), Retryable: false, Cause: ErrCauseIOFailure}
	}
	lockPath := filepath.Join(dir, site+".lock")
	lock, classified := fileutil.AcquireLock(lockPath)
	if classified != nil {
		return nil, &ExporterError{Message: classified.Error(), Retryable: false, Cause: ErrCauseLockHeld}
	}
	return lock, nil
}

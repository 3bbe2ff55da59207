package exporter

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rohmanhakim/antibot-acquire/pkg/fileutil"
)

// Writer is the append-only JSONL partial-export stream for one site, with
// resume support keyed off processed url/original_url values.
type Writer struct {
	partialPath       string
	resume            bool
	resumeWindowHours int

	mu            sync.Mutex
	file          *os.File
	processedURLs map[string]struct{}
}

// New builds a Writer for partialPath. Call Prepare to apply resume policy
// and seed ProcessedURLs, then Open before the first Append.
func New(partialPath string, resume bool, resumeWindowHours int) *Writer {
	return &Writer{
		partialPath:       partialPath,
		resume:            resume,
		resumeWindowHours: resumeWindowHours,
		processedURLs:     make(map[string]struct{}),
	}
}

// Prepare applies the resume policy (unlinking a missing or stale partial
// file), loads whatever survives, seeds ProcessedURLs from it, and returns
// the recovered products. Call this before Open.
func (w *Writer) Prepare() ([]Product, error) {
	if !w.resume {
		if err := w.Cleanup(); err != nil {
			return nil, err
		}
	} else if w.resumeWindowHours > 0 {
		if info, err := os.Stat(w.partialPath); err == nil {
			age := time.Since(info.ModTime())
			if age > time.Duration(w.resumeWindowHours)*time.Hour {
				if err := w.Cleanup(); err != nil {
					return nil, err
				}
			}
		}
	}

	return w.LoadExisting()
}

// LoadExisting scans the partial file line by line, seeding ProcessedURLs
// from each recovered product's url/original_url fields. Malformed lines
// are skipped rather than failing the whole scan, matching the original's
// crash-recovery behavior: only complete, well-formed lines are trusted.
func (w *Writer) LoadExisting() ([]Product, error) {
	f, err := os.Open(w.partialPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &ExporterError{Message: err.Error(), Retryable: true, Cause: ErrCauseIOFailure}
	}
	defer f.Close()

	var products []Product
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var product Product
		if err := json.Unmarshal(line, &product); err != nil {
			continue
		}
		for _, key := range product.URLKeys() {
			w.processedURLs[key] = struct{}{}
		}
		products = append(products, product)
	}
	return products, nil
}

// Open opens the partial file for appending, creating parent directories as
// needed.
func (w *Writer) Open() error {
	if err := os.MkdirAll(filepath.Dir(w.partialPath), 0o755); err != nil {
		return &ExporterError{Message: err.Error(), Retryable: false, Cause: ErrCauseIOFailure}
	}
	f, err := os.OpenFile(w.partialPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return &ExporterError{Message: err.Error(), Retryable: true, Cause: ErrCauseIOFailure}
	}
	w.mu.Lock()
	w.file = f
	w.mu.Unlock()
	return nil
}

// Append writes one product as a JSON line, flushing immediately so a crash
// loses at most the in-flight write.
func (w *Writer) Append(product Product) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return &ExporterError{Message: "append called before open", Retryable: false, Cause: ErrCauseNotOpened}
	}
	for _, key := range product.URLKeys() {
		w.processedURLs[key] = struct{}{}
	}

	line, err := json.Marshal(product)
	if err != nil {
		return &ExporterError{Message: err.Error(), Retryable: false, Cause: ErrCauseMarshalFailed}
	}
	line = append(line, '\n')
	if _, err := w.file.Write(line); err != nil {
		return &ExporterError{Message: err.Error(), Retryable: true, Cause: ErrCauseIOFailure}
	}
	return w.file.Sync()
}

// AppendError builds and appends the stub record for a URL that is
// definitively unavailable (e.g. a 404 surviving all retries), so
// downstream merges still see it and coverage metrics stay accurate.
func (w *Writer) AppendError(domain, url, originalURL string, statusCode *int, message string) error {
	return w.Append(ErrorProduct(domain, url, originalURL, statusCode, message))
}

// HasProcessed reports whether url was already appended (directly, or
// recovered via Prepare/LoadExisting).
func (w *Writer) HasProcessed(url string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.processedURLs[url]
	return ok
}

// Close closes the underlying file handle. Safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Finalize closes the stream and re-scans the partial file, returning the
// recovered products deduplicated by url/original_url.
func (w *Writer) Finalize() ([]Product, error) {
	if err := w.Close(); err != nil {
		return nil, &ExporterError{Message: err.Error(), Retryable: false, Cause: ErrCauseIOFailure}
	}
	products, err := w.LoadExisting()
	if err != nil {
		return nil, err
	}
	return MergeProducts(nil, products), nil
}

// Cleanup closes the stream, clears in-memory state, and unlinks the
// partial file.
func (w *Writer) Cleanup() error {
	if err := w.Close(); err != nil {
		return &ExporterError{Message: err.Error(), Retryable: false, Cause: ErrCauseIOFailure}
	}
	w.mu.Lock()
	w.processedURLs = make(map[string]struct{})
	w.mu.Unlock()

	if err := os.Remove(w.partialPath); err != nil && !os.IsNotExist(err) {
		return &ExporterError{Message: err.Error(), Retryable: true, Cause: ErrCauseIOFailure}
	}
	return nil
}

// MergeProducts merges new into existing, skipping anything whose
// url/original_url was already seen in existing.
func MergeProducts(existing, fresh []Product) []Product {
	merged := make([]Product, 0, len(existing)+len(fresh))
	seen := make(map[string]struct{})

	register := func(p Product) {
		for _, key := range p.URLKeys() {
			seen[key] = struct{}{}
		}
	}

	for _, p := range existing {
		merged = append(merged, p)
		register(p)
	}

	for _, p := range fresh {
		duplicate := false
		for _, key := range p.URLKeys() {
			if _, ok := seen[key]; ok {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		merged = append(merged, p)
		register(p)
	}

	return merged
}

// FinalizeExport writes products as the full JSON export at jsonPath via a
// temp-file-plus-atomic-rename, then mirrors the same bytes to latest.json
// alongside it.
func FinalizeExport(jsonPath string, products []Product) error {
	if err := os.MkdirAll(filepath.Dir(jsonPath), 0o755); err != nil {
		return &ExporterError{Message: err.Error(), Retryable: false, Cause: ErrCauseIOFailure}
	}

	payload, err := json.MarshalIndent(products, "", "  ")
	if err != nil {
		return &ExporterError{Message: err.Error(), Retryable: false, Cause: ErrCauseMarshalFailed}
	}

	tmpPath := jsonPath + ".tmp"
	if err := os.WriteFile(tmpPath, payload, 0o644); err != nil {
		return &ExporterError{Message: err.Error(), Retryable: true, Cause: ErrCauseIOFailure}
	}
	if classified := fileutil.AtomicRename(tmpPath, jsonPath); classified != nil {
		return &ExporterError{Message: classified.Error(), Retryable: false, Cause: ErrCauseIOFailure}
	}

	latestPath := filepath.Join(filepath.Dir(jsonPath), "latest.json")
	if latestPath != jsonPath {
		_ = os.WriteFile(latestPath, payload, 0o644)
	}
	return nil
}

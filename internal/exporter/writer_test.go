package exporter_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rohmanhakim/antibot-acquire/internal/exporter"
)

func TestAppendThenFinalize_RoundTripsProducts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partial.jsonl")

	w := exporter.New(path, false, 0)
	if _, err := w.Prepare(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.Open(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.Append(exporter.Product{"url": "https://example.com/a", "name": "A"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.Append(exporter.Product{"url": "https://example.com/b", "name": "B"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	products, err := w.Finalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("expected 2 recovered products, got %d", len(products))
	}
}

func TestPrepare_ResumeFalseUnlinksExistingPartial(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partial.jsonl")
	if err := os.WriteFile(path, []byte(`{"url":"https://example.com/a"}`+"\n"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := exporter.New(path, false, 0)
	products, err := w.Prepare()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(products) != 0 {
		t.Fatalf("expected the stale partial to be discarded, got %d products", len(products))
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected the partial file to be removed")
	}
}

func TestPrepare_ResumeTrueSeedsProcessedURLs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partial.jsonl")
	if err := os.WriteFile(path, []byte(`{"url":"https://example.com/a"}`+"\n"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := exporter.New(path, true, 0)
	products, err := w.Prepare()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("expected 1 recovered product, got %d", len(products))
	}
	if !w.HasProcessed("https://example.com/a") {
		t.Fatal("expected the recovered url to be marked processed")
	}
}

func TestPrepare_StaleResumeWindowDiscardsPartial(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partial.jsonl")
	if err := os.WriteFile(path, []byte(`{"url":"https://example.com/a"}`+"\n"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := exporter.New(path, true, 6)
	products, err := w.Prepare()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(products) != 0 {
		t.Fatalf("expected the aged-out partial to be discarded, got %d products", len(products))
	}
}

func TestMergeProducts_SkipsDuplicateURLs(t *testing.T) {
	existing := []exporter.Product{{"url": "https://example.com/a"}}
	fresh := []exporter.Product{
		{"url": "https://example.com/a"},
		{"url": "https://example.com/b"},
	}
	merged := exporter.MergeProducts(existing, fresh)
	if len(merged) != 2 {
		t.Fatalf("expected 2 merged products, got %d", len(merged))
	}
}

func TestAppendError_EmitsUnavailableStub(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partial.jsonl")

	w := exporter.New(path, false, 0)
	if err := w.Open(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	status := 404
	if err := w.AppendError("example.com", "https://example.com/missing", "", &status, "not found"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	products, err := w.Finalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("expected 1 stub product, got %d", len(products))
	}
	if inStock, _ := products[0]["in_stock"].(bool); inStock {
		t.Fatal("expected the stub product to report in_stock=false")
	}
}

func TestFinalizeExport_WritesJSONAndMirrorsLatest(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "export.json")

	products := []exporter.Product{{"url": "https://example.com/a"}}
	if err := exporter.FinalizeExport(jsonPath, products); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := os.Stat(jsonPath); err != nil {
		t.Fatalf("expected export json to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "latest.json")); err != nil {
		t.Fatalf("expected latest.json mirror to exist: %v", err)
	}
}

func TestAcquireProcessLock_RefusesSecondHolder(t *testing.T) {
	dir := t.TempDir()

	lock, err := exporter.AcquireProcessLock(dir, "example-site")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer lock.Release()

	if _, err := exporter.AcquireProcessLock(dir, "example-site"); err == nil {
		t.Fatal("expected a second lock acquisition on the same site to fail")
	}
}

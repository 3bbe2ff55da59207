package runner_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rohmanhakim/antibot-acquire/internal/backoff"
	"github.com/rohmanhakim/antibot-acquire/internal/config"
	"github.com/rohmanhakim/antibot-acquire/internal/coordinator"
	"github.com/rohmanhakim/antibot-acquire/internal/exporter"
	"github.com/rohmanhakim/antibot-acquire/internal/proxyrotator"
	"github.com/rohmanhakim/antibot-acquire/internal/proxytypes"
	"github.com/rohmanhakim/antibot-acquire/internal/robots"
	"github.com/rohmanhakim/antibot-acquire/internal/robots/cache"
	"github.com/rohmanhakim/antibot-acquire/internal/runner"
	"github.com/rohmanhakim/antibot-acquire/internal/useragent"
	"github.com/rohmanhakim/antibot-acquire/internal/validator"
)

func poolTestCoordinator(t *testing.T) *coordinator.Coordinator {
	t.Helper()
	strategies := map[backoff.ErrorKind]backoff.Strategy{
		backoff.KindNetwork: {MaxAttempts: 2, Multiplier: 1, BaseDelay: time.Millisecond},
	}
	backoffEngine := backoff.NewEngine(strategies, 5, 50*time.Millisecond, 1, 1)

	robotsChecker := robots.NewChecker(
		nil,
		"test-bot",
		cache.NewMemoryCache(),
		time.Hour,
		true,
		true,
		robots.CrawlDelaySettings{MinDelay: 0, MaxDelay: time.Millisecond, DefaultDelay: 0},
		robots.ComplianceOverrides{IgnoreDomains: map[string]struct{}{}},
	)
	userAgents := useragent.New(config.UserAgentRotationConfig{Strategy: "random", PoolSize: 5}, 1)
	contentValidator := validator.New(config.ContentValidationConfig{MinBodyLength: 1, QualityThreshold: 0.1}, nil)

	arena := proxytypes.NewArena()
	arena.Put(proxytypes.Descriptor{URL: ""})
	rotator := proxyrotator.New(arena, backoffEngine, 1, 1000, 1)

	return coordinator.New(robotsChecker, userAgents, rotator, backoffEngine, contentValidator, 2, time.Minute,
		coordinator.WithHTTPClientFactory(func(string) coordinator.HTTPDoer {
			return http.DefaultClient
		}),
	)
}

func TestRun_ProcessesAllRequestsAndWritesProducts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><p>hello world, this is plenty of content to pass validation thresholds.</p></body></html>"))
	}))
	defer server.Close()

	writer := exporter.New(filepath.Join(t.TempDir(), "partial.jsonl"), false, 0)
	if _, err := writer.Prepare(); err != nil {
		t.Fatalf("writer.Prepare: %v", err)
	}
	if err := writer.Open(); err != nil {
		t.Fatalf("writer.Open: %v", err)
	}
	defer writer.Close()

	reqs := make(chan runner.Request, 3)
	reqs <- runner.Request{URL: server.URL + "/a"}
	reqs <- runner.Request{URL: server.URL + "/b"}
	reqs <- runner.Request{URL: server.URL + "/c"}
	close(reqs)

	summary, err := runner.Run(context.Background(), poolTestCoordinator(t), writer, reqs, 4, "example-site", "antibot-acquire", 0)
	if err != nil {
		t.Fatalf("runner.Run: %v", err)
	}
	if summary.Total != 3 || summary.Processed != 3 || summary.Success != 3 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	products, err := writer.Finalize()
	if err != nil {
		t.Fatalf("writer.Finalize: %v", err)
	}
	if len(products) != 3 {
		t.Fatalf("expected 3 recovered products, got %d", len(products))
	}
}

func TestRun_RespectsLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><p>hello world, this is plenty of content to pass validation thresholds.</p></body></html>"))
	}))
	defer server.Close()

	writer := exporter.New(filepath.Join(t.TempDir(), "partial.jsonl"), false, 0)
	if _, err := writer.Prepare(); err != nil {
		t.Fatalf("writer.Prepare: %v", err)
	}
	if err := writer.Open(); err != nil {
		t.Fatalf("writer.Open: %v", err)
	}
	defer writer.Close()

	reqs := make(chan runner.Request, 5)
	for i := 0; i < 5; i++ {
		reqs <- runner.Request{URL: server.URL + "/x"}
	}
	close(reqs)

	summary, err := runner.Run(context.Background(), poolTestCoordinator(t), writer, reqs, 4, "example-site", "antibot-acquire", 2)
	if err != nil {
		t.Fatalf("runner.Run: %v", err)
	}
	if summary.Processed > 2 {
		t.Fatalf("expected at most 2 processed with limit=2, got %d", summary.Processed)
	}
}

func TestRun_SerializesRequestsToSameDomain(t *testing.T) {
	var inFlight int32
	var maxInFlight int32
	var mu sync.Mutex

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt32(&inFlight, 1)
		mu.Lock()
		if current > maxInFlight {
			maxInFlight = current
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		w.Write([]byte("<html><body><p>hello world, this is plenty of content to pass validation thresholds.</p></body></html>"))
	}))
	defer server.Close()

	writer := exporter.New(filepath.Join(t.TempDir(), "partial.jsonl"), false, 0)
	if _, err := writer.Prepare(); err != nil {
		t.Fatalf("writer.Prepare: %v", err)
	}
	if err := writer.Open(); err != nil {
		t.Fatalf("writer.Open: %v", err)
	}
	defer writer.Close()

	reqs := make(chan runner.Request, 6)
	for i := 0; i < 6; i++ {
		reqs <- runner.Request{URL: server.URL + "/same-domain"}
	}
	close(reqs)

	if _, err := runner.Run(context.Background(), poolTestCoordinator(t), writer, reqs, 6, "example-site", "antibot-acquire", 0); err != nil {
		t.Fatalf("runner.Run: %v", err)
	}

	if maxInFlight > 1 {
		t.Fatalf("expected requests to the same domain to be serialized, but saw %d in flight at once", maxInFlight)
	}
}

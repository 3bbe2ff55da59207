package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rohmanhakim/antibot-acquire/internal/coordinator"
	"github.com/rohmanhakim/antibot-acquire/internal/exporter"
)

// Summary tallies one Run's outcome, the success-rate figures the exporter
// always reports for operators regardless of how the run ended.
type Summary struct {
	Processed int
	Success   int
	Failed    int
	Total     int
}

// Request is one URL submitted to the worker pool, with an optional
// original URL (e.g. a redirect target resolved upstream) carried through
// to the error-stub shape on failure.
type Request struct {
	URL         string
	OriginalURL string
}

// domainGate serializes requests to the same domain so the robots
// checker's crawl-delay pacing is actually observed between two
// consecutive requests, not just within a single worker's own timeline.
type domainGate struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newDomainGate() *domainGate {
	return &domainGate{locks: make(map[string]*sync.Mutex)}
}

func (g *domainGate) lockFor(domain string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.locks[domain]
	if !ok {
		m = &sync.Mutex{}
		g.locks[domain] = m
	}
	return m
}

// Run drives requests off the reqs channel through a bounded worker pool
// (size = concurrency), each request serialized against others to the same
// domain via domainGate, appending every outcome (success or error stub)
// to writer. It returns once reqs is closed and every in-flight request has
// completed, or ctx is cancelled.
func Run(ctx context.Context, coord *coordinator.Coordinator, writer *exporter.Writer, reqs <-chan Request, concurrency int, site, script string, limit int) (Summary, error) {
	if concurrency <= 0 {
		concurrency = 32
	}

	gate := newDomainGate()
	var mu sync.Mutex
	summary := Summary{}
	progressEnabled := os.Getenv("ANTIBOT_PROGRESS_EVENTS") != ""

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)

processing:
	for req := range reqs {
		req := req
		select {
		case <-gctx.Done():
			break processing
		default:
		}

		mu.Lock()
		if limit > 0 && summary.Total >= limit {
			mu.Unlock()
			break processing
		}
		summary.Total++
		mu.Unlock()

		group.Go(func() error {
			domain := hostOf(req.URL)
			lock := gate.lockFor(domain)
			lock.Lock()
			defer lock.Unlock()

			result := coord.MakeRequest(gctx, req.URL, http.MethodGet, nil)

			product, success := toProduct(req, result)
			if writer != nil {
				if err := writer.Append(product); err != nil {
					return err
				}
			}

			mu.Lock()
			summary.Processed++
			if success {
				summary.Success++
			} else {
				summary.Failed++
			}
			processed, succ, fail := summary.Processed, summary.Success, summary.Failed
			mu.Unlock()

			if progressEnabled {
				emitProgress(site, script, processed, succ, fail, summary.Total)
			}
			return nil
		})
	}

	err := group.Wait()
	return summary, err
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Hostname()
}

// toProduct converts a MakeRequest result into the exporter's minimal
// product shape: url/scraped_at always present, plus either the raw
// response fields or an error/status_code pair.
func toProduct(req Request, result coordinator.Result) (exporter.Product, bool) {
	now := time.Now().UTC().Format(time.RFC3339)

	if result.Outcome == coordinator.OutcomeSuccess && result.Response != nil {
		resp := result.Response
		return exporter.Product{
			"url":                 req.URL,
			"original_url":        req.OriginalURL,
			"scraped_at":          now,
			"status_code":         resp.Status,
			"html":                resp.Body,
			"proxy_used":          resp.ProxyUsed,
			"user_agent":          resp.UserAgent,
			"attempts":            resp.Attempts,
			"solved_by_challenge": resp.SolvedByChallenge,
		}, true
	}

	message := "request failed"
	if result.Outcome == coordinator.OutcomeNotFound {
		message = "Resource not found (404)"
	} else if classified := result.AsError(); classified != nil {
		message = classified.Error()
	}
	var statusCode *int
	if result.Response != nil {
		sc := result.Response.Status
		statusCode = &sc
	}
	domain := hostOf(req.URL)
	return exporter.ErrorProduct(domain, req.URL, req.OriginalURL, statusCode, message), false
}

func emitProgress(site, script string, processed, success, failed, total int) {
	percent := 0.0
	if total > 0 {
		percent = float64(processed) / float64(total) * 100
	}
	event := map[string]any{
		"event":           "progress",
		"site":            site,
		"script":          script,
		"processed":       processed,
		"success":         success,
		"failed":          failed,
		"total":           total,
		"progressPercent": percent,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	}
	line, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintln(os.Stdout, string(line))
}

package proxyrotator

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rohmanhakim/antibot-acquire/internal/backoff"
	"github.com/rohmanhakim/antibot-acquire/internal/premiumproxy"
	"github.com/rohmanhakim/antibot-acquire/internal/proxytypes"
	"github.com/rohmanhakim/antibot-acquire/internal/validator"
)

// Rotator selects, scores, and burns proxies from a shared arena.
type Rotator struct {
	mu sync.Mutex

	arena    *proxytypes.Arena
	backoff  *backoff.Engine
	premium  *premiumproxy.Manager // optional, may be nil
	validate *validator.Validator  // optional, may be nil

	intelligentSelection bool
	minHealthy           int
	maxTotalRequests     int

	currentIndex          int
	replacementInProgress map[string]bool

	rng *rand.Rand
}

// Option configures optional collaborators on construction.
type Option func(*Rotator)

// WithPremiumManager wires in the premium proxy manager used for
// burn-replacement and emergency refresh.
func WithPremiumManager(m *premiumproxy.Manager) Option {
	return func(r *Rotator) { r.premium = m }
}

// WithValidator wires in the content validator used by MarkSuccess to
// retroactively convert an invalid body into a failure.
func WithValidator(v *validator.Validator) Option {
	return func(r *Rotator) { r.validate = v }
}

// New builds a Rotator over arena, scoring candidates with backoffEngine's
// per-proxy success rate and circuit state.
func New(arena *proxytypes.Arena, backoffEngine *backoff.Engine, minHealthy, maxTotalRequests int, seed int64, opts ...Option) *Rotator {
	if maxTotalRequests <= 0 {
		maxTotalRequests = 1000
	}
	r := &Rotator{
		arena:                 arena,
		backoff:               backoffEngine,
		intelligentSelection:  true,
		minHealthy:            minHealthy,
		maxTotalRequests:      maxTotalRequests,
		replacementInProgress: make(map[string]bool),
		rng:                   rand.New(rand.NewSource(seed)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire selects the best eligible proxy, honoring optional requirements.
// It never returns a burned proxy or one whose circuit is open.
func (r *Rotator) Acquire(requirements Requirements) AcquireResult {
	candidates := r.eligibleCandidates(requirements)
	if len(candidates) == 0 {
		return AcquireResult{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.intelligentSelection {
		return r.roundRobinLocked(candidates)
	}
	return r.scoredSelectLocked(candidates)
}

func (r *Rotator) eligibleCandidates(requirements Requirements) []string {
	var out []string
	for url, rec := range r.arena.Snapshot() {
		if rec.Stats.IsBurned {
			continue
		}
		if r.backoff != nil && r.backoff.State(url) == backoff.Open {
			continue
		}
		if requirements.Country != "" && rec.Descriptor.Country != requirements.Country {
			continue
		}
		if requirements.Protocol != "" && string(rec.Descriptor.Protocol) != requirements.Protocol {
			continue
		}
		out = append(out, url)
	}
	return out
}

func (r *Rotator) roundRobinLocked(candidates []string) AcquireResult {
	idx := r.currentIndex % len(candidates)
	r.currentIndex++
	return AcquireResult{ProxyURL: candidates[idx], Found: true}
}

func (r *Rotator) scoredSelectLocked(candidates []string) AcquireResult {
	maxUsage := 1
	for _, url := range candidates {
		if rec, ok := r.arena.Get(url); ok && rec.Stats.TotalRequests > maxUsage {
			maxUsage = rec.Stats.TotalRequests
		}
	}

	best, bestScore := "", -1.0
	for _, url := range candidates {
		rec, ok := r.arena.Get(url)
		if !ok {
			continue
		}
		score := 0.4 * rec.Stats.HealthScore
		if r.backoff != nil {
			score += 0.3 * r.backoff.SuccessRate(url)
		}
		usageRatio := float64(rec.Stats.TotalRequests) / float64(maxUsage)
		score += 0.2 * (1 - usageRatio)
		score += 0.1 * r.rng.Float64()

		if score > bestScore {
			best, bestScore = url, score
		}
	}
	if best == "" {
		return r.roundRobinLocked(candidates)
	}
	return AcquireResult{ProxyURL: best, Found: true}
}

// MarkSuccess records a successful attempt. If body is non-empty and a
// validator is wired in, an invalid body retroactively converts this into a
// failure, matching the original's content-aware success/failure boundary.
func (r *Rotator) MarkSuccess(proxyURL string, rt time.Duration, body string) {
	if body != "" && r.validate != nil {
		result := r.validate.Validate(proxyURL, body, "")
		if !result.IsValid {
			r.MarkFailure(context.Background(), proxyURL, backoff.KindBlocked)
			return
		}
	}
	r.arena.With(proxyURL, func(rec *proxytypes.Record) {
		rec.Stats.RecordSuccess(rt)
	})
	if r.backoff != nil {
		r.backoff.TrackSuccess(proxyURL)
	}
}

// MarkFailure records a failed attempt, updates backoff state, and burns the
// proxy — triggering asynchronous replacement — if a burn condition fires.
func (r *Rotator) MarkFailure(ctx context.Context, proxyURL string, kind backoff.ErrorKind) {
	r.arena.With(proxyURL, func(rec *proxytypes.Record) {
		rec.Stats.RecordFailure(string(kind))
	})
	if r.backoff != nil {
		r.backoff.TrackFailure(proxyURL, kind)
	}

	if r.shouldBurn(proxyURL, kind) {
		reason := string(kind)
		r.arena.With(proxyURL, func(rec *proxytypes.Record) { rec.Stats.Burn(reason) })
		go r.replaceBurned(ctx, proxyURL, reason)
	}
}

func (r *Rotator) shouldBurn(proxyURL string, kind backoff.ErrorKind) bool {
	if burnOnSight[string(kind)] {
		return true
	}
	rec, ok := r.arena.Get(proxyURL)
	if ok {
		if rec.Stats.ConsecutiveFailures >= 5 || (rec.Stats.TotalRequests > 0 && rec.Stats.HealthScore < 0.2) {
			return true
		}
	}
	if r.backoff != nil {
		if r.backoff.State(proxyURL) == backoff.Open && r.backoff.SuccessRate(proxyURL) < 0.1 {
			return true
		}
	}
	return false
}

// replaceBurned asks the premium manager for one replacement proxy,
// deduplicating concurrent replacement attempts for the same URL.
func (r *Rotator) replaceBurned(ctx context.Context, burnedURL, reason string) {
	r.mu.Lock()
	if r.replacementInProgress[burnedURL] {
		r.mu.Unlock()
		return
	}
	r.replacementInProgress[burnedURL] = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.replacementInProgress, burnedURL)
		r.mu.Unlock()
	}()

	if r.premium == nil {
		return
	}
	r.premium.EnsureMinPool(ctx, r.arena.Len())
}

// EmergencyRefresh is triggered when the healthy count drops below
// minHealthy: it asks the premium manager to refresh, then resets half of
// the non-burned, currently-unhealthy proxies to give them another chance.
func (r *Rotator) EmergencyRefresh(ctx context.Context) {
	if r.premium != nil {
		r.premium.EnsureMinPool(ctx, r.minHealthy*2)
	}

	var recoverable []string
	for url, rec := range r.arena.Snapshot() {
		if rec.Stats.IsBurned {
			continue
		}
		if r.backoff != nil && r.backoff.State(url) == backoff.Open {
			recoverable = append(recoverable, url)
		}
	}

	resetCount := len(recoverable) / 2
	for i := 0; i < resetCount; i++ {
		if r.backoff != nil {
			r.backoff.TrackSuccess(recoverable[i])
		}
	}
}

// HealthyCount reports how many non-burned, circuit-closed proxies the
// arena currently holds.
func (r *Rotator) HealthyCount() int {
	count := 0
	for url, rec := range r.arena.Snapshot() {
		if rec.Stats.IsBurned {
			continue
		}
		if r.backoff != nil && r.backoff.State(url) == backoff.Open {
			continue
		}
		count++
	}
	return count
}

// MaintenanceTick runs one iteration of the background maintenance loop:
// counts healthy proxies, triggers an emergency refresh if the count is
// low, and prunes stale backoff state.
func (r *Rotator) MaintenanceTick(ctx context.Context, backoffMaxAge time.Duration) {
	if r.HealthyCount() < r.minHealthy {
		r.EmergencyRefresh(ctx)
	}
	if r.backoff != nil {
		r.backoff.Prune(backoffMaxAge)
	}
}

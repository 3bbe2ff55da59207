package premiumproxy

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/rohmanhakim/antibot-acquire/internal/config"
	"github.com/rohmanhakim/antibot-acquire/internal/proxytypes"
)

// Manager owns purchase policy and spend tracking for one premium proxy
// provider, folding newly purchased proxies into the shared arena.
type Manager struct {
	mu sync.Mutex

	provider Provider
	arena    *proxytypes.Arena

	enabled             bool
	autoPurchaseEnabled bool
	cooldown            time.Duration
	batchSize           int
	maxMonthlyCostUSD   float64
	costPerProxy        float64
	minCount            int
	maxCount            int
	safetyFactor        float64
	targetSuccessRate   float64

	totalMonthlyCostUSD float64
	lastPurchaseTime    time.Time
}

// NewManager builds a Manager from configuration. costPerProxy is supplied
// separately since the provider config doesn't carry a flat per-unit price;
// callers derive it from the provider's own balance/pricing response.
func NewManager(cfg config.PremiumProxyConfig, provider Provider, arena *proxytypes.Arena, costPerProxy float64) *Manager {
	safetyFactor := cfg.SafetyFactor
	if safetyFactor <= 0 {
		safetyFactor = 1.5
	}
	targetSuccessRate := cfg.TargetSuccessRate
	if targetSuccessRate <= 0 {
		targetSuccessRate = 0.8
	}
	return &Manager{
		provider:            provider,
		arena:               arena,
		enabled:             cfg.Enabled,
		autoPurchaseEnabled: cfg.AutoPurchaseEnabled,
		cooldown:            time.Duration(cfg.CooldownSeconds) * time.Second,
		batchSize:           cfg.BatchSize,
		maxMonthlyCostUSD:   cfg.MaxMonthlyCostUSD,
		costPerProxy:        costPerProxy,
		minCount:            cfg.MinCount,
		maxCount:            cfg.MaxCount,
		safetyFactor:        safetyFactor,
		targetSuccessRate:   targetSuccessRate,
	}
}

// CanPurchase reports whether buying count more proxies right now respects
// the auto-purchase toggle, cooldown, and monthly budget.
func (m *Manager) CanPurchase(count int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canPurchaseLocked(count)
}

func (m *Manager) canPurchaseLocked(count int) bool {
	if !m.autoPurchaseEnabled || count <= 0 {
		return false
	}
	if !m.lastPurchaseTime.IsZero() && time.Since(m.lastPurchaseTime) < m.cooldown {
		return false
	}
	estimatedCost := float64(count) * m.costPerProxy
	return m.totalMonthlyCostUSD+estimatedCost <= m.maxMonthlyCostUSD
}

// Recommend computes how many proxies to buy to cover deficit, clamped by
// batch size and remaining budget.
func (m *Manager) Recommend(deficit int) Recommendation {
	m.mu.Lock()
	defer m.mu.Unlock()

	budgetRemaining := math.Max(0, m.maxMonthlyCostUSD-m.totalMonthlyCostUSD)
	cooldownRemaining := 0
	if !m.lastPurchaseTime.IsZero() {
		remaining := m.cooldown - time.Since(m.lastPurchaseTime)
		if remaining > 0 {
			cooldownRemaining = int(math.Ceil(remaining.Minutes()))
		}
	}

	if deficit <= 0 {
		return Recommendation{BudgetRemaining: budgetRemaining, CooldownRemainingMinutes: cooldownRemaining}
	}

	maxByBudget := deficit
	if m.costPerProxy > 0 {
		maxByBudget = int(math.Floor(budgetRemaining / m.costPerProxy))
	}
	recommended := minInt3(deficit, m.batchSize, maxByBudget)
	if recommended < 0 {
		recommended = 0
	}

	canPurchase := m.autoPurchaseEnabled && recommended > 0 && cooldownRemaining == 0 && m.canPurchaseLocked(recommended)

	return Recommendation{
		CanPurchase:              canPurchase,
		RecommendedCount:         recommended,
		EstimatedCost:            float64(recommended) * m.costPerProxy,
		BudgetRemaining:          budgetRemaining,
		CooldownRemainingMinutes: cooldownRemaining,
	}
}

// EnsureMinPool tops the arena up to target active proxies if auto-purchase
// permits it, folding any newly bought proxies into the arena.
func (m *Manager) EnsureMinPool(ctx context.Context, target int) PurchaseResult {
	active := m.activeCount()
	result := PurchaseResult{TargetCount: target, CurrentCount: active}

	if target <= 0 {
		result.Success = true
		result.Message = "no target specified"
		return result
	}
	if !m.autoPurchaseEnabled {
		result.Message = "auto purchase disabled"
		return result
	}

	deficit := target - active
	if deficit <= 0 {
		result.Success = true
		result.Message = "proxy pool sufficient"
		return result
	}

	rec := m.Recommend(deficit)
	if rec.RecommendedCount <= 0 || !rec.CanPurchase {
		result.Message = "purchase conditions not met"
		return result
	}

	purchased, err := m.provider.Purchase(ctx, rec.RecommendedCount)
	if err != nil {
		result.Message = "provider purchase failed: " + err.Error()
		return result
	}

	for _, pp := range purchased {
		m.arena.Put(toDescriptor(pp))
	}

	m.mu.Lock()
	cost := float64(len(purchased)) * m.costPerProxy
	m.totalMonthlyCostUSD += cost
	m.lastPurchaseTime = time.Now()
	m.mu.Unlock()

	result.Purchased = len(purchased)
	result.Cost = cost
	result.Success = true
	result.Message = "proxies purchased successfully"
	return result
}

// RefreshActive folds the provider's current active list into the arena,
// preserving existing Stats for proxies that are still listed. Proxies that
// are no longer listed are left in the arena.
func (m *Manager) RefreshActive(ctx context.Context) (int, error) {
	active, err := m.provider.FetchActive(ctx)
	if err != nil {
		return 0, err
	}
	for _, pp := range active {
		d := toDescriptor(pp)
		if !m.arena.With(d.URL, func(rec *proxytypes.Record) { rec.Descriptor = d }) {
			m.arena.Put(d)
		}
	}
	return len(active), nil
}

// AutoscaleTarget computes the recommended active-proxy count for a given
// concurrency level: ceil(concurrency*safetyFactor/targetSuccessRate),
// clamped to [minCount, maxCount].
func (m *Manager) AutoscaleTarget(concurrency int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	optimal := math.Ceil(float64(concurrency) * m.safetyFactor / m.targetSuccessRate)
	n := int(optimal)
	if m.minCount > 0 && n < m.minCount {
		n = m.minCount
	}
	if m.maxCount > 0 && n > m.maxCount {
		n = m.maxCount
	}
	return n
}

// BudgetStatus reports how close spend is to the monthly ceiling.
func (m *Manager) BudgetStatus() BudgetAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxMonthlyCostUSD <= 0 {
		return BudgetOK
	}
	ratio := m.totalMonthlyCostUSD / m.maxMonthlyCostUSD
	switch {
	case ratio >= 1.0:
		return BudgetExhausted
	case ratio >= 0.8:
		return BudgetWarning
	default:
		return BudgetOK
	}
}

func (m *Manager) activeCount() int {
	count := 0
	now := time.Now()
	for _, rec := range m.arena.Snapshot() {
		if !rec.Stats.IsBurned && !rec.Descriptor.Expired(now) {
			count++
		}
	}
	return count
}

func toDescriptor(pp ProviderProxy) proxytypes.Descriptor {
	return proxytypes.Descriptor{
		URL:       formattedURL(pp),
		Protocol:  proxytypes.Protocol(pp.Protocol),
		Country:   pp.Country,
		CreatedAt: time.Now(),
		ExpiresAt: pp.ExpiresAt,
	}
}

func formattedURL(pp ProviderProxy) string {
	return pp.Protocol + "://" + pp.Username + ":" + pp.Password + "@" + pp.Host + ":" + strconv.Itoa(pp.Port)
}

func minInt3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

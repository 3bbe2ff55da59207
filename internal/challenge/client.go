package challenge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rohmanhakim/antibot-acquire/internal/config"
	"github.com/rohmanhakim/antibot-acquire/internal/coordinator"
)

// Client drives a FlareSolverr-shaped guard-bypass sidecar over its /v1
// JSON protocol. It implements coordinator.ChallengeSolver.
type Client struct {
	httpClient *http.Client
	endpoint   string
	enabled    bool

	maxTimeoutMs int

	maxRetries        int
	retryDelay        time.Duration
	backoffMultiplier float64

	sessionsEnabled  bool
	sessionTTL       time.Duration
	sessionMaxCount  int

	healthInterval time.Duration
	maxBypass      int
	cooldown       time.Duration
	domainOverride map[string]config.DomainOverrideConfig

	mu             sync.Mutex
	sessions       map[string]sessionState
	healthOK       bool
	healthCheckedAt time.Time
	attempts       map[string]*domainAttempts
}

type domainAttempts struct {
	count       int
	windowStart time.Time
}

// New builds a challenge-solver client with its own http.Client.
func New(cfg config.FlareSolverrConfig, guard config.GuardDetectionConfig) *Client {
	timeout := time.Duration(cfg.MaxTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return NewWithClient(cfg, guard, &http.Client{Timeout: timeout})
}

// NewWithClient builds a challenge-solver client against an injected
// http.Client, the seam tests use to point at an httptest.Server.
func NewWithClient(cfg config.FlareSolverrConfig, guard config.GuardDetectionConfig, client *http.Client) *Client {
	maxRetries := cfg.RetryPolicy.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}
	retryDelay := cfg.RetryPolicy.RetryDelaySeconds
	if retryDelay <= 0 {
		retryDelay = 2.0
	}
	backoffMultiplier := cfg.RetryPolicy.BackoffMultiplier
	if backoffMultiplier <= 0 {
		backoffMultiplier = 1.5
	}
	maxBypass := guard.MaxBypassAttempts
	if maxBypass <= 0 {
		maxBypass = 3
	}
	cooldown := time.Duration(guard.CooldownSeconds) * time.Second
	if cooldown <= 0 {
		cooldown = 10 * time.Minute
	}

	return &Client{
		httpClient:        client,
		endpoint:          strings.TrimRight(cfg.Endpoint, "/"),
		enabled:           cfg.Enabled,
		maxTimeoutMs:      cfg.MaxTimeoutMs,
		maxRetries:        maxRetries,
		retryDelay:        time.Duration(retryDelay * float64(time.Second)),
		backoffMultiplier: backoffMultiplier,
		sessionsEnabled:   cfg.SessionManagement.Enabled,
		sessionTTL:        cfg.SessionManagement.TTL,
		sessionMaxCount:   cfg.SessionManagement.MaxCount,
		healthInterval:    cfg.HealthCheckInterval,
		maxBypass:         maxBypass,
		cooldown:          cooldown,
		domainOverride:    guard.DomainOverrides,
		sessions:          make(map[string]sessionState),
		attempts:          make(map[string]*domainAttempts),
	}
}

// IsEnabled reports whether the solver is configured to run at all.
func (c *Client) IsEnabled() bool {
	return c.enabled
}

// HealthCheck pings the solver's /health endpoint, caching the result for
// healthInterval so escalation does not pay a round trip on every call.
func (c *Client) HealthCheck(ctx context.Context) bool {
	if !c.enabled {
		return false
	}

	c.mu.Lock()
	if c.healthInterval > 0 && time.Since(c.healthCheckedAt) < c.healthInterval {
		ok := c.healthOK
		c.mu.Unlock()
		return ok
	}
	c.mu.Unlock()

	ok := c.probeHealth(ctx)

	c.mu.Lock()
	c.healthOK = ok
	c.healthCheckedAt = time.Now()
	c.mu.Unlock()
	return ok
}

func (c *Client) probeHealth(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	var env healthEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return false
	}
	return env.Status == "ok"
}

// Solve implements coordinator.ChallengeSolver: it replays req through the
// guard-bypass sidecar and reports whether a usable solution came back.
func (c *Client) Solve(ctx context.Context, req coordinator.ChallengeRequest) (*coordinator.ChallengeResponse, bool) {
	if !c.enabled {
		return nil, false
	}
	if !c.admitAttempt(req.Domain) {
		return nil, false
	}

	session := c.acquireSession(ctx, req.Domain)

	cmd := "request.get"
	data := ""
	if strings.EqualFold(req.Method, http.MethodPost) {
		cmd = "request.post"
		data = req.Body
	}

	payload := c.buildPayload(cmd, req, session, data)
	env, err := c.postWithRetry(ctx, payload)
	if err != nil {
		return nil, false
	}

	resp := normalizeSolution(env)
	if resp == nil {
		return nil, false
	}
	return resp, true
}

func (c *Client) admitAttempt(domain string) bool {
	limit := c.maxBypass
	cooldown := c.cooldown
	if override, ok := c.domainOverride[domain]; ok {
		_ = override // domain overrides currently only tune navigation/backoff, budget stays global
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.attempts[domain]
	if !ok {
		state = &domainAttempts{windowStart: time.Now()}
		c.attempts[domain] = state
	}
	if time.Since(state.windowStart) > cooldown {
		state.count = 0
		state.windowStart = time.Now()
	}
	if state.count >= limit {
		return false
	}
	state.count++
	return true
}

func (c *Client) acquireSession(ctx context.Context, domain string) string {
	if !c.sessionsEnabled || domain == "" {
		return ""
	}

	c.mu.Lock()
	existing, ok := c.sessions[domain]
	c.mu.Unlock()
	if ok && !existing.expired(c.sessionTTL) {
		return existing.name
	}

	name, err := c.createSession(ctx, domain)
	if err != nil || name == "" {
		return ""
	}

	c.mu.Lock()
	c.sessions[domain] = sessionState{name: name, createdAt: time.Now()}
	c.mu.Unlock()
	return name
}

func (c *Client) createSession(ctx context.Context, domain string) (string, error) {
	name := fmt.Sprintf("acq-%s", strings.ReplaceAll(domain, ".", "-"))
	payload := solveRequest{Cmd: "sessions.create", Session: name, MaxTimeout: c.maxTimeoutMs}
	_, err := c.postRaw(ctx, payload)
	if err != nil {
		return "", err
	}
	return name, nil
}

// DestroySession tears down a previously created solver-side session.
func (c *Client) DestroySession(ctx context.Context, domain string) bool {
	c.mu.Lock()
	existing, ok := c.sessions[domain]
	delete(c.sessions, domain)
	c.mu.Unlock()
	if !ok {
		return false
	}

	payload := solveRequest{Cmd: "sessions.destroy", Session: existing.name}
	_, err := c.postRaw(ctx, payload)
	return err == nil
}

func (c *Client) buildPayload(cmd string, req coordinator.ChallengeRequest, session, data string) solveRequest {
	payload := solveRequest{
		Cmd:        cmd,
		URL:        req.URL,
		MaxTimeout: c.maxTimeoutMs,
	}
	if len(req.Headers) > 0 {
		payload.Headers = req.Headers
	}
	if len(req.Cookies) > 0 {
		cookies := make([]solveCookie, 0, len(req.Cookies))
		for name, value := range req.Cookies {
			cookies = append(cookies, solveCookie{Name: name, Value: value})
		}
		payload.Cookies = cookies
	}
	if req.Proxy != "" {
		payload.Proxy = &solveProxy{URL: req.Proxy}
	}
	if session != "" {
		payload.Session = session
	}
	if data != "" {
		payload.PostData = data
	}
	return payload
}

// postWithRetry mirrors the bounded-retry-with-multiplicative-backoff policy
// used by the guard-bypass sidecar, distinct from the HTTP retry policy used
// for direct requests.
func (c *Client) postWithRetry(ctx context.Context, payload solveRequest) (*solveEnvelope, error) {
	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		env, err := c.postRaw(ctx, payload)
		if err == nil {
			return env, nil
		}
		lastErr = err
		if attempt >= c.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * c.backoffMultiplier)
	}
	return nil, lastErr
}

func (c *Client) postRaw(ctx context.Context, payload solveRequest) (*solveEnvelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &ChallengeError{Message: err.Error(), Retryable: false, Cause: ErrCauseMalformedReply}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1", bytes.NewReader(body))
	if err != nil {
		return nil, &ChallengeError{Message: err.Error(), Retryable: false, Cause: ErrCauseRequestFailed}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ChallengeError{Message: err.Error(), Retryable: true, Cause: ErrCauseRequestFailed}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ChallengeError{Message: fmt.Sprintf("solver returned status %d", resp.StatusCode), Retryable: resp.StatusCode >= 500, Cause: ErrCauseHTTPStatus}
	}

	var env solveEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, &ChallengeError{Message: err.Error(), Retryable: false, Cause: ErrCauseMalformedReply}
	}
	if env.Status != "ok" {
		return nil, &ChallengeError{Message: env.Message, Retryable: true, Cause: ErrCauseHTTPStatus}
	}
	return &env, nil
}

func normalizeSolution(env *solveEnvelope) *coordinator.ChallengeResponse {
	if env == nil || env.Solution == nil {
		return nil
	}
	sol := env.Solution

	headers := make(http.Header, len(sol.Headers))
	for name, value := range sol.Headers {
		if name != "" && value != "" {
			headers.Set(name, value)
		}
	}

	cookies := make(map[string]string, len(sol.Cookies))
	for _, ck := range sol.Cookies {
		if ck.Name != "" {
			cookies[ck.Name] = ck.Value
		}
	}

	var rt time.Duration
	if sol.ResponseTime > 0 {
		rt = time.Duration(sol.ResponseTime * float64(time.Millisecond))
	}

	return &coordinator.ChallengeResponse{
		Status:       sol.Status,
		HTML:         sol.Response,
		Headers:      headers,
		Cookies:      cookies,
		UserAgent:    sol.UserAgent,
		FinalURL:     sol.URL,
		ResponseTime: rt,
	}
}

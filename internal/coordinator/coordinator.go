package coordinator

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rohmanhakim/antibot-acquire/internal/backoff"
	"github.com/rohmanhakim/antibot-acquire/internal/proxyrotator"
	"github.com/rohmanhakim/antibot-acquire/internal/robots"
	"github.com/rohmanhakim/antibot-acquire/internal/useragent"
	"github.com/rohmanhakim/antibot-acquire/internal/validator"
)

// Coordinator is the Anti-bot Coordinator: it orchestrates robots
// compliance, crawl-delay pacing, user-agent rotation, proxy acquisition,
// content validation, and the CAPTCHA/challenge escalation hooks behind one
// per-request call, and owns the independent per-domain circuit breaker.
type Coordinator struct {
	robotsChecker *robots.Checker
	userAgents    *useragent.Rotator
	proxies       *proxyrotator.Rotator
	backoffEngine *backoff.Engine
	contentCheck  *validator.Validator

	captcha   CaptchaSolver   // optional, may be nil
	challenge ChallengeSolver // optional, may be nil
	sessions  SessionStore    // optional, may be nil

	clientFor func(proxyURL string) HTTPDoer

	domainBreaker *domainBreaker
	maxAttempts   int
}

// Option configures optional collaborators on construction.
type Option func(*Coordinator)

func WithCaptchaSolver(c CaptchaSolver) Option {
	return func(co *Coordinator) { co.captcha = c }
}

func WithChallengeSolver(c ChallengeSolver) Option {
	return func(co *Coordinator) { co.challenge = c }
}

func WithSessionStore(s SessionStore) Option {
	return func(co *Coordinator) { co.sessions = s }
}

// WithHTTPClientFactory overrides how the coordinator builds an HTTP client
// for a given proxy URL, letting tests substitute a fake transport.
func WithHTTPClientFactory(factory func(proxyURL string) HTTPDoer) Option {
	return func(co *Coordinator) { co.clientFor = factory }
}

// New builds a Coordinator. maxAttempts bounds the per-request retry loop;
// domainCircuitTimeout is the domain breaker's open-to-half-open window
// (defaults to five minutes when zero).
func New(
	robotsChecker *robots.Checker,
	userAgents *useragent.Rotator,
	proxies *proxyrotator.Rotator,
	backoffEngine *backoff.Engine,
	contentCheck *validator.Validator,
	maxAttempts int,
	domainCircuitTimeout time.Duration,
	opts ...Option,
) *Coordinator {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	co := &Coordinator{
		robotsChecker: robotsChecker,
		userAgents:    userAgents,
		proxies:       proxies,
		backoffEngine: backoffEngine,
		contentCheck:  contentCheck,
		domainBreaker: newDomainBreaker(domainCircuitTimeout),
		maxAttempts:   maxAttempts,
		clientFor:     defaultClientFor,
	}
	for _, opt := range opts {
		opt(co)
	}
	return co
}

func defaultClientFor(proxyURL string) HTTPDoer {
	transport := &http.Transport{}
	if proxyURL != "" {
		if parsed, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(parsed)
		}
	}
	return &http.Client{Transport: transport, Timeout: 30 * time.Second}
}

func extractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Hostname()
}

// MakeRequest runs the full per-request acquisition protocol against
// rawURL: domain circuit pre-check, robots compliance, crawl-delay pacing,
// mandatory user-agent rotation, proxy acquisition, and a retry loop that
// classifies network failures and validates response content, escalating
// to the CAPTCHA and challenge solvers when the content validator calls for
// it.
func (co *Coordinator) MakeRequest(ctx context.Context, rawURL, method string, headers map[string]string) Result {
	domain := extractDomain(rawURL)

	if co.domainBreaker.isOpen(domain) {
		return Result{Outcome: OutcomeCircuitOpen}
	}
	co.domainBreaker.beforeRequest(domain)

	if co.robotsChecker != nil {
		target, err := url.Parse(rawURL)
		if err == nil {
			ua := co.peekUserAgent(domain)
			decision := co.robotsChecker.Check(ctx, *target, ua)
			if !decision.Allowed {
				return Result{Outcome: OutcomeRobotsBlocked}
			}
			co.robotsChecker.ApplyCrawlDelay(domain, decision.CrawlDelay)
		}
	}

	ua := co.userAgents.Next(useragent.PoolBrowser, domain)

	acquired := co.proxies.Acquire(proxyrotator.Requirements{})
	if !acquired.Found {
		return Result{Outcome: OutcomeNoProxy}
	}
	proxyURL := acquired.ProxyURL

	var cookies map[string]string
	requestHeaders := cloneHeaders(headers)
	if co.sessions != nil {
		if rec, ok := co.sessions.Load(domain); ok {
			cookies = rec.Cookies
			for k, v := range rec.Headers {
				if _, explicit := headers[k]; !explicit {
					requestHeaders[k] = v
				}
			}
		}
	}

	for attempt := 0; attempt < co.maxAttempts; attempt++ {
		start := time.Now()
		resp, body, err := co.doOnce(ctx, proxyURL, rawURL, method, ua, requestHeaders, cookies)
		rt := time.Since(start)

		if err != nil {
			kind := classifyTransportError(err)
			co.proxies.MarkFailure(ctx, proxyURL, kind)
			if co.backoffEngine != nil && co.backoffEngine.ShouldRetry(proxyURL, attempt, kind) {
				co.backoffEngine.WaitWithBackoff(proxyURL, attempt, kind)
				proxyURL = co.reacquireProxy(proxyURL)
				continue
			}
			break
		}

		// A 404 is terminal, not a signal of site distress: it is never
		// retried and never counted against the domain circuit or the
		// proxy that served it.
		if resp.StatusCode == http.StatusNotFound {
			co.proxies.MarkSuccess(proxyURL, rt, body)
			co.domainBreaker.recordSuccess(domain)
			return Result{Outcome: OutcomeNotFound, Response: &Response{
				Status: resp.StatusCode, Body: body, Headers: resp.Header,
				ProxyUsed: proxyURL, UserAgent: ua, Attempts: attempt + 1, ResponseTime: rt,
			}}
		}

		if co.contentCheck != nil {
			result := co.contentCheck.Validate(rawURL, body, "")
			if !result.IsValid {
				if result.BlockType == validator.BlockCaptcha && co.captcha != nil {
					if token, solved := co.captcha.DetectAndSolve(ctx, body, rawURL, proxyURL); solved {
						h := cloneHeaders(requestHeaders)
						h["X-Captcha-Token"] = token
						resp2, body2, err2 := co.doOnce(ctx, proxyURL, rawURL, method, ua, h, cookies)
						if err2 == nil && resp2.StatusCode < 400 {
							co.onSuccess(domain, proxyURL, ua, rt, body2)
							return Result{Outcome: OutcomeSuccess, Response: &Response{
								Status: resp2.StatusCode, Body: body2, Headers: resp2.Header,
								ProxyUsed: proxyURL, UserAgent: ua, Attempts: attempt + 1, ResponseTime: rt,
							}}
						}
					}
				}

				if co.challenge != nil && escalationEligible(result, resp.StatusCode) {
					chReq := ChallengeRequest{
						URL: rawURL, Method: method, Headers: requestHeaders,
						Cookies: cookies, Proxy: proxyURL, Domain: domain,
					}
					if chResp, solved := co.challenge.Solve(ctx, chReq); solved {
						co.onSuccess(domain, proxyURL, chResp.UserAgent, chResp.ResponseTime, chResp.HTML)
						return Result{Outcome: OutcomeSuccess, Response: &Response{
							Status: chResp.Status, Body: chResp.HTML, Headers: chResp.Headers,
							ProxyUsed: proxyURL, UserAgent: chResp.UserAgent, Attempts: attempt + 1,
							ResponseTime: chResp.ResponseTime, SolvedByChallenge: true,
						}}
					}
				}

				kind := classifyBlockType(result.BlockType)
				co.proxies.MarkFailure(ctx, proxyURL, kind)
				proxyURL = co.reacquireProxy(proxyURL)
				continue
			}
		}

		co.onSuccess(domain, proxyURL, ua, rt, body)
		return Result{Outcome: OutcomeSuccess, Response: &Response{
			Status: resp.StatusCode, Body: body, Headers: resp.Header,
			ProxyUsed: proxyURL, UserAgent: ua, Attempts: attempt + 1, ResponseTime: rt,
		}}
	}

	co.domainBreaker.recordFailure(domain)
	return Result{Outcome: OutcomeExhausted}
}

func (co *Coordinator) onSuccess(domain, proxyURL, ua string, rt time.Duration, body string) {
	co.proxies.MarkSuccess(proxyURL, rt, body)
	co.userAgents.Observe(ua, true, rt, domain)
	co.domainBreaker.recordSuccess(domain)
	if co.sessions != nil {
		co.sessions.Update(domain, nil, nil)
	}
}

func (co *Coordinator) reacquireProxy(current string) string {
	acquired := co.proxies.Acquire(proxyrotator.Requirements{})
	if !acquired.Found {
		return current
	}
	return acquired.ProxyURL
}

// peekUserAgent returns a user agent for robots-check purposes without
// consuming mandatory rotation state; ForDomain reuses history when present.
func (co *Coordinator) peekUserAgent(domain string) string {
	return co.userAgents.ForDomain(domain)
}

func (co *Coordinator) doOnce(ctx context.Context, proxyURL, rawURL, method, ua string, headers, cookies map[string]string) (*http.Response, string, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", ua)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for name, value := range cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	client := co.clientFor(proxyURL)
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, "", err
	}
	return resp, string(buf), nil
}

func cloneHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h)+1)
	for k, v := range h {
		out[k] = v
	}
	return out
}

// CheckDomainHealth issues one unprotected GET to the domain root with a
// short timeout; status below 500 counts as healthy. This is an advisory
// pre-flight probe run before a mass export, not a gate the coordinator
// enforces itself — the caller decides whether to abort.
func CheckDomainHealth(ctx context.Context, domain string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+strings.TrimSuffix(domain, "/")+"/", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

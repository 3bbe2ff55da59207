package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rohmanhakim/antibot-acquire/internal/config"
)

// SubmitRequest carries everything a type-specific solve needs to submit to
// the external service.
type SubmitRequest struct {
	Type      Type
	SiteKey   string
	PageURL   string
	Action    string // recaptcha v3 only
	ImageData []byte // image_captcha only, pre-base64
	Proxy     string
	UserAgent string
}

// Solver is the CAPTCHA Solver Client: a 2captcha-shaped submit/poll/balance
// HTTP client with balance-aware cost accounting.
type Solver struct {
	httpClient *http.Client
	apiKey     string
	apiURL     string

	enabled          bool
	maxSolveSeconds  int
	pollingInterval  time.Duration
	preferFastWorker bool

	dailyLimitUSD     float64
	minBalanceUSD     float64
	alertOnLowBalance bool

	mu        sync.Mutex
	stats     Stats
	lastReset string
}

// New builds a Solver with its own http.Client.
func New(cfg config.CaptchaSolvingConfig, apiKey string) *Solver {
	return NewWithClient(cfg, apiKey, &http.Client{Timeout: 30 * time.Second})
}

// NewWithClient builds a Solver against an injected http.Client, the seam
// tests use to point at an httptest.Server standing in for 2captcha.
func NewWithClient(cfg config.CaptchaSolvingConfig, apiKey string, client *http.Client) *Solver {
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = "http://2captcha.com"
	}
	maxSolve := cfg.PerformanceSettings.MaxSolveSeconds
	if maxSolve <= 0 {
		maxSolve = 60
	}
	pollInterval := cfg.PollingIntervalSeconds
	if pollInterval <= 0 {
		pollInterval = 5
	}
	dailyLimit := cfg.CostTracking.DailyLimitUSD
	if dailyLimit <= 0 {
		dailyLimit = 10.0
	}
	minBalance := cfg.CostTracking.MinBalanceUSD
	if minBalance <= 0 {
		minBalance = 5.0
	}

	return &Solver{
		httpClient:        client,
		apiKey:            apiKey,
		apiURL:            apiURL,
		enabled:           cfg.Enabled && apiKey != "",
		maxSolveSeconds:   maxSolve,
		pollingInterval:   time.Duration(pollInterval) * time.Second,
		preferFastWorker:  cfg.PerformanceSettings.PreferFastWorkers,
		dailyLimitUSD:     dailyLimit,
		minBalanceUSD:     minBalance,
		alertOnLowBalance: cfg.CostTracking.AlertOnLowBalance,
		lastReset:         currentDateStamp(),
	}
}

func currentDateStamp() string {
	return time.Now().Format("2006-01-02")
}

// DetectAndSolve implements the coordinator.CaptchaSolver port: it detects a
// CAPTCHA in body and, if found and solvable, returns the solution token
// (reCAPTCHA v2/v3, hCaptcha). Image CAPTCHAs are detected but not
// submitted; they report unsolved.
func (s *Solver) DetectAndSolve(ctx context.Context, body, pageURL, proxy string) (string, bool) {
	detection := Detect(body, pageURL)
	if !detection.Detected {
		return "", false
	}

	switch detection.Type {
	case TypeRecaptchaV2:
		token, err := s.SolveRecaptchaV2(ctx, detection.SiteKey, pageURL, proxy, "")
		return token, err == nil && token != ""
	case TypeRecaptchaV3:
		action := detection.Action
		if action == "" {
			action = "submit"
		}
		token, err := s.SolveRecaptchaV3(ctx, detection.SiteKey, pageURL, action, proxy, "")
		return token, err == nil && token != ""
	case TypeHCaptcha:
		token, err := s.SolveHCaptcha(ctx, detection.SiteKey, pageURL, proxy, "")
		return token, err == nil && token != ""
	default:
		return "", false
	}
}

// SolveRecaptchaV2 submits a reCAPTCHA v2 challenge and polls for the token.
func (s *Solver) SolveRecaptchaV2(ctx context.Context, siteKey, pageURL, proxy, userAgent string) (string, error) {
	return s.solve(ctx, TypeRecaptchaV2, map[string]string{
		"method":    "userrecaptcha",
		"googlekey": siteKey,
		"pageurl":   pageURL,
	}, proxy, userAgent)
}

// SolveRecaptchaV3 submits a reCAPTCHA v3 challenge with its action parameter.
func (s *Solver) SolveRecaptchaV3(ctx context.Context, siteKey, pageURL, action, proxy, userAgent string) (string, error) {
	return s.solve(ctx, TypeRecaptchaV3, map[string]string{
		"method":    "userrecaptcha",
		"version":   "v3",
		"googlekey": siteKey,
		"pageurl":   pageURL,
		"action":    action,
	}, proxy, userAgent)
}

// SolveHCaptcha submits an hCaptcha challenge and polls for the token.
func (s *Solver) SolveHCaptcha(ctx context.Context, siteKey, pageURL, proxy, userAgent string) (string, error) {
	return s.solve(ctx, TypeHCaptcha, map[string]string{
		"method":  "hcaptcha",
		"sitekey": siteKey,
		"pageurl": pageURL,
	}, proxy, userAgent)
}

func (s *Solver) solve(ctx context.Context, kind Type, params map[string]string, proxy, userAgent string) (string, error) {
	if !s.enabled {
		return "", &CaptchaError{Message: "solver disabled", Cause: ErrCauseDisabled}
	}

	s.recordAttempt()

	if err := s.checkBudget(ctx, kind); err != nil {
		return "", err
	}

	params["key"] = s.apiKey
	params["json"] = "1"
	if proxy != "" {
		if formatted := formatProxy(proxy); formatted != nil {
			for k, v := range formatted {
				params[k] = v
			}
		}
	}
	if userAgent != "" {
		params["userAgent"] = userAgent
	}
	if s.preferFastWorker {
		params["fast"] = "1"
	}

	start := time.Now()
	captchaID, err := s.submit(ctx, params)
	if err != nil {
		s.recordFailure()
		return "", err
	}

	token, err := s.poll(ctx, captchaID)
	if err != nil {
		s.recordFailure()
		return "", err
	}

	s.recordSuccess(kind, time.Since(start))
	return token, nil
}

type twoCaptchaEnvelope struct {
	Status    int    `json:"status"`
	Request   string `json:"request"`
	ErrorText string `json:"error_text"`
}

func (s *Solver) submit(ctx context.Context, params map[string]string) (string, error) {
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"/in.php", strings.NewReader(form.Encode()))
	if err != nil {
		return "", &CaptchaError{Message: err.Error(), Retryable: false, Cause: ErrCauseSubmitFailed}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", &CaptchaError{Message: err.Error(), Retryable: true, Cause: ErrCauseSubmitFailed}
	}
	defer resp.Body.Close()

	var env twoCaptchaEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", &CaptchaError{Message: err.Error(), Retryable: false, Cause: ErrCauseSubmitFailed}
	}
	if env.Status != 1 {
		return "", &CaptchaError{Message: env.ErrorText, Retryable: true, Cause: ErrCauseSubmitFailed}
	}
	return env.Request, nil
}

func (s *Solver) poll(ctx context.Context, captchaID string) (string, error) {
	deadline := time.Now().Add(time.Duration(s.maxSolveSeconds) * time.Second)

	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL+"/res.php", nil)
		if err != nil {
			return "", &CaptchaError{Message: err.Error(), Retryable: false, Cause: ErrCausePollFailed}
		}
		q := req.URL.Query()
		q.Set("key", s.apiKey)
		q.Set("action", "get")
		q.Set("id", captchaID)
		q.Set("json", "1")
		req.URL.RawQuery = q.Encode()

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return "", &CaptchaError{Message: err.Error(), Retryable: true, Cause: ErrCausePollFailed}
		}
		var env twoCaptchaEnvelope
		decodeErr := json.NewDecoder(resp.Body).Decode(&env)
		resp.Body.Close()
		if decodeErr != nil {
			return "", &CaptchaError{Message: decodeErr.Error(), Retryable: false, Cause: ErrCausePollFailed}
		}

		if env.Status == 1 {
			return env.Request, nil
		}
		if env.Request == "CAPCHA_NOT_READY" {
			select {
			case <-ctx.Done():
				return "", &CaptchaError{Message: ctx.Err().Error(), Retryable: false, Cause: ErrCausePollFailed}
			case <-time.After(s.pollingInterval):
			}
			continue
		}
		return "", &CaptchaError{Message: env.ErrorText, Retryable: false, Cause: ErrCausePollFailed}
	}

	s.mu.Lock()
	s.stats.TimeoutErrors++
	s.mu.Unlock()
	return "", &CaptchaError{Message: "solve timed out", Retryable: true, Cause: ErrCauseSolveTimeout}
}

// Balance queries the solver account's current USD balance.
func (s *Solver) Balance(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL+"/res.php", nil)
	if err != nil {
		return 0, &CaptchaError{Message: err.Error(), Retryable: false, Cause: ErrCausePollFailed}
	}
	q := req.URL.Query()
	q.Set("key", s.apiKey)
	q.Set("action", "getbalance")
	q.Set("json", "1")
	req.URL.RawQuery = q.Encode()

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, &CaptchaError{Message: err.Error(), Retryable: true, Cause: ErrCausePollFailed}
	}
	defer resp.Body.Close()

	var env struct {
		Status  int    `json:"status"`
		Request string `json:"request"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return 0, &CaptchaError{Message: err.Error(), Retryable: false, Cause: ErrCausePollFailed}
	}
	if env.Status != 1 {
		return 0, &CaptchaError{Message: "balance query rejected", Retryable: true, Cause: ErrCausePollFailed}
	}
	balance, err := strconv.ParseFloat(env.Request, 64)
	if err != nil {
		return 0, &CaptchaError{Message: "malformed balance payload", Retryable: false, Cause: ErrCausePollFailed}
	}
	return balance, nil
}

func (s *Solver) checkBudget(ctx context.Context, kind Type) error {
	balance, err := s.Balance(ctx)
	if err != nil {
		s.mu.Lock()
		s.stats.BalanceErrors++
		s.mu.Unlock()
		return &CaptchaError{Message: "could not verify balance", Retryable: true, Cause: ErrCauseInsufficientBalance}
	}

	required := costPerType[kind]
	if balance < required {
		s.mu.Lock()
		s.stats.BalanceErrors++
		s.mu.Unlock()
		return &CaptchaError{Message: fmt.Sprintf("balance $%.4f below required $%.4f", balance, required), Cause: ErrCauseInsufficientBalance}
	}

	s.mu.Lock()
	s.resetIfNewDayLocked()
	dailyProjected := s.stats.DailyCostUSD + required
	s.mu.Unlock()
	if dailyProjected > s.dailyLimitUSD {
		return &CaptchaError{Message: "daily captcha spend limit would be exceeded", Cause: ErrCauseDailyLimitExceeded}
	}
	return nil
}

func (s *Solver) recordAttempt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.TotalAttempts++
}

func (s *Solver) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.FailedSolves++
}

func (s *Solver) recordSuccess(kind Type, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.SuccessfulSolves++

	prevSuccess := s.stats.SuccessfulSolves - 1
	if prevSuccess < 0 {
		prevSuccess = 0
	}
	totalTime := s.stats.AvgSolveSeconds*float64(prevSuccess) + elapsed.Seconds()
	newCount := prevSuccess + 1
	s.stats.AvgSolveSeconds = totalTime / float64(newCount)

	s.resetIfNewDayLocked()
	cost := costPerType[kind]
	s.stats.TotalCostUSD += cost
	s.stats.DailyCostUSD += cost
}

func (s *Solver) resetIfNewDayLocked() {
	today := currentDateStamp()
	if today != s.lastReset {
		s.stats.DailyCostUSD = 0
		s.lastReset = today
	}
	s.stats.LastResetDate = s.lastReset
}

// Stats returns a snapshot of the solver's solving activity.
func (s *Solver) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.stats
	snap.Enabled = s.enabled
	snap.DailyLimitUSD = s.dailyLimitUSD
	if snap.TotalAttempts > 0 {
		snap.SuccessRatePct = float64(snap.SuccessfulSolves) / float64(snap.TotalAttempts) * 100
	}
	return snap
}

// formatProxy adapts a proxy URL or host:port string into 2captcha's
// proxy/proxytype submit parameters.
func formatProxy(proxy string) map[string]string {
	if strings.Contains(proxy, "://") {
		parsed, err := url.Parse(proxy)
		if err != nil {
			return nil
		}
		hostPort := parsed.Hostname() + ":" + parsed.Port()
		if parsed.User != nil {
			pass, _ := parsed.User.Password()
			if parsed.User.Username() != "" && pass != "" {
				hostPort = parsed.User.Username() + ":" + pass + "@" + hostPort
			}
		}
		return map[string]string{
			"proxy":     hostPort,
			"proxytype": strings.ToUpper(parsed.Scheme),
		}
	}

	parts := strings.Split(proxy, ":")
	if len(parts) < 2 {
		return nil
	}
	hostPort := parts[0] + ":" + parts[1]
	if len(parts) >= 4 {
		hostPort = parts[2] + ":" + parts[3] + "@" + hostPort
	}
	return map[string]string{
		"proxy":     hostPort,
		"proxytype": "HTTP",
	}
}

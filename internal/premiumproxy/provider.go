package premiumproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Provider is the external premium-proxy service boundary. HTTPProvider is
// the production implementation; tests substitute a fake.
type Provider interface {
	FetchActive(ctx context.Context) ([]ProviderProxy, error)
	Balance(ctx context.Context) (float64, error)
	Purchase(ctx context.Context, count int) ([]ProviderProxy, error)
}

// HTTPProvider talks to a Proxy6.net-shaped API: {baseURL}/{apiKey}/{action}.
type HTTPProvider struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	country    string
	protocol   string
}

// NewHTTPProvider builds a provider client with its own http.Client.
func NewHTTPProvider(baseURL, apiKey, country, protocol string) *HTTPProvider {
	return NewHTTPProviderWithClient(baseURL, apiKey, country, protocol, &http.Client{Timeout: 15 * time.Second})
}

// NewHTTPProviderWithClient builds a provider client against an injected
// http.Client, the seam tests use to point at an httptest.Server.
func NewHTTPProviderWithClient(baseURL, apiKey, country, protocol string, client *http.Client) *HTTPProvider {
	return &HTTPProvider{httpClient: client, baseURL: baseURL, apiKey: apiKey, country: country, protocol: protocol}
}

type proxy6Envelope struct {
	Status  string                     `json:"status"`
	Error   string                     `json:"error"`
	Balance string                     `json:"balance"`
	List    map[string]proxy6ListEntry `json:"list"`
}

type proxy6ListEntry struct {
	Host      string `json:"host"`
	Port      string `json:"port"`
	User      string `json:"user"`
	Pass      string `json:"pass"`
	Type      string `json:"type"`
	Country   string `json:"country"`
	DateEnd   string `json:"date_end"`
}

func (p *HTTPProvider) FetchActive(ctx context.Context) ([]ProviderProxy, error) {
	var env proxy6Envelope
	if err := p.getJSON(ctx, "getproxy", map[string]string{"state": "active", "descr": "yes"}, &env); err != nil {
		return nil, err
	}
	if env.Status == "error" {
		return nil, &PremiumProxyError{Message: env.Error, Retryable: true, Cause: ErrCauseProviderError}
	}

	proxies := make([]ProviderProxy, 0, len(env.List))
	for id, entry := range env.List {
		port, _ := strconv.Atoi(entry.Port)
		proxies = append(proxies, ProviderProxy{
			ID:       id,
			Host:     entry.Host,
			Port:     port,
			Username: entry.User,
			Password: entry.Pass,
			Protocol: entry.Type,
			Country:  entry.Country,
		})
	}
	return proxies, nil
}

func (p *HTTPProvider) Balance(ctx context.Context) (float64, error) {
	var env proxy6Envelope
	if err := p.getJSON(ctx, "getbalance", nil, &env); err != nil {
		return 0, err
	}
	if env.Status == "error" {
		return 0, &PremiumProxyError{Message: env.Error, Retryable: true, Cause: ErrCauseProviderError}
	}
	balance, err := strconv.ParseFloat(env.Balance, 64)
	if err != nil {
		return 0, &PremiumProxyError{Message: "malformed balance payload", Retryable: false, Cause: ErrCauseMalformedResponse}
	}
	return balance, nil
}

func (p *HTTPProvider) Purchase(ctx context.Context, count int) ([]ProviderProxy, error) {
	var env proxy6Envelope
	params := map[string]string{
		"count":   strconv.Itoa(count),
		"country": p.country,
		"type":    p.protocol,
	}
	if err := p.getJSON(ctx, "buy", params, &env); err != nil {
		return nil, err
	}
	if env.Status == "error" {
		return nil, &PremiumProxyError{Message: env.Error, Retryable: true, Cause: ErrCauseProviderError}
	}

	proxies := make([]ProviderProxy, 0, len(env.List))
	for id, entry := range env.List {
		port, _ := strconv.Atoi(entry.Port)
		proxies = append(proxies, ProviderProxy{
			ID:       id,
			Host:     entry.Host,
			Port:     port,
			Username: entry.User,
			Password: entry.Pass,
			Protocol: entry.Type,
			Country:  entry.Country,
		})
	}
	return proxies, nil
}

func (p *HTTPProvider) getJSON(ctx context.Context, action string, params map[string]string, out any) error {
	url := fmt.Sprintf("%s/%s/%s", p.baseURL, p.apiKey, action)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &PremiumProxyError{Message: err.Error(), Retryable: false, Cause: ErrCauseRequestConstruction}
	}
	q := req.URL.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &PremiumProxyError{Message: err.Error(), Retryable: true, Cause: ErrCauseNetworkFailure}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &PremiumProxyError{Message: fmt.Sprintf("provider returned status %d", resp.StatusCode), Retryable: resp.StatusCode >= 500, Cause: ErrCauseHTTPStatus}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &PremiumProxyError{Message: err.Error(), Retryable: false, Cause: ErrCauseMalformedResponse}
	}
	return nil
}

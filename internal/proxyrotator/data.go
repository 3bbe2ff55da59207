// Package proxyrotator selects, scores, and burns proxies from the shared
// proxy arena, triggering replacement from the premium manager when a
// proxy is burned or the healthy count drops below the configured floor.
package proxyrotator

// Requirements optionally constrains the candidate set before scoring.
type Requirements struct {
	Country  string
	Protocol string
}

// AcquireResult is returned by Acquire.
type AcquireResult struct {
	ProxyURL string
	Found    bool
}

var burnOnSight = map[string]bool{
	"blocked":        true,
	"captcha":        true,
	"authentication": true,
}

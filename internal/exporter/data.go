// Package exporter implements the incremental JSONL product writer: an
// append-only partial file with resume support, a finalize step that
// deduplicates and atomically publishes the full export, and a per-site
// process lock that keeps two exporters from writing the same site at once.
package exporter

import "time"

// Product is a single exported record. It is left as a generic JSON object
// rather than a typed struct because the acquisition core does not own the
// parse schema — it only needs the url/original_url fields to dedupe.
type Product map[string]any

func (p Product) stringField(key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// URLKeys returns the set of url/original_url values a product is indexed
// under for dedupe purposes.
func (p Product) URLKeys() []string {
	var keys []string
	if v, ok := p.stringField("url"); ok {
		keys = append(keys, v)
	}
	if v, ok := p.stringField("original_url"); ok {
		keys = append(keys, v)
	}
	return keys
}

// ErrorProduct builds the stub record emitted when a URL is definitively
// unavailable, so downstream merges still preserve coverage metrics.
func ErrorProduct(domain, url, originalURL string, statusCode *int, message string) Product {
	if originalURL == "" {
		originalURL = url
	}
	if message == "" {
		message = "unavailable"
	}
	product := Product{
		"url":             url,
		"original_url":    originalURL,
		"site_domain":     domain,
		"name":            nil,
		"price":           nil,
		"base_price":      nil,
		"currency":        nil,
		"stock":           0.0,
		"stock_quantity":  0.0,
		"in_stock":        false,
		"variations":      []any{},
		"error":           message,
		"scraped_at":      timeNowUTC(),
	}
	if statusCode != nil {
		product["status_code"] = *statusCode
	} else {
		product["status_code"] = nil
	}
	return product
}

func timeNowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

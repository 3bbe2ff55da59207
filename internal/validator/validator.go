package validator

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/rohmanhakim/antibot-acquire/internal/config"
	"github.com/rohmanhakim/antibot-acquire/internal/robots/cache"
)

var (
	captchaPatterns = []*regexp.Regexp{
		regexp.MustCompile(`captcha`),
		regexp.MustCompile(`recaptcha`),
		regexp.MustCompile(`hcaptcha`),
		regexp.MustCompile(`prove you are human`),
		regexp.MustCompile(`robot verification`),
		regexp.MustCompile(`security verification`),
		regexp.MustCompile(`verify.*human`),
		regexp.MustCompile(`solve.*challenge`),
	}

	rateLimitPatterns = []*regexp.Regexp{
		regexp.MustCompile(`rate limit`),
		regexp.MustCompile(`too many requests`),
		regexp.MustCompile(`request limit`),
		regexp.MustCompile(`throttled`),
		regexp.MustCompile(`slow down`),
		regexp.MustCompile(`try again later`),
	}

	botDetectionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`bot detected`),
		regexp.MustCompile(`automated traffic`),
		regexp.MustCompile(`suspicious activity`),
		regexp.MustCompile(`bot.*block`),
		regexp.MustCompile(`anti.*bot`),
		regexp.MustCompile(`robot.*detect`),
	}

	httpErrorIndicators = []string{
		"403 forbidden", "429 too many requests", "503 service unavailable",
		"error 403", "error 429", "error 503", "status: 403", "status: 429",
	}

	blockIndicators = []string{
		"access denied", "blocked", "captcha", "rate limit", "cloudflare",
		"ddos protection", "security check", "forbidden", "unauthorized",
		"too many requests", "service unavailable", "temporarily unavailable",
	}

	placeholderPatterns = []*regexp.Regexp{
		regexp.MustCompile(`page not found`),
		regexp.MustCompile(`temporarily unavailable`),
		regexp.MustCompile(`maintenance`),
		regexp.MustCompile(`coming soon`),
		regexp.MustCompile(`under construction`),
		regexp.MustCompile(`please try again`),
		regexp.MustCompile(`service unavailable`),
	}

	errorIndicatorWords = []string{"error", "exception", "failed", "not found", "unavailable"}

	captchaContainerSelectors = []string{
		"div[class*='recaptcha']", "div[class*='g-recaptcha']",
		"div[class*='hcaptcha']", "div[class*='h-captcha']",
		"input[name*='captcha' i]", "img[src*='captcha' i]",
	}
)

var requiredElements = []string{"title", "h1"}

// Validator classifies response bodies and tracks per-domain/per-URL
// baselines for detecting blocks that don't show up as a bad HTTP status.
type Validator struct {
	minBodyLength         int
	qualityThreshold      float64
	silentBlockSimilarity float64
	baselineWindowSize    int

	cache cache.Cache

	mu sync.Mutex
}

// New builds a Validator from the content-validation settings and the
// same cache port the robots checker uses for its own fetched-state cache.
func New(cfg config.ContentValidationConfig, c cache.Cache) *Validator {
	minLen := cfg.MinBodyLength
	if minLen <= 0 {
		minLen = 1000
	}
	qualityThreshold := cfg.QualityThreshold
	if qualityThreshold <= 0 {
		qualityThreshold = 0.7
	}
	similarity := cfg.SilentBlockSimilarity
	if similarity <= 0 {
		similarity = 0.95
	}
	window := cfg.BaselineWindowSize
	if window <= 0 {
		window = 10
	}
	return &Validator{
		minBodyLength:         minLen,
		qualityThreshold:      qualityThreshold,
		silentBlockSimilarity: similarity,
		baselineWindowSize:    window,
		cache:                 c,
	}
}

// Validate classifies one response body. previousBody may be empty when no
// prior fetch is available for comparison.
func (v *Validator) Validate(rawURL, body, previousBody string) Result {
	result := Result{
		IsValid:       true,
		Confidence:    1.0,
		QualityScore:  1.0,
		ContentLength: len(body),
	}

	trimmed := strings.TrimSpace(body)
	if len(trimmed) < 10 {
		result.IsValid = false
		result.Confidence = 0
		result.QualityScore = 0
		result.Warnings = append(result.Warnings, "empty or minimal content")
		return result
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		result.IsValid = false
		result.Confidence = 0
		result.Warnings = append(result.Warnings, fmt.Sprintf("parse error: %v", err))
		return result
	}

	lowered := strings.ToLower(body)

	if blockType, indicators, confidence := detectBlockPatterns(lowered); blockType != BlockNone {
		result.BlockDetected = true
		result.BlockType = blockType
		result.Indicators = indicators
		result.IsValid = false
		result.Confidence = confidence
	}

	if !result.BlockDetected && isCaptchaPage(lowered, doc) {
		result.BlockDetected = true
		result.BlockType = BlockCaptcha
		result.IsValid = false
		result.Confidence = 0.95
		result.Warnings = append(result.Warnings, "CAPTCHA challenge detected")
	}

	result.QualityScore = v.Score(doc)
	if result.QualityScore < v.qualityThreshold {
		result.Warnings = append(result.Warnings, fmt.Sprintf("low quality score: %.2f", result.QualityScore))
	}

	missing := missingRequiredElements(doc, requiredElements)
	if len(missing) > 0 {
		result.MissingElements = missing
		result.QualityScore *= 0.8
		result.Warnings = append(result.Warnings, fmt.Sprintf("missing required elements: %s", strings.Join(missing, ", ")))
	}

	if !result.BlockDetected && v.detectSilentBlock(rawURL, body, previousBody, doc) {
		result.BlockDetected = true
		result.BlockType = BlockSilentBlock
		result.IsValid = false
		result.Confidence = 0.7
		result.Warnings = append(result.Warnings, "silent block detected")
	}

	if result.BlockDetected {
		result.IsValid = false
	} else if result.QualityScore < 0.5 {
		result.IsValid = false
		result.Confidence = result.QualityScore
	} else if result.QualityScore < v.qualityThreshold {
		result.Confidence = result.QualityScore
	}

	return result
}

func detectBlockPatterns(lowered string) (BlockType, []string, float64) {
	var indicators []string
	var blockType BlockType
	var confidence float64

	for _, ind := range blockIndicators {
		if strings.Contains(lowered, ind) {
			indicators = append(indicators, ind)
		}
	}

	if matchAny(captchaPatterns, lowered) {
		blockType = BlockCaptcha
		confidence = 0.95
	}
	// The first matching family, in the order captcha, rate limit, bot
	// detection, HTTP error, sets the block type; every match raises confidence.
	if matchAny(rateLimitPatterns, lowered) {
		if blockType == BlockNone {
			blockType = BlockRateLimit
		}
		confidence = maxFloat(confidence, 0.9)
	}
	if matchAny(botDetectionPatterns, lowered) {
		if blockType == BlockNone {
			blockType = BlockBotDetection
		}
		confidence = maxFloat(confidence, 0.85)
	}
	for _, ind := range httpErrorIndicators {
		if strings.Contains(lowered, ind) {
			indicators = append(indicators, ind)
			if blockType == BlockNone {
				blockType = BlockHTTPError
			}
			confidence = maxFloat(confidence, 0.8)
		}
	}

	if len(indicators) > 0 && confidence == 0 {
		confidence = minFloat(0.8, float64(len(indicators))*0.2)
	}

	if len(indicators) == 0 && blockType == BlockNone {
		return BlockNone, nil, 0
	}
	return blockType, indicators, confidence
}

func isCaptchaPage(lowered string, doc *goquery.Document) bool {
	if matchAny(captchaPatterns, lowered) {
		return true
	}
	for _, service := range []string{"recaptcha", "hcaptcha", "funcaptcha", "geetest", "cloudflare", "turnstile"} {
		if strings.Contains(lowered, service) {
			return true
		}
	}
	for _, selector := range captchaContainerSelectors {
		if doc.Find(selector).Length() > 0 {
			return true
		}
	}
	return false
}

// Score computes the blended quality score used as the final validity gate.
func (v *Validator) Score(doc *goquery.Document) float64 {
	html, _ := doc.Html()
	text := strings.TrimSpace(doc.Text())
	contentLength := len(html)
	wordCount := len(strings.Fields(text))

	effectiveMinLen := maxInt(300, int(float64(v.minBodyLength)*0.3))
	wordBaseline := maxInt(80, effectiveMinLen/4)

	structureScore := structureScore(doc)

	textRatio := 0.0
	if contentLength > 0 {
		textRatio = float64(len(text)) / float64(contentLength)
	}

	allTags := doc.Find("*")
	tagNames := make(map[string]struct{})
	allTags.Each(func(_ int, s *goquery.Selection) {
		if len(s.Nodes) > 0 {
			tagNames[s.Nodes[0].Data] = struct{}{}
		}
	})
	elementDiversity := 0.0
	if allTags.Length() > 0 {
		elementDiversity = float64(len(tagNames)) / float64(allTags.Length())
	}

	hasNav := doc.Find("nav, header, menu, [class*=nav], [class*=menu], [class*=header]").Length() > 0
	hasMain := doc.Find("main, article, section, [class*=main], [class*=content], [class*=article], [id*=main], [id*=content], [id*=article]").Length() > 0

	lowered := strings.ToLower(text)
	errorCount := 0
	for _, w := range errorIndicatorWords {
		if strings.Contains(lowered, w) {
			errorCount++
		}
	}

	lengthScore := minFloat(1, float64(contentLength)/float64(effectiveMinLen))
	wordScore := minFloat(1, float64(wordCount)/float64(wordBaseline))

	score := lengthScore*0.25 + wordScore*0.20 + structureScore*0.25 +
		minFloat(1, textRatio*2)*0.15 + minFloat(1, elementDiversity*2)*0.10

	if hasNav {
		score += 0.025
	}
	if hasMain {
		score += 0.025
	}

	penalty := minFloat(0.2, float64(errorCount)*0.05)
	score -= penalty

	return minFloat(1, maxFloat(0, score))
}

func structureScore(doc *goquery.Document) float64 {
	basicElements := []string{"html", "head", "body", "title"}
	basicHits := 0
	for _, e := range basicElements {
		if doc.Find(e).Length() > 0 {
			basicHits++
		}
	}
	basicScore := float64(basicHits) / float64(len(basicElements))

	semanticElements := []string{"header", "nav", "main", "article", "section", "aside", "footer"}
	semanticHits := 0
	for _, e := range semanticElements {
		if doc.Find(e).Length() > 0 {
			semanticHits++
		}
	}
	semanticScore := minFloat(1, float64(semanticHits)/3)

	contentElements := []string{"h1", "h2", "h3", "p", "div", "span"}
	contentCount := 0
	for _, e := range contentElements {
		contentCount += doc.Find(e).Length()
	}
	contentScore := minFloat(1, float64(contentCount)/10)

	return basicScore*0.3 + semanticScore*0.4 + contentScore*0.3
}

func missingRequiredElements(doc *goquery.Document, elements []string) []string {
	var missing []string
	for _, e := range elements {
		if doc.Find(e).Length() == 0 {
			missing = append(missing, e)
		}
	}
	return missing
}

func (v *Validator) detectSilentBlock(rawURL, body, previousBody string, doc *goquery.Document) bool {
	signals := 0
	stripped := strings.TrimSpace(body)
	lengthThreshold := maxInt(200, int(float64(v.minBodyLength)*0.3))
	if len(stripped) < lengthThreshold {
		signals++
	}

	elementCount := doc.Find("*").Length()
	if domain := hostOf(rawURL); domain != "" {
		if avg, ok := v.domainBaselineAvg(domain); ok {
			if float64(elementCount) < avg*0.3 {
				signals++
			}
		} else {
			v.recordDomainBaselineSample(domain, elementCount)
		}
	}

	if previousBody != "" {
		if sequenceSimilarity(body, previousBody) > v.silentBlockSimilarity {
			signals++
		}
	}

	if doc.Find("body").Length() == 0 {
		return true
	}

	errorPattern := regexp.MustCompile(`(?i)error|404|not.?found|blocked`)
	if doc.Find("div[class*=error], div[class*=404]").Length() > 0 {
		return true
	}
	h1Found := false
	doc.Find("h1").Each(func(_ int, s *goquery.Selection) {
		if errorPattern.MatchString(s.Text()) {
			h1Found = true
		}
	})
	if h1Found {
		return true
	}
	if errorPattern.MatchString(doc.Find("title").Text()) {
		return true
	}

	text := strings.TrimSpace(doc.Text())
	words := strings.Fields(text)
	if len(words) < 20 {
		signals++
	}

	if len(words) > 0 {
		freq := make(map[string]int)
		for _, w := range words {
			freq[strings.ToLower(w)]++
		}
		mostCommon := 0
		for _, c := range freq {
			if c > mostCommon {
				mostCommon = c
			}
		}
		if float64(mostCommon)/float64(len(words)) > 0.35 {
			signals++
		}
	}

	rawWords := strings.Fields(body)
	textRatio := 0.0
	if len(rawWords) > 0 {
		textRatio = float64(len(words)) / float64(len(rawWords))
	}
	if textRatio < 0.2 {
		signals++
	}

	loweredText := strings.ToLower(text)
	for _, p := range placeholderPatterns {
		if p.MatchString(loweredText) {
			signals++
			break
		}
	}

	return signals >= 2
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func (v *Validator) baselineKey(domain string) string {
	return "validator:baseline:" + domain
}

func (v *Validator) domainBaselineAvg(domain string) (float64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	raw, ok := v.cache.Get(v.baselineKey(domain))
	if !ok {
		return 0, false
	}
	var b domainBaseline
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return 0, false
	}
	return b.AvgCount, true
}

func (v *Validator) recordDomainBaselineSample(domain string, elementCount int) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var b domainBaseline
	if raw, ok := v.cache.Get(v.baselineKey(domain)); ok {
		_ = json.Unmarshal([]byte(raw), &b)
	}
	b.History = append(b.History, elementCount)
	if len(b.History) > v.baselineWindowSize {
		b.History = b.History[len(b.History)-v.baselineWindowSize:]
	}
	sum := 0
	for _, c := range b.History {
		sum += c
	}
	b.AvgCount = float64(sum) / float64(len(b.History))

	encoded, err := json.Marshal(b)
	if err != nil {
		return
	}
	v.cache.Put(v.baselineKey(domain), string(encoded))
}

// UpdateBaseline refreshes the per-domain element-count window and stores
// the current structural fingerprint for rawURL, both keyed through the
// same cache port the robots checker uses for its own fetched-state cache.
func (v *Validator) UpdateBaseline(rawURL string, fp Fingerprint) {
	if domain := hostOf(rawURL); domain != "" {
		v.recordDomainBaselineSample(domain, fp.ElementCount)
	}

	encoded, err := json.Marshal(fp)
	if err != nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cache.Put(v.fingerprintKey(rawURL), string(encoded))
}

// DetectDrift reports whether current diverges materially from the last
// fingerprint stored for rawURL. A missing baseline is not drift — there is
// nothing yet to diverge from.
func (v *Validator) DetectDrift(rawURL string, current Fingerprint) bool {
	v.mu.Lock()
	raw, ok := v.cache.Get(v.fingerprintKey(rawURL))
	v.mu.Unlock()
	if !ok {
		return false
	}

	var previous Fingerprint
	if err := json.Unmarshal([]byte(raw), &previous); err != nil {
		return false
	}

	if previous.TextHash != "" && previous.TextHash == current.TextHash {
		return false
	}

	if previous.ContentLength > 0 {
		ratio := float64(current.ContentLength) / float64(previous.ContentLength)
		if ratio < 0.5 || ratio > 2.0 {
			return true
		}
	}
	if previous.ElementCount > 0 && float64(current.ElementCount) < float64(previous.ElementCount)*0.3 {
		return true
	}
	return false
}

func (v *Validator) fingerprintKey(rawURL string) string {
	return "validator:fingerprint:" + rawURL
}

// ComputeFingerprint derives the structural snapshot used by
// UpdateBaseline/DetectDrift from a parsed document and its raw body.
func ComputeFingerprint(doc *goquery.Document, body string) Fingerprint {
	text := strings.TrimSpace(doc.Text())
	snippet := text
	if len(snippet) > 500 {
		snippet = snippet[:500]
	}
	sum := sha256.Sum256([]byte(snippet))
	return Fingerprint{
		ContentLength: len(body),
		ElementCount:  doc.Find("*").Length(),
		TextHash:      hex.EncodeToString(sum[:]),
	}
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// sequenceSimilarity is a lightweight Ratcliff/Obershelp-style similarity
// measure: shared-character proportion via a common-substrings walk,
// standing in for difflib's SequenceMatcher.ratio() used by the original
// validator.
func sequenceSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	matches := commonSubsequenceLength(a, b)
	return 2 * float64(matches) / float64(len(a)+len(b))
}

func commonSubsequenceLength(a, b string) int {
	const maxCompareLen = 4000
	if len(a) > maxCompareLen {
		a = a[:maxCompareLen]
	}
	if len(b) > maxCompareLen {
		b = b[:maxCompareLen]
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

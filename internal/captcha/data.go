// Package captcha detects CAPTCHA challenges in a response body and solves
// them through a 2captcha-shaped external service: submit, poll, and
// balance-aware cost accounting.
package captcha

import "regexp"

// Type names a detected CAPTCHA family.
type Type string

const (
	TypeNone         Type = ""
	TypeRecaptchaV3  Type = "recaptcha_v3"
	TypeRecaptchaV2  Type = "recaptcha_v2"
	TypeHCaptcha     Type = "hcaptcha"
	TypeImageCaptcha Type = "image_captcha"
)

// Detection is the result of scanning a response body for a CAPTCHA.
type Detection struct {
	Detected   bool
	Type       Type
	SiteKey    string
	Action     string
	ImageURL   string
	Confidence float64
}

// costPerType approximates 2captcha's per-solve USD cost.
var costPerType = map[Type]float64{
	TypeRecaptchaV2:  0.002,
	TypeRecaptchaV3:  0.002,
	TypeHCaptcha:     0.002,
	TypeImageCaptcha: 0.001,
}

// Stats is a point-in-time snapshot of solving activity, mirroring the
// original's get_statistics aggregate view.
type Stats struct {
	Enabled           bool
	TotalAttempts     int
	SuccessfulSolves  int
	FailedSolves      int
	TimeoutErrors     int
	BalanceErrors     int
	SuccessRatePct    float64
	AvgSolveSeconds   float64
	TotalCostUSD      float64
	DailyCostUSD      float64
	DailyLimitUSD     float64
	LastResetDate     string
}

// recaptchaV3Patterns is checked first: most specific, since v3 sites also
// carry v2-shaped markers incidentally.
var recaptchaV3Patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)www\.google\.com/recaptcha/api\.js\?render=([^&\s"]+)`),
	regexp.MustCompile(`(?i)grecaptcha\.execute`),
	regexp.MustCompile(`(?i)data-action="([^"]+)"`),
}

var recaptchaV2Patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)www\.google\.com/recaptcha/api\.js`),
	regexp.MustCompile(`(?i)www\.google\.com/recaptcha/api/challenge`),
	regexp.MustCompile(`(?i)data-sitekey="([^"]+)"`),
	regexp.MustCompile(`(?i)grecaptcha\.render`),
	regexp.MustCompile(`(?i)<div[^>]*class="g-recaptcha"`),
}

var hcaptchaPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)hcaptcha\.com/1/api\.js`),
	regexp.MustCompile(`(?i)data-sitekey="([^"]+)"`),
	regexp.MustCompile(`(?i)<div[^>]*class="h-captcha"`),
	regexp.MustCompile(`(?i)hcaptcha\.render`),
}

var imageCaptchaPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<img[^>]*captcha[^>]*>`),
	regexp.MustCompile(`(?i)captcha\.jpg|captcha\.png|captcha\.gif`),
	regexp.MustCompile(`(?i)verification.*image`),
	regexp.MustCompile(`(?i)security.*code`),
}

var (
	renderKeyRe = regexp.MustCompile(`(?i)render=([^&\s"]+)`)
	actionRe    = regexp.MustCompile(`(?i)data-action="([^"]+)"`)
	sitekeyRe   = regexp.MustCompile(`(?i)data-sitekey="([^"]+)"`)
	imageSrcRe  = regexp.MustCompile(`(?i)<img[^>]*src="([^"]*captcha[^"]*)"`)
)

package captcha

import (
	"net/url"
	"regexp"
)

// Detect scans body for a known CAPTCHA marker, checking the most specific
// pattern family first: reCAPTCHA v3, then v2, then hCaptcha, then a
// generic image CAPTCHA. pageURL resolves a relative image src to an
// absolute URL.
func Detect(body, pageURL string) Detection {
	if matchAny(recaptchaV3Patterns, body) {
		d := Detection{Detected: true, Type: TypeRecaptchaV3, Confidence: 0.9}
		if m := renderKeyRe.FindStringSubmatch(body); len(m) > 1 {
			d.SiteKey = m[1]
		}
		if m := actionRe.FindStringSubmatch(body); len(m) > 1 {
			d.Action = m[1]
		}
		return d
	}

	// data-sitekey is shared with hCaptcha widgets, so a page carrying an
	// hCaptcha-specific marker is left for the hCaptcha branch below.
	if matchAny(recaptchaV2Patterns, body) && !matchAny(hcaptchaSpecificPatterns, body) {
		d := Detection{Detected: true, Type: TypeRecaptchaV2, Confidence: 0.8}
		if m := sitekeyRe.FindStringSubmatch(body); len(m) > 1 {
			d.SiteKey = m[1]
		}
		return d
	}

	if matchAny(hcaptchaPatterns, body) {
		d := Detection{Detected: true, Type: TypeHCaptcha, Confidence: 0.8}
		if m := sitekeyRe.FindStringSubmatch(body); len(m) > 1 {
			d.SiteKey = m[1]
		}
		return d
	}

	if matchAny(imageCaptchaPatterns, body) {
		d := Detection{Detected: true, Type: TypeImageCaptcha, Confidence: 0.6}
		if m := imageSrcRe.FindStringSubmatch(body); len(m) > 1 {
			if resolved, err := resolveURL(pageURL, m[1]); err == nil {
				d.ImageURL = resolved
			}
		}
		return d
	}

	return Detection{}
}

// hcaptchaSpecificPatterns are the hCaptcha markers that never appear on a
// reCAPTCHA page (everything in hcaptchaPatterns except data-sitekey).
var hcaptchaSpecificPatterns = []*regexp.Regexp{
	hcaptchaPatterns[0],
	hcaptchaPatterns[2],
	hcaptchaPatterns[3],
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func resolveURL(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

package jwt

import (
	"regexp"
	"strings"
)

// automationUARegexes mirrors the known-automation policy knob described in
// the design notes: common HTTP-client UAs, headless browsers, and scraping
// frameworks. Revisit as new client libraries show up in abuse traffic.
var automationUARegexes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)python-requests`),
	regexp.MustCompile(`(?i)curl/`),
	regexp.MustCompile(`(?i)wget/`),
	regexp.MustCompile(`(?i)go-http-client`),
	regexp.MustCompile(`(?i)axios/`),
	regexp.MustCompile(`(?i)okhttp`),
	regexp.MustCompile(`(?i)headlesschrome`),
	regexp.MustCompile(`(?i)phantomjs`),
	regexp.MustCompile(`(?i)puppeteer`),
	regexp.MustCompile(`(?i)playwright`),
	regexp.MustCompile(`(?i)selenium`),
	regexp.MustCompile(`(?i)scrapy`),
	regexp.MustCompile(`(?i)httpclient`),
	regexp.MustCompile(`(?i)^bot\b|crawler|spider`),
}

// AutomationResult is the weighted-signal output of DetectAutomation.
type AutomationResult struct {
	IsAutomated bool
	Confidence  int
	Reasons     []string
}

// DetectAutomation sums weighted header signals into a confidence score;
// IsAutomated is true at confidence >= 50, and confidence is capped at 100.
func DetectAutomation(info RequestInfo) AutomationResult {
	score := 0
	var reasons []string

	ua := strings.TrimSpace(info.UserAgent)
	if ua == "" {
		score += 40
		reasons = append(reasons, "missing user-agent")
	} else {
		for _, re := range automationUARegexes {
			if re.MatchString(ua) {
				score += 35
				reasons = append(reasons, "user-agent matches known automation pattern")
				break
			}
		}
	}

	if strings.TrimSpace(info.AcceptLanguage) == "" {
		score += 15
		reasons = append(reasons, "missing accept-language")
	}

	if strings.TrimSpace(info.Accept) == "*/*" {
		score += 10
		reasons = append(reasons, "generic accept header")
	}

	if strings.TrimSpace(info.AcceptEncoding) == "" {
		score += 10
		reasons = append(reasons, "missing accept-encoding")
	}

	secFetchAbsent := info.SecFetchSite == "" && info.SecFetchMode == "" && info.SecFetchDest == ""
	if secFetchAbsent {
		score += 15
		reasons = append(reasons, "missing sec-fetch headers")
		if looksLikeBrowser(ua) {
			score += 20
			reasons = append(reasons, "browser user-agent without sec-fetch headers")
		}
	}

	if strings.EqualFold(strings.TrimSpace(info.Connection), "close") {
		score += 5
		reasons = append(reasons, "connection: close")
	}

	if score > 100 {
		score = 100
	}

	return AutomationResult{
		IsAutomated: score >= 50,
		Confidence:  score,
		Reasons:     reasons,
	}
}

func looksLikeBrowser(ua string) bool {
	lowered := strings.ToLower(ua)
	for _, marker := range []string{"mozilla", "chrome", "safari", "firefox", "edg/"} {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

package extract

import (
	"regexp"
	"strings"
)

// Patterns for literal values a reference corpus can confirm verbatim.
// Order matters: wrapped literals are consumed before bare tokens.
var (
	backtickPattern = regexp.MustCompile("`([^`]+)`")
	quotedPattern   = regexp.MustCompile(`"([^"]{2,})"|'([^']{2,})'`)
	versionPattern  = regexp.MustCompile(`\bv?\d+\.\d+(?:\.\d+)?(?:-[0-9A-Za-z.]+)?\b`)
	durationPattern = regexp.MustCompile(`\b\d+(?:\.\d+)?(?:ns|us|µs|ms|s|m|h|d)\b`)
	unitPattern     = regexp.MustCompile(`\b\d+(?:\.\d+)?\s?(?:[KMGT]i?B|[kKMGT]b|bytes?|%|rps|qps|req/s|seconds?|minutes?|hours?|days?|retries|attempts|workers|threads|connections)`)
	numberPattern   = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
	snakePattern    = regexp.MustCompile(`\b[A-Za-z][A-Za-z0-9]*(?:_[A-Za-z0-9]+)+\b`)
	camelPattern    = regexp.MustCompile(`\b[a-z]+(?:[A-Z][a-z0-9]+)+\b|\b(?:[A-Z][a-z0-9]+){2,}\b`)
)

// Literals extracts values and identifiers from a claim object that can be
// grepped for in a reference corpus. Results are distinct, in order found.
func Literals(text string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(v string) {
		v = strings.TrimSpace(v)
		if v == "" || seen[strings.ToLower(v)] {
			return
		}
		seen[strings.ToLower(v)] = true
		out = append(out, v)
	}

	rest := text
	for _, m := range backtickPattern.FindAllStringSubmatch(rest, -1) {
		add(m[1])
	}
	rest = backtickPattern.ReplaceAllString(rest, " ")

	for _, m := range quotedPattern.FindAllStringSubmatch(rest, -1) {
		if m[1] != "" {
			add(m[1])
		} else {
			add(m[2])
		}
	}
	rest = quotedPattern.ReplaceAllString(rest, " ")

	for _, re := range []*regexp.Regexp{unitPattern, durationPattern, versionPattern} {
		for _, m := range re.FindAllString(rest, -1) {
			add(m)
		}
		rest = re.ReplaceAllString(rest, " ")
	}

	for _, re := range []*regexp.Regexp{snakePattern, camelPattern} {
		for _, m := range re.FindAllString(rest, -1) {
			add(m)
		}
		rest = re.ReplaceAllString(rest, " ")
	}

	// Bare numbers only when nothing more specific was found
	if len(out) == 0 {
		for _, m := range numberPattern.FindAllString(rest, -1) {
			add(m)
		}
	}
	return out
}

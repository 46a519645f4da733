package conflict

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/ppiankov/concordia/internal/model"
	"github.com/ppiankov/concordia/internal/normalize"
)

var negationWords = map[string]bool{
	"not": true, "no": true, "never": true, "cannot": true, "none": true, "without": true,
	"isn": true, "aren": true, "doesn": true, "don": true, "won": true, "shouldn": true, "mustn": true,
}

var datePattern = regexp.MustCompile(`\b(?:1[89]|2[01])\d{2}(?:-\d{2}(?:-\d{2})?)?\b`)

// Rule strengths used when no generator is available
const (
	ruleValueStrength    = 0.8
	ruleNegationStrength = 0.9
	ruleTemporalStrength = 0.7
)

// classifyByRules is the deterministic fallback classifier.
// Order matters: a negated restatement is a negation even if the objects also differ.
func classifyByRules(a, b model.AtomicClaim) Classification {
	negA := isNegated(a)
	negB := isNegated(b)
	if negA != negB {
		return Classification{
			Conflict:  true,
			Type:      model.ConflictDirectNegation,
			Strength:  ruleNegationStrength,
			Reasoning: "exactly one statement is negated",
		}
	}

	datesA := dates(a.Object)
	datesB := dates(b.Object)
	if len(datesA) > 0 && len(datesB) > 0 && !sameStrings(datesA, datesB) {
		return Classification{
			Conflict:  true,
			Type:      model.ConflictTemporal,
			Strength:  ruleTemporalStrength,
			Reasoning: "statements name different dates: " + strings.Join(datesA, ",") + " vs " + strings.Join(datesB, ","),
		}
	}

	if normalize.Predicate(a.Predicate) == normalize.Predicate(b.Predicate) &&
		normalize.Canonical.Normalize(a.Object) != normalize.Canonical.Normalize(b.Object) {
		return Classification{
			Conflict:       true,
			Type:           model.ConflictValue,
			Strength:       ruleValueStrength,
			Reasoning:      "same attribute with different values: " + a.Object + " vs " + b.Object,
			ResolutionHint: "keep the value from the more authoritative or newer document",
		}
	}

	return Classification{}
}

func isNegated(c model.AtomicClaim) bool {
	text := strings.ToLower(c.Predicate + " " + c.Object)
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, w := range words {
		if negationWords[w] {
			return true
		}
	}
	return false
}

// yearWords mark a following bare number as a year
var yearWords = map[string]bool{
	"in": true, "since": true, "until": true, "by": true, "from": true, "before": true, "after": true,
	"year": true, "fy": true, "q1": true, "q2": true, "q3": true, "q4": true,
	"january": true, "february": true, "march": true, "april": true, "may": true, "june": true,
	"july": true, "august": true, "september": true, "october": true, "november": true, "december": true,
}

// dates returns the distinct dates in s. A bare four digit number counts as a
// year only when it stands alone or follows a year word; "2000 ms" is a value.
func dates(s string) []string {
	var found []string
	for _, loc := range datePattern.FindAllStringIndex(s, -1) {
		match := s[loc[0]:loc[1]]
		if len(match) == 4 && !isBareYear(s, loc[0], loc[1]) {
			continue
		}
		found = append(found, match)
	}
	if len(found) == 0 {
		return nil
	}
	sort.Strings(found)
	out := found[:1]
	for _, d := range found[1:] {
		if d != out[len(out)-1] {
			out = append(out, d)
		}
	}
	return out
}

func isBareYear(s string, start, end int) bool {
	before := strings.Fields(strings.ToLower(s[:start]))
	if len(before) > 0 && yearWords[strings.Trim(before[len(before)-1], ",.:;(")] {
		return true
	}
	return strings.TrimSpace(s[:start]) == "" && strings.TrimSpace(s[end:]) == ""
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

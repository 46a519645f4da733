// Package normalize canonicalizes claim subjects and predicates so that
// differently phrased references to the same entity land in one bucket.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalizer maps a subject string to its bucket key
type Normalizer interface {
	Normalize(s string) string
}

// Func adapts a plain function to Normalizer
type Func func(string) string

// Normalize calls f(s)
func (f Func) Normalize(s string) string { return f(s) }

var articles = map[string]bool{"the": true, "a": true, "an": true}

// words that end in "s" but are not plurals
var pluralExceptions = map[string]bool{
	"status": true, "alias": true, "bus": true, "gas": true, "process": true,
	"address": true, "access": true, "class": true, "https": true, "dns": true,
	"tls": true, "ms": true, "kubernetes": true, "redis": true, "analysis": true,
	"basis": true, "series": true, "species": true, "news": true, "chaos": true,
}

var folder = cases.Fold()

// Canonical is the default subject normalizer.
// "The Request-Timeouts" and "request_timeout" both become "request_timeout".
var Canonical Normalizer = Func(canonical)

func canonical(s string) string {
	s = norm.NFKD.String(s)
	s = folder.String(s)

	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	for _, r := range s {
		switch {
		case unicode.Is(unicode.Mn, r):
			// drop combining marks left by NFKD
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		default:
			// whitespace, _ - . and any other punctuation are separators
			flush()
		}
	}
	flush()

	out := tokens[:0]
	for _, tok := range tokens {
		if articles[tok] {
			continue
		}
		out = append(out, tok)
	}
	if len(out) == 0 {
		return ""
	}

	last := len(out) - 1
	out[last] = singular(out[last])
	return strings.Join(out, "_")
}

// singular strips a trailing plural "s" from a word
func singular(w string) string {
	if len(w) <= 3 || pluralExceptions[w] {
		return w
	}
	switch {
	case strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(w, "ss"), strings.HasSuffix(w, "us"), strings.HasSuffix(w, "is"):
		return w
	case strings.HasSuffix(w, "s"):
		return w[:len(w)-1]
	}
	return w
}

// Predicate normalizes a predicate phrase. Common copulas collapse to "equals".
func Predicate(s string) string {
	p := canonical(s)
	switch p {
	case "is", "are", "equal", "equals", "is_equal_to", "equal_to", "be", "has_value", "is_set_to", "set_to":
		return "equals"
	}
	return p
}

// Entities returns the distinct normalized subjects in order of first appearance
func Entities(n Normalizer, subjects []string) []string {
	if n == nil {
		n = Canonical
	}
	seen := make(map[string]bool)
	var out []string
	for _, s := range subjects {
		key := n.Normalize(s)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	return out
}

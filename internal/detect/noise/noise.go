// Package noise implements the false-positive filter (C5): pure
// predicates over a single (pii_type, text) candidate, independent of
// any other detection in the document. It runs after merge/arbitration
// so a filtered candidate never reaches the region list at all.
package noise

import (
	"strings"
	"unicode"

	"promptshield/internal/model"
)

// minTextLength is the shortest span any detector is trusted for
// without corroborating context; shorter spans are almost always
// truncation artifacts or coincidental matches.
const minTextLength = 2

// genericStopwords are words that, alone, are near-certain non-PII for
// any type — common French/English connective or descriptive terms
// that a naive capitalization or regex heuristic mistakes for a name.
var genericStopwords = map[string]bool{
	"principales": true, "comptables": true, "corporelles": true,
	"elles": true, "société": true, "activités": true, "notes": true,
	"états": true, "direction": true, "conseil": true,
	"la": true, "le": true, "les": true, "du": true, "des": true,
	"une": true, "un": true, "l'": true,
	"the": true, "and": true, "inc": true, "llc": true, "corp": true,
}

// IsNoise reports whether (piiType, text) should be discarded rather
// than surfaced as a PII region. It combines three independent checks,
// in the shape of the source's _is_false_positive_org_fr: a stopword
// set, a structural rule (no letter or digit at all, i.e.
// punctuation/whitespace only), and a length guard.
func IsNoise(piiType model.PIIType, text string) bool {
	trimmed := strings.TrimSpace(text)
	if len([]rune(trimmed)) < minTextLength {
		return true
	}
	if isAllStopwords(trimmed) {
		return true
	}
	if isStructurallyEmpty(trimmed) {
		return true
	}
	if piiType == model.PIIOrg && isAllStopwords(trimmed) {
		return true
	}
	return false
}

// isAllStopwords mirrors the source's rule: a multi-word span is noise
// only when EVERY word it contains is a stopword — "Société Générale"
// survives because "Générale" isn't one, while a bare "Société" does not.
func isAllStopwords(text string) bool {
	words := strings.Fields(text)
	if len(words) == 0 {
		return true
	}
	for _, w := range words {
		clean := strings.ToLower(strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r)
		}))
		if clean == "" {
			// A token with no letters at all (pure digits/punctuation)
			// can never be a recognized stopword, so the span as a
			// whole isn't "entirely stopwords".
			return false
		}
		if !genericStopwords[clean] {
			return false
		}
	}
	return true
}

// isStructurallyEmpty reports whether text carries no letters or
// digits at all (pure punctuation/whitespace after trimming), which no
// detector should ever treat as a real PII value.
func isStructurallyEmpty(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

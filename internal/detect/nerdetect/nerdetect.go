// Package nerdetect defines the named-entity detector capability (C3):
// a narrow interface any NER backend can satisfy, a deterministic
// reference implementation usable without a model dependency, and the
// French false-positive stopword filter the source's NER stage applies
// before a span is allowed to stand as an ORG/PERSON candidate.
package nerdetect

import (
	"regexp"
	"strings"
	"unicode"

	"promptshield/internal/model"
)

// Detector is the capability any NER backend registers under. The
// orchestrator treats a nil Detector as "NER stage disabled" rather
// than an error — the teacher's Anonymizer.useAI gate is the precedent
// for this kind of optional-backend wiring.
type Detector interface {
	Detect(fullText, language string) ([]model.Detection, error)
}

// capitalizedRun matches a run of one or more capitalized words,
// allowing French elision/hyphenation within a name.
var capitalizedRun = regexp.MustCompile(`\b\p{Lu}[\p{L}'-]*(?:\s+\p{Lu}[\p{L}'-]*){0,3}\b`)

// roleNouns are titles that often precede a PERSON mention in both
// languages. A span made of a role noun alone is skipped; a role noun
// that starts a longer capitalized run stays part of that span.
var roleNouns = map[string]bool{
	"directeur": true, "directrice": true, "président": true, "présidente": true,
	"monsieur": true, "madame": true, "dr": true, "mr": true, "mrs": true, "ms": true,
}

// ReferenceDetector is a dependency-free stand-in for a trained NER
// model: it flags capitalized multi-word runs as PERSON or ORG
// candidates by a handful of cues, then discards anything the stopword
// filter recognizes as a common-noun false positive. It exists so the
// pipeline is exercisable without a model weights dependency; a real
// backend (e.g. a GLiNER-style span model served out of process)
// implements the same Detector interface and is registered in its
// place.
type ReferenceDetector struct {
	// MinConfidence is the confidence assigned to every surfaced span;
	// reference-grade spans are never as confident as a trained model.
	MinConfidence float64
}

// NewReference returns a ReferenceDetector with the source's default
// confidence ceiling for heuristic spans.
func NewReference() *ReferenceDetector {
	return &ReferenceDetector{MinConfidence: 0.55}
}

func (d *ReferenceDetector) Detect(fullText, language string) ([]model.Detection, error) {
	var out []model.Detection
	for _, loc := range capitalizedRun.FindAllStringIndex(fullText, -1) {
		span := fullText[loc[0]:loc[1]]
		if isFalsePositiveOrg(language, span) {
			continue
		}
		if roleNouns[strings.ToLower(strings.TrimSpace(span))] {
			continue
		}
		piiType := model.PIIPerson
		if hasCompanySuffix(span) || looksLikeOrgCue(fullText, loc[0]) {
			piiType = model.PIIOrg
		}
		out = append(out, model.Detection{
			PIIType:    piiType,
			Text:       span,
			Start:      loc[0],
			End:        loc[1],
			Confidence: d.MinConfidence,
			Source:     model.SourceNER,
		})
	}
	return out, nil
}

func hasCompanySuffix(span string) bool {
	lower := strings.ToLower(span)
	for _, suffix := range []string{"inc", "ltée", "ltee", "corp", "llc", "ltd"} {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

func looksLikeOrgCue(fullText string, start int) bool {
	lo := start - 20
	if lo < 0 {
		lo = 0
	}
	before := strings.ToLower(fullText[lo:start])
	for _, cue := range []string{"société", "entreprise", "compagnie", "company", "corporation"} {
		if strings.Contains(before, cue) {
			return true
		}
	}
	return false
}

// frOrgStopwords is the French common-noun/adjective set that a naive
// capitalization heuristic otherwise mistakes for an organization or
// person name when it begins a sentence. Ported from the source's
// _FR_ORG_STOPWORDS list.
var frOrgStopwords = map[string]bool{
	"principales": true, "comptables": true, "corporelles": true,
	"elles": true, "société": true, "activités": true, "notes": true,
	"états": true, "direction": true, "conseil": true,
	"la": true, "le": true, "les": true, "du": true, "des": true,
	"une": true, "un": true, "l'": true,
}

// isFalsePositiveOrg reports whether span, once lowercased and
// trimmed, is entirely a stopword (or stopword sequence) rather than a
// proper name — the rule from the source's _is_false_positive_org_fr:
// a span is rejected only when EVERY word composing it is a stopword,
// so "Société Générale" still stands while a bare "Société" does not.
func isFalsePositiveOrg(language, span string) bool {
	if language != "" && language != "fr" {
		return false
	}
	words := strings.Fields(span)
	if len(words) == 0 {
		return true
	}
	for _, w := range words {
		if !frOrgStopwords[strings.ToLower(strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r)
		}))] {
			return false
		}
	}
	return true
}

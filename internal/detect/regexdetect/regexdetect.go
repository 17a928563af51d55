// Package regexdetect implements the regex detector (C2): a bank of
// compiled locale patterns, each tagged (pii_type, base_confidence),
// with standalone and contextual matching and per-span deduplication.
package regexdetect

import (
	"regexp"
	"sort"
	"strings"

	"promptshield/internal/model"
)

// kind distinguishes a pattern that scans raw text on its own from one
// that only fires near a cue word.
type kind int

const (
	standalone kind = iota
	contextual
)

// contextBoost is the additive confidence granted to a contextual hit,
// capped so a boosted match never exceeds 1.0.
const contextBoost = 0.15

// contextWindow is how many characters around a contextual pattern's
// match are searched for its cue words.
const contextWindow = 24

type pattern struct {
	re         *regexp.Regexp
	piiType    model.PIIType
	confidence float64
	kind       kind
	cues       []string // lowercase cue words, only used when kind==contextual
	locale     string   // "en", "fr", or "" for locale-independent
}

// Detector holds the compiled pattern bank. It is safe for concurrent
// use — all state is read-only after construction.
type Detector struct {
	patterns []pattern
}

// New compiles the full locale pattern bank once.
func New() *Detector {
	d := &Detector{}
	d.patterns = append(d.patterns, universalPatterns()...)
	d.patterns = append(d.patterns, enPatterns()...)
	d.patterns = append(d.patterns, frPatterns()...)
	return d
}

// Detect runs the pattern bank against fullText. language selects which
// locale packs run in addition to the universal, locale-independent
// set; an empty language hint runs every enabled locale. Candidates
// are deduplicated by (pii_type, start, end), keeping the highest
// confidence.
func (d *Detector) Detect(fullText, language string) []model.Detection {
	type key struct {
		piiType    model.PIIType
		start, end int
	}
	best := make(map[key]model.Detection)

	for _, p := range d.patterns {
		if p.locale != "" && language != "" && p.locale != language {
			continue
		}
		for _, loc := range p.re.FindAllStringIndex(fullText, -1) {
			start, end := loc[0], loc[1]
			confidence := p.confidence
			if p.kind == contextual {
				if !hasCueNearby(fullText, start, end, p.cues) {
					continue
				}
				confidence = min(1.0, confidence+contextBoost)
			}
			k := key{p.piiType, start, end}
			if existing, ok := best[k]; !ok || confidence > existing.Confidence {
				best[k] = model.Detection{
					PIIType:    p.piiType,
					Text:       fullText[start:end],
					Start:      start,
					End:        end,
					Confidence: confidence,
					Source:     model.SourceRegex,
				}
			}
		}
	}

	out := make([]model.Detection, 0, len(best))
	for _, det := range best {
		out = append(out, det)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].End < out[j].End
	})
	return out
}

func hasCueNearby(fullText string, start, end int, cues []string) bool {
	lo := max(0, start-contextWindow)
	hi := min(len(fullText), end+contextWindow)
	window := strings.ToLower(fullText[lo:hi])
	for _, cue := range cues {
		if strings.Contains(window, cue) {
			return true
		}
	}
	return false
}

// universalPatterns are locale-independent: structural formats with no
// language-specific vocabulary.
func universalPatterns() []pattern {
	return []pattern{
		{re: regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
			piiType: model.PIIEmail, confidence: 0.95, kind: standalone},
		{re: regexp.MustCompile(`\b(?:\d{3}-?\d{2}-?\d{4})\b`),
			piiType: model.PIIIDNumber, confidence: 0.85, kind: standalone},
		{re: regexp.MustCompile(`\b(?:\d{4}[\-\s]?){3}\d{4}\b`),
			piiType: model.PIIIDNumber, confidence: 0.85, kind: standalone},
		// E.164 international phone form.
		{re: regexp.MustCompile(`\+[1-9]\d{1,14}\b`),
			piiType: model.PIIPhone, confidence: 0.80, kind: standalone},
		// North American phone form — broad, many numeric sequences collide.
		{re: regexp.MustCompile(`(\+?1?[\-.\s]?)?\(?([0-9]{3})\)?[\-.\s]?([0-9]{3})[\-.\s]?([0-9]{4})`),
			piiType: model.PIIPhone, confidence: 0.65, kind: standalone},
		{re: regexp.MustCompile(`\$\s?\d{1,3}(?:,\d{3})*(?:\.\d{2})?\b`),
			piiType: model.PIIMoney, confidence: 0.75, kind: standalone},
		{re: regexp.MustCompile(`\b(?:19|20)\d{2}-(?:0[1-9]|1[0-2])-(?:0[1-9]|[12]\d|3[01])\b`),
			piiType: model.PIIDate, confidence: 0.80, kind: standalone},
	}
}

// enPatterns are the EN-language pattern set.
func enPatterns() []pattern {
	return []pattern{
		{re: regexp.MustCompile(`(?i)\d+\s+[A-Za-z\s]+(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct)\b`),
			piiType: model.PIIAddress, confidence: 0.75, kind: standalone, locale: "en"},
		{re: englishMonthDateRe(),
			piiType: model.PIIDate, confidence: 0.80, kind: standalone, locale: "en"},
	}
}

func englishMonthDateRe() *regexp.Regexp {
	months := `Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|Jun(?:e)?|Jul(?:y)?|Aug(?:ust)?|Sep(?:tember)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?`
	return regexp.MustCompile(`(?i)\b(?:` + months + `)\s+\d{1,2},?\s+\d{4}\b`)
}

// frPatterns are the FR/Quebec-oriented pattern set: numbered-company
// forms and company-suffix forms, ported from the source's regex
// debug scripts.
func frPatterns() []pattern {
	suffixes := `Inc|Corp|LLC|Ltd|LLP|PLC|Co|LP` +
		`|GmbH|AG|KG|KGaA|OHG|e\.?K\.?|UG|mbH` +
		`|BV|B\.?V\.?|NV|N\.?V\.?` +
		`|S\.?A\.?R?\.?L?\.?|S\.?L\.?U?\.?|S\.?C\.?|S\.?R\.?L\.?` +
		`|S\.?p\.?A\.?|S\.?a\.?s\.?|S\.?n\.?c\.?` +
		`|Lt[ée]e|Limit[ée]e|Lda|Ltda|Enr\.?g?\.?` +
		`|A/S|ApS|AS|ASA|AB|Oy|Oyj`

	numberedCompany := regexp.MustCompile(`(?i)\b\d{3,10}(?:-\d{3,10})?` +
		`\s+(?:[A-ZÀ-Ü][a-zA-Zà-üÀ-Ü\-']{1,20}\s+){0,3}` +
		`(?:` + suffixes + `)\b\.?`)

	namedCompany := regexp.MustCompile(`(?i)\b[A-ZÀ-Ü][a-zA-Zà-üÀ-Ü.\-']{1,25}` +
		`(?:\s+[A-ZÀ-Ü][a-zA-Zà-üÀ-Ü.\-']{1,25}){0,3}` +
		`\s+(?:` + suffixes + `)\b\.?`)

	// Connecting-word form: "société de/du/des X", "entreprise de/du/des X".
	connecting := regexp.MustCompile(`(?i)\b(?:société|entreprise|compagnie|groupe)\s+(?:de|du|des|d')\s+` +
		`[A-Za-zà-üÀ-Ü\s]{2,60}?(?:` + suffixes + `)\b\.?`)

	return []pattern{
		{re: numberedCompany, piiType: model.PIIOrg, confidence: 0.80, kind: standalone, locale: "fr"},
		{re: namedCompany, piiType: model.PIIOrg, confidence: 0.70, kind: standalone, locale: "fr"},
		{re: connecting, piiType: model.PIIOrg, confidence: 0.75, kind: standalone, locale: "fr"},
	}
}

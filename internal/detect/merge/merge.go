// Package merge implements merge & arbitration (C6): the 7-step
// pipeline that turns a page's raw multi-source Detections into
// actionable, non-overlapping PIIRegions. See spec §4.6 for the step
// order; this package follows it exactly so output is deterministic
// given identical inputs and configuration.
package merge

import (
	"fmt"
	"sort"

	"promptshield/internal/detect/noise"
	"promptshield/internal/geometry"
	"promptshield/internal/model"
)

// sourcePrecedence breaks offset-dedup ties: REGEX > NER > LLM.
var sourcePrecedence = map[model.DetectionSource]int{
	model.SourceRegex: 3,
	model.SourceNER:   2,
	model.SourceLLM:   1,
}

// typePrecedence ranks PII types by pattern strictness for cross-type
// overlap arbitration: EMAIL/PHONE/ID > PERSON/ORG > LOCATION/ADDRESS
// > DATE/MONEY.
var typePrecedence = map[model.PIIType]int{
	model.PIIEmail:    4,
	model.PIIPhone:    4,
	model.PIIIDNumber: 4,
	model.PIIPerson:   3,
	model.PIIOrg:      3,
	model.PIILocation: 2,
	model.PIIAddress:  2,
	model.PIIDate:     1,
	model.PIIMoney:    1,
}

// confidenceOverride is the margin by which a lower-precedence
// detection's confidence must exceed the higher-precedence one to
// survive subsumption/overlap arbitration anyway.
const confidenceOverride = 0.15

// Config carries the one configurable knob spec §9's Open Question
// calls for: the confidence floor at which DATE/MONEY detections
// default to TOKENIZE instead of IGNORE.
type Config struct {
	DateMoneyAutoIgnoreThreshold float64
}

// Page runs the full merge pipeline over one page's raw detections and
// the page's text blocks (for bbox attachment), returning the final,
// non-overlapping region set sorted by (start, end, pii_type).
func Page(pageNumber int, detections []model.Detection, textBlocks []model.TextBlock, cfg Config, priorActions map[string]model.Action) []model.PIIRegion {
	deduped := offsetDedup(detections)
	subsumed := spanSubsumption(deduped)
	arbitrated := crossTypeOverlap(subsumed)

	filtered := arbitrated[:0]
	for _, d := range arbitrated {
		if !noise.IsNoise(d.PIIType, d.Text) {
			filtered = append(filtered, d)
		}
	}

	var withBBox []model.PIIRegion
	for _, d := range filtered {
		bbox, ok := attachBBox(d, textBlocks)
		if !ok {
			continue
		}
		region := model.PIIRegion{
			Detection:  d,
			ID:         regionID(pageNumber, d),
			PageNumber: pageNumber,
		}
		region.BBox = &bbox
		withBBox = append(withBBox, region)
	}

	resolved := geometry.ResolveOverlaps(withBBox)

	for i := range resolved {
		resolved[i].Action = assignAction(resolved[i], cfg, priorActions)
	}

	sort.Slice(resolved, func(i, j int) bool {
		a, b := resolved[i], resolved[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End < b.End
		}
		return a.PIIType < b.PIIType
	})
	return resolved
}

// offsetDedup groups by identical (start,end), keeping the highest
// confidence; ties broken by source precedence (REGEX > NER > LLM).
func offsetDedup(detections []model.Detection) []model.Detection {
	type key struct{ start, end int }
	best := make(map[key]model.Detection)
	for _, d := range detections {
		k := key{d.Start, d.End}
		existing, ok := best[k]
		if !ok || better(d, existing) {
			best[k] = d
		}
	}
	out := make([]model.Detection, 0, len(best))
	for _, d := range best {
		out = append(out, d)
	}
	// Fix the order map iteration left random: later steps break ties by
	// input position, so this keeps the whole pipeline deterministic.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].End < out[j].End
	})
	return out
}

func better(a, b model.Detection) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return sourcePrecedence[a.Source] > sourcePrecedence[b.Source]
}

// spanSubsumption drops a detection strictly contained in another of
// the same pii_type unless its confidence exceeds the container's by
// at least confidenceOverride.
func spanSubsumption(detections []model.Detection) []model.Detection {
	dropped := make([]bool, len(detections))
	for i, a := range detections {
		for j, b := range detections {
			if i == j || dropped[i] {
				continue
			}
			if a.PIIType != b.PIIType {
				continue
			}
			if strictlyContains(b, a) {
				if a.Confidence-b.Confidence >= confidenceOverride {
					continue
				}
				dropped[i] = true
			}
		}
	}
	out := make([]model.Detection, 0, len(detections))
	for i, d := range detections {
		if !dropped[i] {
			out = append(out, d)
		}
	}
	return out
}

func strictlyContains(outer, inner model.Detection) bool {
	if outer.Start == inner.Start && outer.End == inner.End {
		return false
	}
	return outer.Start <= inner.Start && outer.End >= inner.End
}

// crossTypeOverlap arbitrates overlapping spans of different types:
// when the overlap exceeds 50% of the shorter span, the
// stricter-pattern type wins unless the weaker type's confidence
// exceeds it by confidenceOverride.
func crossTypeOverlap(detections []model.Detection) []model.Detection {
	dropped := make([]bool, len(detections))
	for i, a := range detections {
		for j, b := range detections {
			if i == j || dropped[i] || dropped[j] {
				continue
			}
			if a.PIIType == b.PIIType {
				continue
			}
			overlap := overlapLen(a, b)
			if overlap == 0 {
				continue
			}
			shorter := minInt(a.End-a.Start, b.End-b.Start)
			if shorter == 0 || float64(overlap)/float64(shorter) <= 0.5 {
				continue
			}
			if typePrecedence[a.PIIType] == typePrecedence[b.PIIType] {
				if better(a, b) {
					dropped[j] = true
				} else {
					dropped[i] = true
				}
				continue
			}
			weaker := a
			weakerIdx, strongerIdx := i, j
			if typePrecedence[a.PIIType] > typePrecedence[b.PIIType] {
				weaker = b
				weakerIdx, strongerIdx = j, i
			}
			if weaker.Confidence-detections[strongerIdx].Confidence >= confidenceOverride {
				dropped[strongerIdx] = true
			} else {
				dropped[weakerIdx] = true
			}
		}
	}
	out := make([]model.Detection, 0, len(detections))
	for i, d := range detections {
		if !dropped[i] {
			out = append(out, d)
		}
	}
	return out
}

func overlapLen(a, b model.Detection) int {
	start := maxInt(a.Start, b.Start)
	end := minInt(a.End, b.End)
	if end <= start {
		return 0
	}
	return end - start
}

func minInt(a, b int) int {
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

// attachBBox computes the tightest bbox covering every text block
// whose character span intersects [start,end). Returns ok=false if no
// block intersects, signaling the caller to drop the detection.
func attachBBox(d model.Detection, textBlocks []model.TextBlock) (model.BBox, bool) {
	var box model.BBox
	found := false
	for _, tb := range textBlocks {
		if tb.End <= d.Start || tb.Start >= d.End {
			continue
		}
		if !found {
			box = tb.BBox
			found = true
			continue
		}
		box.X0 = minFloat(box.X0, tb.BBox.X0)
		box.Y0 = minFloat(box.Y0, tb.BBox.Y0)
		box.X1 = maxFloat(box.X1, tb.BBox.X1)
		box.Y1 = maxFloat(box.Y1, tb.BBox.Y1)
	}
	return box, found
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// assignAction defaults to TOKENIZE, except DATE/MONEY which default
// to IGNORE unless confidence clears the configured threshold. A
// user's prior override for the same stable id always wins.
func assignAction(r model.PIIRegion, cfg Config, priorActions map[string]model.Action) model.Action {
	if priorActions != nil {
		if a, ok := priorActions[r.ID]; ok {
			return a
		}
	}
	if r.PIIType == model.PIIDate || r.PIIType == model.PIIMoney {
		threshold := cfg.DateMoneyAutoIgnoreThreshold
		if threshold == 0 {
			threshold = 0.85
		}
		if r.Confidence < threshold {
			return model.ActionIgnore
		}
	}
	return model.ActionTokenize
}

// regionID derives a stable id from page/position/type so the same
// logical detection keeps its id across redetection runs, letting
// user action overrides persist.
func regionID(pageNumber int, d model.Detection) string {
	return fmt.Sprintf("p%d-%d-%d-%s", pageNumber, d.Start, d.End, d.PIIType)
}

// ContextSnippet extracts up to contextChars bytes of context on each
// side of [start,end), marking a truncated edge with "...". Ported
// from the source's get_context_snippet, used to bound Degraded-event
// log lines to a small excerpt instead of an entire page of text.
func ContextSnippet(text string, start, end, contextChars int) string {
	n := len(text)
	if start < 0 {
		start = 0
	}
	if end > n {
		end = n
	}
	if end < start {
		end = start
	}

	snippetStart := start - contextChars
	if snippetStart < 0 {
		snippetStart = 0
	}
	snippetEnd := end + contextChars
	if snippetEnd > n {
		snippetEnd = n
	}

	prefix, suffix := "", ""
	if snippetStart > 0 {
		prefix = "..."
	}
	if snippetEnd < n {
		suffix = "..."
	}
	return prefix + text[snippetStart:snippetEnd] + suffix
}

// Package orchestrate implements the detection orchestrator (C13): the
// per-page pipeline driver that runs the regex/NER/LLM detectors,
// merges their output, and reports progress into a shared map the API
// layer polls. Modeled on the teacher's background-goroutine idiom
// (one worker goroutine per page, a shared progress/state map guarded
// by a mutex) generalized from "anonymize one HTTP body" to "detect PII
// across every page of a document".
package orchestrate

import (
	"context"
	"sync"
	"time"

	"promptshield/internal/auditlog"
	"promptshield/internal/detect/llmdetect"
	"promptshield/internal/detect/merge"
	"promptshield/internal/detect/nerdetect"
	"promptshield/internal/detect/regexdetect"
	"promptshield/internal/model"
)

// perPageTimeout bounds the wall-clock budget for a single page's
// detector fan-out; exceeding it returns the partial result for that
// page and logs a Degraded event rather than failing the document.
const perPageTimeout = 20 * time.Second

// cancelPollInterval is how often detectPage checks the document's
// cancel flag while a page is in flight, keeping the ≤2s
// cooperative-cancel bound from spec §4.13.
const cancelPollInterval = 500 * time.Millisecond

// Progress is one point-in-time status report for a document's
// detection run, read by the API layer's progress-stream handler.
type Progress struct {
	DocID        string
	PageDone     int
	PageTotal    int
	RegionsSoFar int
	Degraded     bool
}

// Orchestrator drives detection for a set of pages, fanning out C2/C3/C4
// per page, merging with C6, and publishing Progress into a shared map.
type Orchestrator struct {
	regex *regexdetect.Detector
	ner   nerdetect.Detector // nil disables the NER stage
	llm   *llmdetect.Detector // nil disables the LLM stage

	mergeCfg merge.Config

	log *auditlog.Logger

	progressMu sync.RWMutex
	progress   map[string]Progress

	cancelMu sync.Mutex
	cancels  map[string]bool
}

// New returns an Orchestrator. ner and llm may be nil to disable their
// respective stages — the capability-interface pattern from spec §9's
// "lazy optional dependencies" redesign note.
func New(regex *regexdetect.Detector, ner nerdetect.Detector, llm *llmdetect.Detector, mergeCfg merge.Config, log *auditlog.Logger) *Orchestrator {
	return &Orchestrator{
		regex:    regex,
		ner:      ner,
		llm:      llm,
		mergeCfg: mergeCfg,
		log:      log,
		progress: make(map[string]Progress),
		cancels:  make(map[string]bool),
	}
}

// Cancel sets the cooperative cancel flag for docID. In-flight page
// processing observes it within cancelPollInterval.
func (o *Orchestrator) Cancel(docID string) {
	o.cancelMu.Lock()
	o.cancels[docID] = true
	o.cancelMu.Unlock()
}

func (o *Orchestrator) isCancelled(docID string) bool {
	o.cancelMu.Lock()
	defer o.cancelMu.Unlock()
	return o.cancels[docID]
}

func (o *Orchestrator) clearCancel(docID string) {
	o.cancelMu.Lock()
	delete(o.cancels, docID)
	o.cancelMu.Unlock()
}

// Progress returns the last reported progress for docID.
func (o *Orchestrator) Progress(docID string) (Progress, bool) {
	o.progressMu.RLock()
	defer o.progressMu.RUnlock()
	p, ok := o.progress[docID]
	return p, ok
}

func (o *Orchestrator) setProgress(p Progress) {
	o.progressMu.Lock()
	o.progress[p.DocID] = p
	o.progressMu.Unlock()
}

// Detect runs the full per-page pipeline for docID across pages, in
// page order, checking the cancel flag between pages. language is the
// document's locale hint forwarded to the regex/NER stages.
func (o *Orchestrator) Detect(ctx context.Context, docID, language string, pages []model.PageData, priorActions map[string]model.Action) []model.PIIRegion {
	defer o.clearCancel(docID)

	var allRegions []model.PIIRegion
	for i, page := range pages {
		if o.isCancelled(docID) {
			o.log.Info("detect_cancelled", "document detection cancelled between pages",
				auditlog.Field{Key: "doc_id", Value: docID})
			break
		}

		pageCtx, cancel := context.WithTimeout(ctx, perPageTimeout)
		regions, degraded := o.detectPage(pageCtx, docID, page, language, priorActions)
		cancel()

		allRegions = append(allRegions, regions...)
		o.setProgress(Progress{
			DocID:        docID,
			PageDone:     i + 1,
			PageTotal:    len(pages),
			RegionsSoFar: len(allRegions),
			Degraded:     degraded,
		})
		if degraded {
			snippet := merge.ContextSnippet(page.FullText, 0, 0, 50)
			o.log.Warn("page_degraded", "page detection exceeded its time budget, returning partial result",
				auditlog.Field{Key: "doc_id", Value: docID},
				auditlog.Field{Key: "page_start", Value: snippet})
		}
	}
	return allRegions
}

// detectPage runs the regex, NER and LLM detectors for one page in
// that order on a background goroutine (the LLM stage is fed the
// low-confidence spans of the first two), awaits it, and merges the
// result. If the page timeout fires first, whatever the finished stages
// produced is merged and degraded is true. If docID is cancelled while
// the page is in flight, the page's detections are discarded.
func (o *Orchestrator) detectPage(ctx context.Context, docID string, page model.PageData, language string, priorActions map[string]model.Action) ([]model.PIIRegion, bool) {
	var mu sync.Mutex
	var all []model.Detection
	add := func(dets []model.Detection) {
		mu.Lock()
		all = append(all, dets...)
		mu.Unlock()
	}
	done := make(chan struct{})

	go func() {
		defer close(done)

		if o.regex != nil {
			add(o.regex.Detect(page.FullText, language))
		}

		if o.ner != nil {
			nerDets, err := o.ner.Detect(page.FullText, language)
			if err != nil {
				o.log.Warn("ner_detect_failed", "ner stage failed, continuing without it",
					auditlog.Field{Key: "error_type", Value: err.Error()})
			} else {
				add(nerDets)
			}
		}

		if o.llm != nil {
			mu.Lock()
			candidates := lowConfidenceCandidates(all)
			mu.Unlock()
			add(o.llm.Detect(ctx, page.FullText, candidates))
		}
	}()

	ticker := time.NewTicker(cancelPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return merge.Page(page.PageNumber, all, page.TextBlocks, o.mergeCfg, priorActions), false
		case <-ctx.Done():
			mu.Lock()
			partial := append([]model.Detection(nil), all...)
			mu.Unlock()
			return merge.Page(page.PageNumber, partial, page.TextBlocks, o.mergeCfg, priorActions), true
		case <-ticker.C:
			if o.isCancelled(docID) {
				return nil, false
			}
		}
	}
}

// lowConfidenceCandidates selects the spans worth escalating to the
// LLM stage: regex/NER hits whose confidence fell under the floor a
// human reviewer would trust without corroboration.
func lowConfidenceCandidates(detections []model.Detection) []llmdetect.Candidate {
	const floor = 0.6
	var out []llmdetect.Candidate
	for _, d := range detections {
		if d.Confidence < floor {
			out = append(out, llmdetect.Candidate{Text: d.Text, Start: d.Start, End: d.End})
		}
	}
	return out
}

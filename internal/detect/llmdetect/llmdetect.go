// Package llmdetect implements the optional LLM detector (C4): a
// synchronous call for the current document's remaining low-confidence
// spans, plus a best-effort asynchronous path that warms a
// cross-session cache so a recurring phrase is resolved instantly on
// its next occurrence. Adapted from the teacher's Ollama integration
// in internal/anonymizer — same inflight-dedup map, same bounded
// semaphore, same fire-and-forget goroutine shape — retargeted from
// "mint a replacement token" to "suggest a (pii_type, confidence) for
// a span the regex/NER stages left uncertain."
package llmdetect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"promptshield/internal/auditlog"
	"promptshield/internal/metrics"
	"promptshield/internal/model"
)

// defaultMaxConcurrent bounds in-flight requests to the LLM endpoint to
// a single depth-1 semaphore slot so a burst of uncertain spans can't
// stampede it.
const defaultMaxConcurrent = 1

const requestTimeout = 60 * time.Second

// Detector queries an Ollama-compatible completion endpoint for PII
// suggestions over spans the regex/NER stages reported below the
// confidence threshold, and asynchronously warms SuggestionCache for
// values that recur across documents.
type Detector struct {
	endpoint string
	model    string
	client   *http.Client
	cache    SuggestionCache
	log      *auditlog.Logger
	m        *metrics.Metrics

	sem chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]bool
}

// Option configures a Detector at construction.
type Option func(*Detector)

// WithMaxConcurrent overrides the default in-flight request bound.
func WithMaxConcurrent(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.sem = make(chan struct{}, n)
		}
	}
}

// WithMetrics attaches a metrics sink for dispatch/error/cache counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Detector) { d.m = m }
}

// WithCachePath backs the cross-session suggestion cache with an
// embedded bbolt database at path instead of the in-memory default.
func WithCachePath(path string, log *auditlog.Logger) Option {
	return func(d *Detector) {
		c, err := newBboltCache(path, log)
		if err != nil {
			log.Warn("cache_open_failed", "falling back to in-memory suggestion cache",
				auditlog.Field{Key: "error_type", Value: err.Error()})
			return
		}
		d.cache = c
	}
}

// New returns a Detector bound to an Ollama-compatible generate
// endpoint and model name.
func New(endpoint, modelName string, log *auditlog.Logger, opts ...Option) *Detector {
	d := &Detector{
		endpoint: endpoint,
		model:    modelName,
		client:   &http.Client{},
		cache:    newMemoryCache(),
		log:      log,
		sem:      make(chan struct{}, defaultMaxConcurrent),
		inflight: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Close releases the suggestion cache's resources.
func (d *Detector) Close() error { return d.cache.Close() }

// Candidate is a span the earlier detection stages judged uncertain
// and are deferring to the LLM stage.
type Candidate struct {
	Text  string
	Start int
	End   int
}

// Detect resolves cache hits synchronously and issues one synchronous
// LLM call covering every remaining candidate, so a single document
// pays at most one round trip regardless of how many uncertain spans
// it contains. Cache misses also get dispatched for async re-querying
// so a repeat of the same span across documents hits the cache next
// time even if this document's synchronous call times out.
func (d *Detector) Detect(ctx context.Context, fullText string, candidates []Candidate) []model.Detection {
	var out []model.Detection
	var uncached []Candidate

	for _, c := range candidates {
		if s, ok := d.cache.Get(c.Text); ok {
			out = append(out, model.Detection{
				PIIType:    model.PIIType(s.PIIType),
				Text:       c.Text,
				Start:      c.Start,
				End:        c.End,
				Confidence: s.Confidence,
				Source:     model.SourceLLM,
			})
			if d.m != nil {
				d.m.RecordCacheHit(s.PIIType)
			}
			continue
		}
		if d.m != nil {
			d.m.RecordCacheMiss("llm")
		}
		uncached = append(uncached, c)
	}

	if len(uncached) == 0 {
		return out
	}

	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return out
	}
	suggestions, err := d.query(ctx, fullText)
	<-d.sem
	if err != nil {
		d.log.Warn("llm_query_failed", "synchronous llm detection failed",
			auditlog.Field{Key: "error_type", Value: err.Error()})
		for _, c := range uncached {
			d.dispatchAsync(c.Text)
		}
		return out
	}

	bySpan := make(map[string]suggestion, len(suggestions))
	for _, s := range suggestions {
		bySpan[s.Original] = s
	}
	for _, c := range uncached {
		s, ok := bySpan[c.Text]
		if !ok {
			d.dispatchAsync(c.Text)
			continue
		}
		out = append(out, model.Detection{
			PIIType:    model.PIIType(strings.ToUpper(s.PIIType)),
			Text:       c.Text,
			Start:      c.Start,
			End:        c.End,
			Confidence: s.Confidence,
			Source:     model.SourceLLM,
		})
		d.cache.Set(c.Text, cachedSuggestion{PIIType: strings.ToUpper(s.PIIType), Confidence: s.Confidence})
	}
	return out
}

// dispatchAsync fires a background goroutine to resolve a single span
// in isolation and warm the cache, the same inflight-dedup +
// bounded-semaphore shape as the teacher's dispatchOllamaAsync.
func (d *Detector) dispatchAsync(span string) {
	d.inflightMu.Lock()
	if d.inflight[span] {
		d.inflightMu.Unlock()
		return
	}
	d.inflight[span] = true
	d.inflightMu.Unlock()

	if d.m != nil {
		d.m.OllamaDispatches.Add(1)
	}

	go func() {
		defer func() {
			d.inflightMu.Lock()
			delete(d.inflight, span)
			d.inflightMu.Unlock()
		}()

		select {
		case d.sem <- struct{}{}:
			defer func() { <-d.sem }()
		default:
			d.log.Debug("llm_busy", "skipping background query, endpoint already at capacity")
			if d.m != nil {
				d.m.OllamaErrors.Add(1)
			}
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		suggestions, err := d.query(ctx, span)
		if err != nil {
			d.log.Warn("llm_async_failed", "async llm query failed",
				auditlog.Field{Key: "error_type", Value: err.Error()})
			if d.m != nil {
				d.m.OllamaErrors.Add(1)
			}
			return
		}
		for _, s := range suggestions {
			if s.Original == "" {
				continue
			}
			d.cache.Set(s.Original, cachedSuggestion{PIIType: strings.ToUpper(s.PIIType), Confidence: s.Confidence})
		}
	}()
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

type suggestion struct {
	Original   string  `json:"original"`
	PIIType    string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

const prompt = `Analyze the following text for PII (personally identifiable information).
Return ONLY a JSON array of detections. Each item must have:
- "original": the exact text found
- "type": one of: person, org, location, address, email, phone, date, id-number, money
- "confidence": float 0.0-1.0

Text to analyze:
%s

Return ONLY the JSON array, no explanation. Example: [{"original":"John Smith","type":"person","confidence":0.95}]`

func (d *Detector) query(ctx context.Context, text string) ([]suggestion, error) {
	reqBody, err := json.Marshal(generateRequest{
		Model:  d.model,
		Prompt: fmt.Sprintf(prompt, text),
		Stream: false,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal llm request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create llm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close on response body

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var genResp generateResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return nil, fmt.Errorf("llm response parse error: %w", err)
	}

	raw := strings.TrimSpace(genResp.Response)
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("no JSON array in llm response")
	}
	raw = raw[start : end+1]

	var out []suggestion
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("suggestion parse error: %w", err)
	}
	return out, nil
}

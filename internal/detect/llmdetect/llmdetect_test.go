package llmdetect

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"promptshield/internal/auditlog"
)

func newTestLogger() *auditlog.Logger {
	return auditlog.New("llmdetect-test", auditlog.FormatText, "error")
}

func TestDetect_CacheHitSkipsHTTPCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Write([]byte(`{"response":"[]"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	d := New(srv.URL, "test-model", newTestLogger())
	defer d.Close() //nolint:errcheck

	d.cache.Set("jane@example.com", cachedSuggestion{PIIType: "EMAIL", Confidence: 0.9})

	dets := d.Detect(context.Background(), "contact jane@example.com",
		[]Candidate{{Text: "jane@example.com", Start: 8, End: 24}})

	if called {
		t.Error("expected cache hit to skip the HTTP call")
	}
	if len(dets) != 1 || dets[0].PIIType != "EMAIL" {
		t.Fatalf("unexpected detections: %+v", dets)
	}
}

func TestDetect_HTTPSuggestionPopulatesCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]string{
			"response": `[{"original":"John Smith","type":"person","confidence":0.88}]`,
		}
		json.NewEncoder(w).Encode(resp) //nolint:errcheck
	}))
	defer srv.Close()

	d := New(srv.URL, "test-model", newTestLogger())
	defer d.Close() //nolint:errcheck

	dets := d.Detect(context.Background(), "John Smith signed the form",
		[]Candidate{{Text: "John Smith", Start: 0, End: 10}})

	if len(dets) != 1 || dets[0].Text != "John Smith" || dets[0].PIIType != "PERSON" {
		t.Fatalf("unexpected detections: %+v", dets)
	}
	if _, ok := d.cache.Get("John Smith"); !ok {
		t.Error("expected suggestion to be cached after a successful query")
	}
}

func TestDetect_NoCandidatesSkipsQuery(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	d := New(srv.URL, "test-model", newTestLogger())
	defer d.Close() //nolint:errcheck

	dets := d.Detect(context.Background(), "nothing uncertain here", nil)
	if called {
		t.Error("expected no HTTP call with zero candidates")
	}
	if len(dets) != 0 {
		t.Errorf("expected no detections, got %+v", dets)
	}
}

func TestDispatchAsync_DedupesInflight(t *testing.T) {
	d := New("http://127.0.0.1:0", "test-model", newTestLogger(), WithMaxConcurrent(1))
	defer d.Close() //nolint:errcheck

	d.inflightMu.Lock()
	d.inflight["dup"] = true
	d.inflightMu.Unlock()

	d.dispatchAsync("dup")

	time.Sleep(10 * time.Millisecond)
	d.inflightMu.Lock()
	inflight := d.inflight["dup"]
	d.inflightMu.Unlock()
	if !inflight {
		t.Error("expected the pre-existing inflight entry to be left alone, not cleared by a duplicate dispatch")
	}
}

package orchestrate

import (
	"context"
	"testing"

	"promptshield/internal/auditlog"
	"promptshield/internal/detect/merge"
	"promptshield/internal/detect/regexdetect"
	"promptshield/internal/model"
)

func newTestLogger() *auditlog.Logger {
	return auditlog.New("orchestrate-test", auditlog.FormatText, "error")
}

func onePage(text string) []model.PageData {
	return []model.PageData{{
		PageNumber: 1,
		FullText:   text,
		TextBlocks: []model.TextBlock{{Start: 0, End: len(text), BBox: model.BBox{X0: 0, Y0: 0, X1: 100, Y1: 100}}},
	}}
}

func TestDetect_RegexOnlyFindsEmail(t *testing.T) {
	o := New(regexdetect.New(), nil, nil, merge.Config{}, newTestLogger())
	regions := o.Detect(context.Background(), "doc1", "en", onePage("contact jane@example.com today"), nil)
	found := false
	for _, r := range regions {
		if r.PIIType == model.PIIEmail {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an EMAIL region, got %+v", regions)
	}
}

func TestDetect_ReportsProgressPerPage(t *testing.T) {
	o := New(regexdetect.New(), nil, nil, merge.Config{}, newTestLogger())
	pages := append(onePage("jane@example.com"), onePage("no pii here")...)
	o.Detect(context.Background(), "doc2", "en", pages, nil)

	p, ok := o.Progress("doc2")
	if !ok {
		t.Fatal("expected progress to be recorded")
	}
	if p.PageDone != 2 || p.PageTotal != 2 {
		t.Errorf("progress = %+v, want PageDone=2 PageTotal=2", p)
	}
}

func TestDetect_CancelStopsBetweenPages(t *testing.T) {
	o := New(regexdetect.New(), nil, nil, merge.Config{}, newTestLogger())
	pages := append(onePage("jane@example.com"), onePage("second@example.com")...)
	o.Cancel("doc3")
	regions := o.Detect(context.Background(), "doc3", "en", pages, nil)
	if len(regions) != 0 {
		t.Errorf("expected zero regions after pre-cancel, got %+v", regions)
	}
}

func TestDetect_EmptyPagesReturnsNoRegions(t *testing.T) {
	o := New(regexdetect.New(), nil, nil, merge.Config{}, newTestLogger())
	regions := o.Detect(context.Background(), "doc4", "en", nil, nil)
	if len(regions) != 0 {
		t.Errorf("expected no regions for zero pages, got %+v", regions)
	}
}

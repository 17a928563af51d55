package merge

import (
	"testing"

	"promptshield/internal/model"
)

func block(start, end int, box model.BBox) model.TextBlock {
	return model.TextBlock{Start: start, End: end, BBox: box, Text: "x"}
}

func fullPageBlocks() []model.TextBlock {
	return []model.TextBlock{block(0, 200, model.BBox{X0: 0, Y0: 0, X1: 100, Y1: 100})}
}

func TestPage_OffsetDedupKeepsHighestConfidence(t *testing.T) {
	dets := []model.Detection{
		{PIIType: model.PIIEmail, Text: "a@b.com", Start: 0, End: 7, Confidence: 0.6, Source: model.SourceNER},
		{PIIType: model.PIIEmail, Text: "a@b.com", Start: 0, End: 7, Confidence: 0.95, Source: model.SourceRegex},
	}
	out := Page(1, dets, fullPageBlocks(), Config{}, nil)
	if len(out) != 1 {
		t.Fatalf("expected 1 region, got %d", len(out))
	}
	if out[0].Confidence != 0.95 {
		t.Errorf("expected the higher-confidence detection to survive, got %v", out[0].Confidence)
	}
}

func TestPage_SpanSubsumptionDropsShorterSameType(t *testing.T) {
	dets := []model.Detection{
		{PIIType: model.PIIOrg, Text: "Acme", Start: 0, End: 4, Confidence: 0.8, Source: model.SourceRegex},
		{PIIType: model.PIIOrg, Text: "Acme Corp", Start: 0, End: 9, Confidence: 0.85, Source: model.SourceRegex},
	}
	out := Page(1, dets, fullPageBlocks(), Config{}, nil)
	if len(out) != 1 {
		t.Fatalf("expected 1 region after subsumption, got %d: %+v", len(out), out)
	}
	if out[0].End != 9 {
		t.Errorf("expected the longer span to survive, got end=%d", out[0].End)
	}
}

func TestPage_SpanSubsumptionOverrideKeepsHigherConfidenceShortSpan(t *testing.T) {
	dets := []model.Detection{
		{PIIType: model.PIIOrg, Text: "Acme", Start: 0, End: 4, Confidence: 0.95, Source: model.SourceRegex},
		{PIIType: model.PIIOrg, Text: "Acme Corp", Start: 0, End: 9, Confidence: 0.70, Source: model.SourceNER},
	}
	// "Acme" ends one line and "Corp" wraps onto the next, so after
	// geometry resolution the clipped "Acme Corp" box still has area.
	blocks := []model.TextBlock{
		block(0, 4, model.BBox{X0: 0, Y0: 0, X1: 40, Y1: 10}),
		block(5, 9, model.BBox{X0: 0, Y0: 20, X1: 40, Y1: 30}),
	}
	out := Page(1, dets, blocks, Config{}, nil)
	if len(out) != 2 {
		t.Fatalf("expected both spans to survive the override margin, got %d: %+v", len(out), out)
	}
}

func TestPage_CrossTypeOverlapPrefersStricterPattern(t *testing.T) {
	dets := []model.Detection{
		{PIIType: model.PIIEmail, Text: "john@acme.com", Start: 0, End: 13, Confidence: 0.9, Source: model.SourceRegex},
		{PIIType: model.PIIPerson, Text: "john@acme", Start: 0, End: 9, Confidence: 0.6, Source: model.SourceNER},
	}
	out := Page(1, dets, fullPageBlocks(), Config{}, nil)
	if len(out) != 1 {
		t.Fatalf("expected 1 surviving region, got %d: %+v", len(out), out)
	}
	if out[0].PIIType != model.PIIEmail {
		t.Errorf("expected EMAIL to win over PERSON, got %v", out[0].PIIType)
	}
}

func TestPage_NoiseFilterDropsStopword(t *testing.T) {
	dets := []model.Detection{
		{PIIType: model.PIIOrg, Text: "société", Start: 0, End: 7, Confidence: 0.8, Source: model.SourceRegex},
	}
	out := Page(1, dets, fullPageBlocks(), Config{}, nil)
	if len(out) != 0 {
		t.Fatalf("expected stopword detection to be filtered, got %+v", out)
	}
}

func TestPage_NoIntersectingBlockDropsDetection(t *testing.T) {
	dets := []model.Detection{
		{PIIType: model.PIIEmail, Text: "a@b.com", Start: 300, End: 307, Confidence: 0.9, Source: model.SourceRegex},
	}
	out := Page(1, dets, fullPageBlocks(), Config{}, nil)
	if len(out) != 0 {
		t.Fatalf("expected detection outside any text block to be dropped, got %+v", out)
	}
}

func TestPage_DateMoneyDefaultsIgnoreBelowThreshold(t *testing.T) {
	dets := []model.Detection{
		{PIIType: model.PIIDate, Text: "2024-01-01", Start: 0, End: 10, Confidence: 0.7, Source: model.SourceRegex},
	}
	out := Page(1, dets, fullPageBlocks(), Config{DateMoneyAutoIgnoreThreshold: 0.85}, nil)
	if len(out) != 1 || out[0].Action != model.ActionIgnore {
		t.Fatalf("expected IGNORE action below threshold, got %+v", out)
	}
}

func TestPage_DateMoneyTokenizesAboveThreshold(t *testing.T) {
	dets := []model.Detection{
		{PIIType: model.PIIDate, Text: "2024-01-01", Start: 0, End: 10, Confidence: 0.9, Source: model.SourceRegex},
	}
	out := Page(1, dets, fullPageBlocks(), Config{DateMoneyAutoIgnoreThreshold: 0.85}, nil)
	if len(out) != 1 || out[0].Action != model.ActionTokenize {
		t.Fatalf("expected TOKENIZE action above threshold, got %+v", out)
	}
}

func TestPage_PriorActionOverridePersists(t *testing.T) {
	dets := []model.Detection{
		{PIIType: model.PIIEmail, Text: "a@b.com", Start: 0, End: 7, Confidence: 0.9, Source: model.SourceRegex},
	}
	id := regionID(1, dets[0])
	out := Page(1, dets, fullPageBlocks(), Config{}, map[string]model.Action{id: model.ActionIgnore})
	if len(out) != 1 || out[0].Action != model.ActionIgnore {
		t.Fatalf("expected prior override to persist, got %+v", out)
	}
}

func TestPage_OutputSortedByStartEndType(t *testing.T) {
	dets := []model.Detection{
		{PIIType: model.PIIEmail, Text: "b@b.com", Start: 20, End: 27, Confidence: 0.9, Source: model.SourceRegex},
		{PIIType: model.PIIEmail, Text: "a@b.com", Start: 0, End: 7, Confidence: 0.9, Source: model.SourceRegex},
	}
	blocks := []model.TextBlock{
		block(0, 7, model.BBox{X0: 0, Y0: 0, X1: 50, Y1: 10}),
		block(20, 27, model.BBox{X0: 0, Y0: 20, X1: 50, Y1: 30}),
	}
	out := Page(1, dets, blocks, Config{}, nil)
	if len(out) != 2 || out[0].Start != 0 || out[1].Start != 20 {
		t.Fatalf("expected regions sorted by start, got %+v", out)
	}
}

func TestContextSnippet_TruncatesWithEllipsisOnBothSides(t *testing.T) {
	text := "0123456789abcdefghijklmnopqrstuvwxyz"
	got := ContextSnippet(text, 10, 15, 3)
	want := "...789abcdefgh..."
	if got != want {
		t.Errorf("ContextSnippet = %q, want %q", got, want)
	}
}

func TestContextSnippet_NoTruncationNearEdges(t *testing.T) {
	text := "hello world"
	got := ContextSnippet(text, 0, 5, 50)
	if got != "hello world" {
		t.Errorf("ContextSnippet = %q, want %q", got, "hello world")
	}
}

package geometry

import (
	"testing"

	"promptshield/internal/model"
)

func region(id string, box model.BBox, confidence float64, start int) model.PIIRegion {
	b := box
	return model.PIIRegion{
		Detection: model.Detection{
			PIIType:    model.PIIPerson,
			Start:      start,
			End:        start + 1,
			Confidence: confidence,
			BBox:       &b,
		},
		ID: id,
	}
}

func TestResolveOverlaps_NoOverlapPassesThrough(t *testing.T) {
	regions := []model.PIIRegion{
		region("a", model.BBox{X0: 0, Y0: 0, X1: 10, Y1: 10}, 0.9, 0),
		region("b", model.BBox{X0: 20, Y0: 20, X1: 30, Y1: 30}, 0.8, 10),
	}
	out := ResolveOverlaps(regions)
	if len(out) != 2 {
		t.Fatalf("expected 2 regions, got %d", len(out))
	}
}

func TestResolveOverlaps_ClipsLowerConfidenceCandidate(t *testing.T) {
	regions := []model.PIIRegion{
		region("keeper", model.BBox{X0: 0, Y0: 0, X1: 10, Y1: 10}, 0.95, 0),
		region("candidate", model.BBox{X0: 5, Y0: 0, X1: 15, Y1: 10}, 0.5, 5),
	}
	out := ResolveOverlaps(regions)
	if len(out) != 2 {
		t.Fatalf("expected 2 surviving regions, got %d", len(out))
	}
	for i := range out {
		for j := range out {
			if i == j {
				continue
			}
			if area, ok := out[i].BBox.OverlapArea(*out[j].BBox); ok && area > 0 {
				t.Errorf("regions %s and %s still overlap by %v", out[i].ID, out[j].ID, area)
			}
		}
	}
}

func TestResolveOverlaps_DropsSliverBelowMinDimension(t *testing.T) {
	regions := []model.PIIRegion{
		region("keeper", model.BBox{X0: 0, Y0: 0, X1: 10, Y1: 10}, 0.95, 0),
		region("sliver", model.BBox{X0: 9, Y0: 0, X1: 10.5, Y1: 10}, 0.5, 5),
	}
	out := ResolveOverlaps(regions)
	if len(out) != 1 {
		t.Fatalf("expected sliver dropped, got %d regions", len(out))
	}
	if out[0].ID != "keeper" {
		t.Errorf("expected keeper to survive, got %s", out[0].ID)
	}
}

func TestResolveOverlaps_TieBreaksByStartThenArea(t *testing.T) {
	regions := []model.PIIRegion{
		region("later", model.BBox{X0: 5, Y0: 0, X1: 15, Y1: 10}, 0.9, 10),
		region("earlier", model.BBox{X0: 0, Y0: 0, X1: 10, Y1: 10}, 0.9, 0),
		region("big", model.BBox{X0: 20, Y0: 0, X1: 40, Y1: 20}, 0.8, 20),
		region("small", model.BBox{X0: 30, Y0: 0, X1: 40, Y1: 10}, 0.8, 20),
	}
	out := ResolveOverlaps(regions)
	if len(out) != 4 {
		t.Fatalf("expected all four regions to survive clipping, got %d", len(out))
	}
	// At equal confidence the earlier start, then the smaller area, is
	// accepted first and keeps its box; the other one of each pair is
	// clipped against it.
	for i, id := range []string{"earlier", "later", "small", "big"} {
		if out[i].ID != id {
			t.Errorf("out[%d] = %s, want %s", i, out[i].ID, id)
		}
	}
	if out[1].BBox.X0 != 10 || out[3].BBox.Y0 != 10 {
		t.Errorf("clipped boxes = %+v, %+v; want later.X0 = 10, big.Y0 = 10", *out[1].BBox, *out[3].BBox)
	}
}

func TestResolveOverlaps_SingleRegionPassthrough(t *testing.T) {
	regions := []model.PIIRegion{region("only", model.BBox{X0: 0, Y0: 0, X1: 5, Y1: 5}, 0.5, 0)}
	out := ResolveOverlaps(regions)
	if len(out) != 1 {
		t.Fatalf("expected 1 region, got %d", len(out))
	}
}

// Package geometry resolves overlapping PII region bounding boxes on a
// single page so that no two persisted regions overlap by positive area.
package geometry

import (
	"sort"

	"promptshield/internal/model"
)

// minDimension is the smallest width/height a clipped bbox may keep;
// below this the region is dropped rather than kept as a sliver.
const minDimension = 2.0

// ResolveOverlaps takes regions on a single page and returns a
// possibly-reduced list satisfying: for all i≠j, area(R_i ∩ R_j) == 0.
//
// Regions are processed by descending confidence (ties broken by
// earlier Start, then smaller bbox area) so that higher-confidence,
// more specific regions dominate. Each candidate is clipped against
// every already-accepted region it overlaps, along whichever axis has
// the smaller overlap extent, pushing the candidate's edge to the
// keeper's near edge on the side farther from the keeper's center. A
// candidate clipped below minDimension on either side is dropped.
func ResolveOverlaps(regions []model.PIIRegion) []model.PIIRegion {
	if len(regions) <= 1 {
		return regions
	}

	ordered := make([]model.PIIRegion, len(regions))
	copy(ordered, regions)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.BBox.Area() < b.BBox.Area()
	})

	final := make([]model.PIIRegion, 0, len(ordered))
	for _, region := range ordered {
		box := *region.BBox

		for _, keeper := range final {
			kbox := *keeper.BBox
			overlapArea, overlaps := box.OverlapArea(kbox)
			if !overlaps || overlapArea <= 0 {
				continue
			}

			overlapX := min(box.X1, kbox.X1) - max(box.X0, kbox.X0)
			overlapY := min(box.Y1, kbox.Y1) - max(box.Y0, kbox.Y0)

			cx, cy := box.CenterX(), box.CenterY()
			kcx, kcy := kbox.CenterX(), kbox.CenterY()

			if overlapY <= overlapX {
				if cy < kcy {
					box.Y1 = kbox.Y0
				} else {
					box.Y0 = kbox.Y1
				}
			} else {
				if cx < kcx {
					box.X1 = kbox.X0
				} else {
					box.X0 = kbox.X1
				}
			}
		}

		if box.Width() < minDimension || box.Height() < minDimension {
			continue
		}

		clipped := region
		clipped.BBox = &box
		final = append(final, clipped)
	}

	return final
}

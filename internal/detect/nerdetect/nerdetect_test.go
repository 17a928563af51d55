package nerdetect

import (
	"testing"

	"promptshield/internal/model"
)

func TestDetect_PersonNameSurfaces(t *testing.T) {
	d := NewReference()
	dets, err := d.Detect("Jean-Pierre Tremblay, directeur financier, a signé.", "fr")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	found := false
	for _, det := range dets {
		if det.Text == "Jean-Pierre Tremblay" && det.PIIType == model.PIIPerson {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a PERSON detection for the name, got %+v", dets)
	}
}

func TestDetect_StopwordOnlySpanDropped(t *testing.T) {
	d := NewReference()
	dets, err := d.Detect("Principales activités de la société.", "fr")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	for _, det := range dets {
		if det.Text == "Principales" || det.Text == "Société" {
			t.Errorf("expected stopword span to be filtered, got %+v", det)
		}
	}
}

func TestDetect_MixedStopwordAndProperNameSurvives(t *testing.T) {
	d := NewReference()
	dets, err := d.Detect("Société Générale a publié son rapport.", "fr")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	found := false
	for _, det := range dets {
		if det.Text == "Société Générale" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Société Générale to survive the stopword filter, got %+v", dets)
	}
}

func TestDetect_NonFrenchLanguageSkipsStopwordFilter(t *testing.T) {
	d := NewReference()
	dets, err := d.Detect("Principales Corp announced results.", "en")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(dets) == 0 {
		t.Fatal("expected at least one detection under the en hint")
	}
}

func TestIsFalsePositiveOrg_AllStopwordsRejected(t *testing.T) {
	if !isFalsePositiveOrg("fr", "Principales") {
		t.Error("expected single stopword to be rejected")
	}
	if isFalsePositiveOrg("fr", "Société Générale") {
		t.Error("expected proper name with one stopword token to survive")
	}
}

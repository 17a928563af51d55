package noise

import (
	"testing"

	"promptshield/internal/model"
)

func TestIsNoise_BareStopwordDropped(t *testing.T) {
	if !IsNoise(model.PIIOrg, "société") {
		t.Error("expected bare stopword to be noise")
	}
}

func TestIsNoise_ProperNameSurvives(t *testing.T) {
	if IsNoise(model.PIIOrg, "Société Générale") {
		t.Error("expected proper name to survive the filter")
	}
}

func TestIsNoise_TooShortDropped(t *testing.T) {
	if !IsNoise(model.PIIPerson, "A") {
		t.Error("expected single-character span to be noise")
	}
}

func TestIsNoise_PunctuationOnlyDropped(t *testing.T) {
	if !IsNoise(model.PIIPerson, "---") {
		t.Error("expected punctuation-only span to be noise")
	}
}

func TestIsNoise_RealEmailSurvives(t *testing.T) {
	if IsNoise(model.PIIEmail, "jane@example.com") {
		t.Error("did not expect a real email to be flagged as noise")
	}
}

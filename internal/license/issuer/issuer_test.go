package issuer

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"

	"promptshield/internal/license/verify"
)

func newTestIssuer(t *testing.T) (*Issuer, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	iss, err := New(base64.StdEncoding.EncodeToString(priv), 35)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return iss, pub
}

func TestIssue_ProducesVerifiableBlob(t *testing.T) {
	iss, pub := newTestIssuer(t)
	blob, licenseBlob, err := iss.Issue("jane@example.com", "pro", 5, "fingerprint-abc")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if licenseBlob.Email != "jane@example.com" || licenseBlob.Seats != 5 {
		t.Errorf("unexpected blob metadata: %+v", licenseBlob)
	}

	payload, err := verify.Verify(blob, pub, "fingerprint-abc", licenseBlob.Issued)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if payload.Email != "jane@example.com" || payload.Plan != "pro" {
		t.Errorf("unexpected verified payload: %+v", payload)
	}
}

func TestNew_RejectsMalformedKey(t *testing.T) {
	if _, err := New("not-base64!!", 35); err == nil {
		t.Fatal("expected error for malformed key")
	}
	if _, err := New(base64.StdEncoding.EncodeToString([]byte("too short")), 35); err == nil {
		t.Fatal("expected error for wrong-length key")
	}
}

// Package verify implements the client-side license verifier (C9):
// pure, network-free validation of a signed LicenseBlob against an
// embedded Ed25519 public key, the local machine fingerprint, and the
// current time. Ported from original_source's crypto.py
// verify_license_blob, extended with the expiry/fingerprint checks
// the Python original left to its caller.
package verify

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"promptshield/internal/apperr"
)

// Payload is the decoded, authenticated content of a license blob.
type Payload struct {
	Email     string `json:"email"`
	Plan      string `json:"plan"`
	Seats     int    `json:"seats"`
	MachineID string `json:"machine_id"`
	Issued    string `json:"issued"`
	Expires   string `json:"expires"`
	V         int    `json:"v"`
}

// Verify splits blob on its delimiter, decodes both halves, checks the
// Ed25519 signature over the raw payload bytes, then enforces
// `now <= expires` and `payload.machine_id == localFingerprint`.
// Every failure mode returns a distinct apperr.Code per spec §4.9:
// InvalidSignature (malformed or forged blob), Expired, WrongMachine.
func Verify(blob string, publicKey ed25519.PublicKey, localFingerprint string, now time.Time) (Payload, error) {
	parts := strings.SplitN(blob, ".", 2)
	if len(parts) != 2 {
		return Payload{}, apperr.New(apperr.InvalidSignature, "malformed license blob")
	}

	payloadBytes, err := base64.URLEncoding.DecodeString(parts[0])
	if err != nil {
		return Payload{}, apperr.Wrap(apperr.InvalidSignature, "decode license payload", err)
	}
	sigBytes, err := base64.URLEncoding.DecodeString(parts[1])
	if err != nil {
		return Payload{}, apperr.Wrap(apperr.InvalidSignature, "decode license signature", err)
	}

	if !ed25519.Verify(publicKey, payloadBytes, sigBytes) {
		return Payload{}, apperr.New(apperr.InvalidSignature, "license signature rejected")
	}

	var p Payload
	if err := json.Unmarshal(payloadBytes, &p); err != nil {
		return Payload{}, apperr.Wrap(apperr.InvalidSignature, "malformed license payload", err)
	}

	expires, err := time.Parse(time.RFC3339, p.Expires)
	if err != nil {
		return Payload{}, apperr.Wrap(apperr.InvalidSignature, "malformed expiry timestamp", err)
	}
	if now.After(expires) {
		return Payload{}, apperr.New(apperr.Expired, "license expired")
	}

	if p.MachineID != localFingerprint {
		return Payload{}, apperr.New(apperr.WrongMachine, "license bound to a different machine")
	}

	return p, nil
}

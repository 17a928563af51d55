// Package issuer implements the license issuer (C8): it signs
// LicenseBlobs with a server-held Ed25519 private key. Ported from
// original_source's crypto.py create_license_blob, field-for-field —
// same payload shape, same base64url-halves-joined-by-dot envelope —
// with PyNaCl's SigningKey replaced by stdlib crypto/ed25519.
package issuer

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"promptshield/internal/apperr"
	"promptshield/internal/model"
)

// defaultValidityDays is the license lifetime when the caller doesn't
// override it, matching the source's Settings.license_validity_days.
const defaultValidityDays = 35

const schemaVersion = 1

// blobPayload is the exact JSON shape signed and embedded in a blob.
// Field names and ordering follow create_license_blob's dict literal.
type blobPayload struct {
	Email     string `json:"email"`
	Plan      string `json:"plan"`
	Seats     int    `json:"seats"`
	MachineID string `json:"machine_id"`
	Issued    string `json:"issued"`
	Expires   string `json:"expires"`
	V         int    `json:"v"`
}

// Issuer signs LicenseBlobs with a long-term Ed25519 key loaded once
// at construction. The issuer is stateless beyond that key: re-issuing
// for the same subscription returns a fresh blob that supersedes any
// prior one, with no issuer-side bookkeeping.
type Issuer struct {
	privateKey   ed25519.PrivateKey
	validityDays int
}

// New loads the signing key from a base64-encoded 64-byte Ed25519
// private key (the same encoding original_source's generate_keypair
// emits). A missing or malformed key is a fatal configuration error —
// the caller should abort startup rather than run without one.
func New(privateKeyB64 string, validityDays int) (*Issuer, error) {
	raw, err := base64.StdEncoding.DecodeString(privateKeyB64)
	if err != nil {
		return nil, fmt.Errorf("decode ed25519 private key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("ed25519 private key has %d bytes, want %d", len(raw), ed25519.PrivateKeySize)
	}
	if validityDays <= 0 {
		validityDays = defaultValidityDays
	}
	return &Issuer{privateKey: ed25519.PrivateKey(raw), validityDays: validityDays}, nil
}

// Issue binds (email, plan, seats, machineFingerprint) to a freshly
// signed blob, expiring validityDays from now.
func (iss *Issuer) Issue(email, plan string, seats int, machineFingerprint string) (string, model.LicenseBlob, error) {
	now := time.Now().UTC()
	expires := now.AddDate(0, 0, iss.validityDays)

	blob := model.LicenseBlob{
		Email:     email,
		Plan:      plan,
		Seats:     seats,
		MachineID: machineFingerprint,
		Issued:    now,
		Expires:   expires,
		V:         schemaVersion,
	}

	payloadBytes, err := json.Marshal(blobPayload{
		Email:     email,
		Plan:      plan,
		Seats:     seats,
		MachineID: machineFingerprint,
		Issued:    now.Format(time.RFC3339),
		Expires:   expires.Format(time.RFC3339),
		V:         schemaVersion,
	})
	if err != nil {
		return "", model.LicenseBlob{}, apperr.Wrap(apperr.Internal, "marshal license payload", err)
	}

	sig := ed25519.Sign(iss.privateKey, payloadBytes)

	encoded := base64.URLEncoding.EncodeToString(payloadBytes) + "." + base64.URLEncoding.EncodeToString(sig)
	return encoded, blob, nil
}

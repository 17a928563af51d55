// Package auth implements account registration/login and the
// access/refresh token pair issued to the desktop client, grounded on
// original_source's schemas.py (RegisterRequest/LoginRequest/
// TokenResponse/RefreshRequest/UserResponse field names). No JWT
// library appears anywhere in the example pack, so the token format
// here reuses this codebase's own signed-envelope idiom (see
// license/issuer's ed25519 blob and vault's HMAC-BLAKE2b token
// derivation) with HMAC-SHA256 standing in for the HS256 algorithm
// config.LicenseConfig already names.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"promptshield/internal/apperr"
)

// claims is the payload signed into an access or refresh token.
type claims struct {
	Subject   string    `json:"sub"`
	Email     string    `json:"email"`
	TokenType string    `json:"type"` // "access" or "refresh"
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

// TokenSigner mints and verifies the HMAC-signed access/refresh tokens.
type TokenSigner struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenSigner builds a signer from the configured JWT secret and
// expiries. An empty secret is a caller error: it would make every
// token forgeable.
func NewTokenSigner(secret string, accessMinutes, refreshDays int) (*TokenSigner, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth: empty token signing secret")
	}
	return &TokenSigner{
		secret:     []byte(secret),
		accessTTL:  time.Duration(accessMinutes) * time.Minute,
		refreshTTL: time.Duration(refreshDays) * 24 * time.Hour,
	}, nil
}

func (s *TokenSigner) sign(c claims) (string, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	bodyB64 := base64.RawURLEncoding.EncodeToString(body)
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(bodyB64))
	sigB64 := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return bodyB64 + "." + sigB64, nil
}

// IssueAccessToken mints a short-lived access token for userID/email.
func (s *TokenSigner) IssueAccessToken(userID, email string) (string, error) {
	now := time.Now().UTC()
	return s.sign(claims{Subject: userID, Email: email, TokenType: "access", IssuedAt: now, ExpiresAt: now.Add(s.accessTTL)})
}

// IssueRefreshToken mints a long-lived refresh token for userID/email.
func (s *TokenSigner) IssueRefreshToken(userID, email string) (string, error) {
	now := time.Now().UTC()
	return s.sign(claims{Subject: userID, Email: email, TokenType: "refresh", IssuedAt: now, ExpiresAt: now.Add(s.refreshTTL)})
}

// AccessTTLSeconds is the access token lifetime in seconds, the
// expires_in field of a TokenResponse.
func (s *TokenSigner) AccessTTLSeconds() int {
	return int(s.accessTTL.Seconds())
}

// Verify checks signature, expiry, and token type, returning the
// embedded subject/email on success.
func (s *TokenSigner) Verify(token, wantType string) (userID, email string, err error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return "", "", apperr.New(apperr.InvalidSignature, "malformed token")
	}
	bodyB64, sigB64 := parts[0], parts[1]

	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(bodyB64))
	wantSig := mac.Sum(nil)
	gotSig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil || subtle.ConstantTimeCompare(gotSig, wantSig) != 1 {
		return "", "", apperr.New(apperr.InvalidSignature, "token signature mismatch")
	}

	body, err := base64.RawURLEncoding.DecodeString(bodyB64)
	if err != nil {
		return "", "", apperr.New(apperr.InvalidSignature, "malformed token body")
	}
	var c claims
	if err := json.Unmarshal(body, &c); err != nil {
		return "", "", apperr.New(apperr.InvalidSignature, "malformed token claims")
	}
	if c.TokenType != wantType {
		return "", "", apperr.New(apperr.InvalidSignature, "unexpected token type")
	}
	if time.Now().UTC().After(c.ExpiresAt) {
		return "", "", apperr.New(apperr.Expired, "token has expired")
	}
	return c.Subject, c.Email, nil
}

package auth

import (
	"testing"
	"time"

	"promptshield/internal/apperr"
)

func TestIssueAccessToken_VerifiesWithMatchingType(t *testing.T) {
	signer, err := NewTokenSigner("test-secret", 30, 30)
	if err != nil {
		t.Fatalf("NewTokenSigner: %v", err)
	}
	tok, err := signer.IssueAccessToken("user-1", "jane@example.com")
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	userID, email, err := signer.Verify(tok, "access")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if userID != "user-1" || email != "jane@example.com" {
		t.Errorf("Verify = %q, %q", userID, email)
	}
}

func TestVerify_WrongTokenTypeRejected(t *testing.T) {
	signer, _ := NewTokenSigner("test-secret", 30, 30)
	tok, _ := signer.IssueRefreshToken("user-1", "jane@example.com")
	if _, _, err := signer.Verify(tok, "access"); err == nil {
		t.Fatal("expected refresh token to fail access verification")
	}
}

func TestVerify_TamperedSignatureRejected(t *testing.T) {
	signer, _ := NewTokenSigner("test-secret", 30, 30)
	tok, _ := signer.IssueAccessToken("user-1", "jane@example.com")
	tampered := tok[:len(tok)-2] + "xx"
	_, _, err := signer.Verify(tampered, "access")
	e, ok := apperr.As(err)
	if !ok || e.Code != apperr.InvalidSignature {
		t.Fatalf("Verify tampered = %v, want InvalidSignature", err)
	}
}

func TestVerify_ExpiredAccessTokenRejected(t *testing.T) {
	signer, _ := NewTokenSigner("test-secret", 0, 30)
	tok, _ := signer.IssueAccessToken("user-1", "jane@example.com")
	time.Sleep(5 * time.Millisecond)
	_, _, err := signer.Verify(tok, "access")
	e, ok := apperr.As(err)
	if !ok || e.Code != apperr.Expired {
		t.Fatalf("Verify expired = %v, want Expired", err)
	}
}

func TestVerify_DifferentSecretRejected(t *testing.T) {
	signer1, _ := NewTokenSigner("secret-one", 30, 30)
	signer2, _ := NewTokenSigner("secret-two", 30, 30)
	tok, _ := signer1.IssueAccessToken("user-1", "jane@example.com")
	if _, _, err := signer2.Verify(tok, "access"); err == nil {
		t.Fatal("expected verification under a different secret to fail")
	}
}

func TestNewTokenSigner_RejectsEmptySecret(t *testing.T) {
	if _, err := NewTokenSigner("", 30, 30); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

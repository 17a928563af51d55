package auth

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"promptshield/internal/apperr"
)

// testService is skipped unless PROMPTSHIELD_TEST_DATABASE_URL points
// at a Postgres instance with the users table applied.
func testService(t *testing.T) *Service {
	t.Helper()
	dsn := os.Getenv("PROMPTSHIELD_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PROMPTSHIELD_TEST_DATABASE_URL not set, skipping auth integration test")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)
	signer, err := NewTokenSigner("test-secret", 30, 30)
	if err != nil {
		t.Fatalf("NewTokenSigner: %v", err)
	}
	return NewService(pool, signer)
}

func TestRegister_DuplicateEmailConflicts(t *testing.T) {
	s := testService(t)
	ctx := context.Background()
	if _, _, err := s.Register(ctx, "dup@example.com", "hunter2", "Jane"); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	_, _, err := s.Register(ctx, "dup@example.com", "hunter2", "Jane")
	e, ok := apperr.As(err)
	if !ok || e.Code != apperr.ConflictError {
		t.Fatalf("second Register = %v, want ConflictError", err)
	}
}

func TestLogin_WrongPasswordRejected(t *testing.T) {
	s := testService(t)
	ctx := context.Background()
	if _, _, err := s.Register(ctx, "login1@example.com", "correct-password", "Jane"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, _, err := s.Login(ctx, "login1@example.com", "wrong-password")
	if err == nil {
		t.Fatal("expected Login with wrong password to fail")
	}
}

func TestRegisterThenLogin_IssuesUsableTokens(t *testing.T) {
	s := testService(t)
	ctx := context.Background()
	if _, _, err := s.Register(ctx, "login2@example.com", "correct-password", "Jane"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, tokens, err := s.Login(ctx, "login2@example.com", "correct-password")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Fatal("expected non-empty token pair")
	}
	if _, _, err := s.Refresh(ctx, tokens.RefreshToken); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
}

package licenseapi

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"promptshield/internal/license/auth"
	"promptshield/internal/license/issuer"
	"promptshield/internal/license/ratelimit"
)

func init() { gin.SetMode(gin.TestMode) }

// newTestHandler is skipped unless PROMPTSHIELD_TEST_DATABASE_URL is
// set, since register/login/activate all round-trip through Postgres.
func newTestHandler(t *testing.T) (*Handler, ed25519.PublicKey) {
	t.Helper()
	dsn := os.Getenv("PROMPTSHIELD_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PROMPTSHIELD_TEST_DATABASE_URL not set, skipping licenseapi integration test")
	}
	pool, err := pgxpool.New(t.Context(), dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)

	signer, err := auth.NewTokenSigner("test-secret", 30, 30)
	if err != nil {
		t.Fatalf("NewTokenSigner: %v", err)
	}
	authSvc := auth.NewService(pool, signer)

	pub, priv, _ := ed25519.GenerateKey(nil)
	iss, err := issuer.New(base64.StdEncoding.EncodeToString(priv), 35)
	if err != nil {
		t.Fatalf("issuer.New: %v", err)
	}

	h, err := NewHandler(authSvc, iss, nil, base64.StdEncoding.EncodeToString(pub))
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return h, pub
}

func TestRegister_ReturnsTokenPair(t *testing.T) {
	h, _ := newTestHandler(t)
	limiter := ratelimit.New(1000, time.Minute)
	r := SetupRouter(h, limiter, nil)

	body, _ := json.Marshal(registerRequest{Email: "register1@example.com", Password: "hunter2pass", FullName: "Jane"})
	req := httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("register = %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["access_token"] == "" || resp["refresh_token"] == "" {
		t.Errorf("expected non-empty token pair, got %+v", resp)
	}
}

func TestLicenseRoutes_RequireBearerToken(t *testing.T) {
	h, _ := newTestHandler(t)
	limiter := ratelimit.New(1000, time.Minute)
	r := SetupRouter(h, limiter, nil)

	req := httptest.NewRequest(http.MethodPost, "/license/activate", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("activate without bearer token = %d, want 400", rec.Code)
	}
}

func TestBillingStub_ReturnsNotImplemented(t *testing.T) {
	h, _ := newTestHandler(t)
	limiter := ratelimit.New(1000, time.Minute)
	r := SetupRouter(h, limiter, nil)

	_, tokens, err := h.auth.Register(t.Context(), "billing1@example.com", "hunter2pass", "Jane")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/billing/checkout", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("billing stub = %d, want 501", rec.Code)
	}
}

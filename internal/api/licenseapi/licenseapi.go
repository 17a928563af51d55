// Package licenseapi implements the license server's HTTP surface:
// account auth, license activation/validation, and a billing stub.
// Router setup (gin.Engine + CORS middleware reading an allow-list) is
// adapted from the pack's coinjoin-engine SetupRouter; request/response
// field names come from original_source's schemas.py.
package licenseapi

import (
	"crypto/ed25519"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"promptshield/internal/apperr"
	"promptshield/internal/license/auth"
	"promptshield/internal/license/issuer"
	"promptshield/internal/license/ratelimit"
	"promptshield/internal/license/registry"
	"promptshield/internal/license/verify"
)

// Handler bundles the services the licensing routes dispatch to.
type Handler struct {
	auth     *auth.Service
	issuer   *issuer.Issuer
	registry *registry.Registry
	pub      ed25519.PublicKey
}

// NewHandler wires a Handler to its backing services.
func NewHandler(authSvc *auth.Service, iss *issuer.Issuer, reg *registry.Registry, publicKeyB64 string) (*Handler, error) {
	pub, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil, apperr.New(apperr.Internal, "malformed license server public key")
	}
	return &Handler{auth: authSvc, issuer: iss, registry: reg, pub: ed25519.PublicKey(pub)}, nil
}

// SetupRouter builds the gin.Engine for the license server: CORS,
// rate limiting, and the auth/license/billing route groups.
func SetupRouter(h *Handler, limiter *ratelimit.Limiter, allowedOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware(allowedOrigins))
	r.Use(limiter.Middleware())

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/register", h.register)
		authGroup.POST("/login", h.login)
		authGroup.POST("/refresh", h.refresh)
	}

	licenseGroup := r.Group("/license")
	licenseGroup.Use(h.bearerAuth())
	{
		licenseGroup.POST("/activate", h.activate)
		licenseGroup.POST("/validate", h.validate)
		licenseGroup.POST("/deactivate", h.deactivate)
		licenseGroup.POST("/offline-key", h.offlineKey)
	}

	billingGroup := r.Group("/billing")
	billingGroup.Use(h.bearerAuth())
	{
		billingGroup.POST("/checkout", h.billingStub)
		billingGroup.GET("/portal", h.billingStub)
	}

	return r
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimSpace(o)] = true
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		switch {
		case allowAll:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// bearerAuth requires a valid access token, set by the login/refresh
// flow, and stashes the authenticated user id/email in gin's context.
func (h *Handler) bearerAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		const prefix = "Bearer "
		hdr := c.GetHeader("Authorization")
		if !strings.HasPrefix(hdr, prefix) {
			abortErr(c, apperr.New(apperr.InvalidInput, "missing bearer token"))
			return
		}
		userID, email, err := h.auth.VerifyAccessToken(strings.TrimPrefix(hdr, prefix))
		if err != nil {
			abortErr(c, err)
			return
		}
		c.Set("user_id", userID)
		c.Set("user_email", email)
		c.Next()
	}
}

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	FullName string `json:"full_name"`
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, apperr.New(apperr.InvalidInput, err.Error()))
		return
	}
	_, tokens, err := h.auth.Register(c.Request.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenResponse(tokens))
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, apperr.New(apperr.InvalidInput, err.Error()))
		return
	}
	_, tokens, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenResponse(tokens))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (h *Handler) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, apperr.New(apperr.InvalidInput, err.Error()))
		return
	}
	_, tokens, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenResponse(tokens))
}

func tokenResponse(t auth.Tokens) gin.H {
	return gin.H{
		"access_token":  t.AccessToken,
		"refresh_token": t.RefreshToken,
		"token_type":    "bearer",
		"expires_in":    t.ExpiresIn,
	}
}

type activateRequest struct {
	SubscriptionID     string `json:"subscription_id" binding:"required"`
	MachineFingerprint string `json:"machine_fingerprint" binding:"required,min=16,max=128"`
	MachineName        string `json:"machine_name"`
}

func (h *Handler) activate(c *gin.Context) {
	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, apperr.New(apperr.InvalidInput, err.Error()))
		return
	}
	reg, err := h.registry.Activate(c.Request.Context(), req.SubscriptionID, req.MachineFingerprint, req.MachineName)
	if err != nil {
		abortErr(c, err)
		return
	}

	email, _ := c.Get("user_email")
	blob, _, err := h.issuer.Issue(email.(string), "pro", 1, req.MachineFingerprint)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"license_blob":        blob,
		"machine_fingerprint": reg.MachineFingerprint,
		"activated_at":        reg.ActivatedAt,
	})
}

type validateRequest struct {
	SubscriptionID     string `json:"subscription_id" binding:"required"`
	MachineFingerprint string `json:"machine_fingerprint" binding:"required"`
	LicenseBlob        string `json:"license_blob" binding:"required"`
}

func (h *Handler) validate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, apperr.New(apperr.InvalidInput, err.Error()))
		return
	}
	if err := h.registry.Validate(c.Request.Context(), req.SubscriptionID, req.MachineFingerprint); err != nil {
		abortErr(c, err)
		return
	}
	payload, err := verify.Verify(req.LicenseBlob, h.pub, req.MachineFingerprint, time.Now().UTC())
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":   true,
		"plan":    payload.Plan,
		"expires": payload.Expires,
	})
}

type deactivateRequest struct {
	SubscriptionID     string `json:"subscription_id" binding:"required"`
	MachineFingerprint string `json:"machine_fingerprint" binding:"required"`
}

func (h *Handler) deactivate(c *gin.Context) {
	var req deactivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, apperr.New(apperr.InvalidInput, err.Error()))
		return
	}
	if err := h.registry.Deactivate(c.Request.Context(), req.SubscriptionID, req.MachineFingerprint); err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type offlineKeyRequest struct {
	SubscriptionID     string `json:"subscription_id" binding:"required"`
	MachineFingerprint string `json:"machine_fingerprint" binding:"required"`
}

// offlineKey re-issues a fresh, long-validity blob for a machine
// that's already activated, so the desktop client can keep operating
// without phoning home until the blob's own expiry.
func (h *Handler) offlineKey(c *gin.Context) {
	var req offlineKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, apperr.New(apperr.InvalidInput, err.Error()))
		return
	}
	if err := h.registry.Validate(c.Request.Context(), req.SubscriptionID, req.MachineFingerprint); err != nil {
		abortErr(c, err)
		return
	}
	email, _ := c.Get("user_email")
	blob, licenseBlob, err := h.issuer.Issue(email.(string), "pro", 1, req.MachineFingerprint)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"license_blob": blob, "expires_at": licenseBlob.Expires})
}

// billingStub reports billing as not configured. Payment processing
// (Stripe checkout/portal sessions) is out of scope per spec
// Non-goals — no payment-processor SDK appears anywhere in the example
// pack, and wiring one up isn't a detection/licensing concern the spec
// asks for; the route exists so a client gets a clean 501 instead of a
// 404 when it probes for billing support.
func (h *Handler) billingStub(c *gin.Context) {
	c.JSON(http.StatusNotImplemented, gin.H{"detail": "billing is not enabled on this server"})
}

func abortErr(c *gin.Context, err error) {
	c.AbortWithStatusJSON(apperr.HTTPStatus(err), apperr.ResponseBody(err))
}

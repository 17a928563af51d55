// Command licenseserver runs the account/licensing API: registration,
// login, seat activation, and signed license issuance, backed by
// PostgreSQL (§4.8-§4.11).
//
// Usage:
//
//	PS_DATABASE_URL=postgres://... \
//	PS_ED25519_PRIVATE_KEY_B64=... PS_ED25519_PUBLIC_KEY_B64=... \
//	./licenseserver
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"promptshield/internal/api/licenseapi"
	"promptshield/internal/auditlog"
	"promptshield/internal/config"
	"promptshield/internal/license/auth"
	"promptshield/internal/license/issuer"
	"promptshield/internal/license/ratelimit"
	"promptshield/internal/license/registry"
)

func main() {
	cfg := config.LoadLicense()
	log.SetFlags(0)

	logger := auditlog.New("licenseserver", auditlog.ParseFormat(cfg.LogFormat), cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg, err := registry.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		log.Fatalf("[LICENSESERVER] connect registry: %v", err)
	}
	defer reg.Close()

	if cfg.ValidateCachePath != "" {
		cache, err := registry.NewBboltCache(cfg.ValidateCachePath, time.Duration(cfg.ValidateCacheTTL)*time.Second, logger)
		if err != nil {
			log.Fatalf("[LICENSESERVER] open validate cache: %v", err)
		}
		reg = reg.WithCache(cache)
	}

	signer, err := auth.NewTokenSigner(cfg.JWTSecret, cfg.AccessTokenExpireMinutes, cfg.RefreshTokenExpireDays)
	if err != nil {
		log.Fatalf("[LICENSESERVER] build token signer: %v", err)
	}
	authSvc := auth.NewService(reg.Pool(), signer)

	iss, err := issuer.New(cfg.Ed25519SigningKeyB64, cfg.LicenseValidityDays)
	if err != nil {
		log.Fatalf("[LICENSESERVER] build issuer: %v", err)
	}

	handler, err := licenseapi.NewHandler(authSvc, iss, reg, cfg.Ed25519PublicKeyB64)
	if err != nil {
		log.Fatalf("[LICENSESERVER] build handler: %v", err)
	}

	limiter := ratelimit.New(cfg.RateLimitMaxRequests, time.Duration(cfg.RateLimitWindowSeconds)*time.Second)
	router := licenseapi.SetupRouter(handler, limiter, cfg.AllowedOrigins)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Infof("startup", "listening on %s", addr)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown", "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("shutdown", "shutdown error: %v", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("[LICENSESERVER] fatal: %v", err)
	}
}

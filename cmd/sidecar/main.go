// Command sidecar runs the document-anonymization sidecar: local PII
// detection over already-extracted document pages, a token vault, and
// detokenization, all served on a loopback-only HTTP API (§6).
//
// Usage:
//
//	./sidecar
//
//	# custom port / data directory
//	PS_SIDECAR_PORT=9100 PS_DATA_DIR=/var/lib/promptshield ./sidecar
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"promptshield/internal/api"
	"promptshield/internal/auditlog"
	"promptshield/internal/config"
	"promptshield/internal/detect/llmdetect"
	"promptshield/internal/detect/merge"
	"promptshield/internal/detect/nerdetect"
	"promptshield/internal/detect/orchestrate"
	"promptshield/internal/detect/regexdetect"
	"promptshield/internal/metrics"
	"promptshield/internal/vault"
)

func main() {
	cfg := config.LoadSidecar()
	log.SetFlags(0)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		log.Fatalf("[SIDECAR] create data dir: %v", err)
	}

	logger := auditlog.New("sidecar", auditlog.ParseFormat(cfg.LogFormat), cfg.LogLevel)
	m := metrics.New()

	printBanner(cfg)

	var ner nerdetect.Detector
	if cfg.NEREnabled {
		ner = nerdetect.NewReference()
	}

	var llm *llmdetect.Detector
	if cfg.LLMDetectionEnabled {
		llm = llmdetect.New(cfg.LLMEndpoint, cfg.LLMModel, logger,
			llmdetect.WithMaxConcurrent(cfg.LLMMaxConcurrent),
			llmdetect.WithMetrics(m),
			llmdetect.WithCachePath(filepath.Join(cfg.DataDir, "llm-suggestions.db"), logger),
		)
		defer llm.Close() //nolint:errcheck // best-effort close on shutdown
	}

	var regex *regexdetect.Detector
	if cfg.RegexEnabled {
		regex = regexdetect.New()
	}

	mergeCfg := merge.Config{DateMoneyAutoIgnoreThreshold: cfg.DetectionThresholds.DateMoneyAutoIgnore}
	orch := orchestrate.New(regex, ner, llm, mergeCfg, logger)

	v := vault.New(cfg.VaultPath, cfg.TokenPrefix)

	server := api.New(api.ServerConfig{BearerToken: cfg.ManagementToken}, v, orch, m, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Infof("startup", "listening on %s", addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("shutdown", "shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		v.Lock()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Errorf("shutdown", "shutdown error: %v", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("[SIDECAR] fatal: %v", err)
	}
}

func printBanner(cfg *config.SidecarConfig) {
	fmt.Printf(`
promptshield sidecar
  listen       : %s:%d
  data dir     : %s
  vault path   : %s
  regex/ner/llm: %v / %v / %v
  llm endpoint : %s (%s)
`, cfg.Host, cfg.Port, cfg.DataDir, cfg.VaultPath,
		cfg.RegexEnabled, cfg.NEREnabled, cfg.LLMDetectionEnabled,
		cfg.LLMEndpoint, cfg.LLMModel)
}

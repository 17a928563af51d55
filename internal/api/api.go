// Package api implements the sidecar's local HTTP surface (§6): vault
// lifecycle, detokenization, and detection triggering. Modeled on the
// teacher's management package — a hand-rolled http.ServeMux with a
// constant-time bearer-token check — extended with the CSRF
// X-Requested-With gate from original_source's api/csrf.py, since
// the teacher had no CSRF layer of its own to imitate.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"promptshield/internal/apperr"
	"promptshield/internal/auditlog"
	"promptshield/internal/detect/orchestrate"
	"promptshield/internal/metrics"
	"promptshield/internal/model"
	"promptshield/internal/vault"
)

// progressPollInterval is how often the progress-stream handler
// re-checks the orchestrator's shared progress map between pushes.
const progressPollInterval = 250 * time.Millisecond

// progressUpgrader upgrades GET /api/documents/{id}/progress to a
// websocket connection. Origin checking is left to authMiddleware's
// bearer-token gate in front of it; loopback-only callers don't carry
// a browser Origin header to validate against.
var progressUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// safeMethods never require the CSRF header, matching csrf.py's
// _SAFE_METHODS.
var safeMethods = map[string]bool{http.MethodGet: true, http.MethodHead: true, http.MethodOptions: true}

// csrfExemptPrefixes mirrors csrf.py's _EXEMPT_PREFIXES.
var csrfExemptPrefixes = []string{"/health", "/api/warmup"}

// Server is the sidecar's local HTTP API. One Server instance per
// running sidecar process; the vault and orchestrator it wraps are
// themselves safe for concurrent use.
type Server struct {
	cfg          ServerConfig
	vaultStore   *vault.Store
	orchestrator *orchestrate.Orchestrator
	metrics      *metrics.Metrics
	log          *auditlog.Logger
	startTime    time.Time

	passMu     sync.RWMutex
	passphrase string // cached only while the vault is unlocked; cleared on Lock
}

// ServerConfig holds the bits of SidecarConfig the API layer consults
// directly (kept separate from config.SidecarConfig so this package
// doesn't need to import the concrete defaults/env-loading logic).
type ServerConfig struct {
	BearerToken string
	MaxBodySize int64 // 0 = 10 MiB default
}

// New builds a Server wired to the given vault, orchestrator, and
// metrics sink.
func New(cfg ServerConfig, v *vault.Store, o *orchestrate.Orchestrator, m *metrics.Metrics, log *auditlog.Logger) *Server {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 10 << 20
	}
	return &Server{cfg: cfg, vaultStore: v, orchestrator: o, metrics: m, log: log, startTime: time.Now()}
}

// Handler returns the full sidecar HTTP handler, CSRF- and
// auth-wrapped.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/vault/unlock", s.handleVaultUnlock)
	mux.HandleFunc("/api/vault/lock", s.handleVaultLock)
	mux.HandleFunc("/api/vault/status", s.handleVaultStatus)
	mux.HandleFunc("/api/vault/stats", s.handleVaultStats)
	mux.HandleFunc("/api/vault/tokens", s.handleVaultTokens)
	mux.HandleFunc("/api/vault/export", s.handleVaultExport)
	mux.HandleFunc("/api/vault/import", s.handleVaultImport)
	mux.HandleFunc("/api/detokenize", s.handleDetokenize)
	mux.HandleFunc("/api/detokenize/file", s.handleDetokenizeFile)
	mux.HandleFunc("/api/documents/", s.handleDocumentRoutes)
	return s.authMiddleware(s.csrfMiddleware(mux))
}

func (s *Server) csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if safeMethods[r.Method] {
			next.ServeHTTP(w, r)
			return
		}
		for _, p := range csrfExemptPrefixes {
			if strings.HasPrefix(r.URL.Path, p) {
				next.ServeHTTP(w, r)
				return
			}
		}
		if r.Header.Get("X-Requested-With") == "" {
			s.log.Warnf("csrf", "blocked %s %s: missing X-Requested-With", r.Method, r.URL.Path)
			writeError(w, apperr.New(apperr.VaultLocked, "missing X-Requested-With header"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.BearerToken == "" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		const prefix = "Bearer "
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.cfg.BearerToken)) != 1 {
			writeError(w, apperr.New(apperr.VaultLocked, "unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}

type passphraseBody struct {
	Passphrase string `json:"passphrase"`
}

func (s *Server) handleVaultUnlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apperr.New(apperr.InvalidInput, "POST only"))
		return
	}
	var body passphraseBody
	if !decodeBody(w, r, s.cfg.MaxBodySize, &body) {
		return
	}
	if err := s.vaultStore.Unlock(body.Passphrase); err != nil {
		writeError(w, err)
		return
	}
	s.passMu.Lock()
	s.passphrase = body.Passphrase
	s.passMu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "vault unlocked"})
}

func (s *Server) handleVaultLock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apperr.New(apperr.InvalidInput, "POST only"))
		return
	}
	s.vaultStore.Lock()
	s.passMu.Lock()
	s.passphrase = ""
	s.passMu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVaultStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"unlocked": s.vaultStore.Unlocked(),
		"path":     s.vaultStore.Path(),
	})
}

func (s *Server) handleVaultStats(w http.ResponseWriter, _ *http.Request) {
	if !s.vaultStore.Unlocked() {
		writeError(w, apperr.New(apperr.VaultLocked, "vault is locked"))
		return
	}
	writeJSON(w, http.StatusOK, s.vaultStore.Stats())
}

func (s *Server) handleVaultTokens(w http.ResponseWriter, r *http.Request) {
	if !s.vaultStore.Unlocked() {
		writeError(w, apperr.New(apperr.VaultLocked, "vault is locked"))
		return
	}
	writeJSON(w, http.StatusOK, s.vaultStore.Tokens(r.URL.Query().Get("source_document")))
}

func (s *Server) handleVaultExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apperr.New(apperr.InvalidInput, "POST only"))
		return
	}
	if !s.vaultStore.Unlocked() {
		writeError(w, apperr.New(apperr.VaultLocked, "vault is locked"))
		return
	}
	var body passphraseBody
	if !decodeBody(w, r, s.cfg.MaxBodySize, &body) {
		return
	}
	data, err := s.vaultStore.Export(body.Passphrase)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"export": string(data)})
}

type vaultImportBody struct {
	ExportData string `json:"export_data"`
	Passphrase string `json:"passphrase"`
}

func (s *Server) handleVaultImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apperr.New(apperr.InvalidInput, "POST only"))
		return
	}
	if !s.vaultStore.Unlocked() {
		writeError(w, apperr.New(apperr.VaultLocked, "vault is locked"))
		return
	}
	var body vaultImportBody
	if !decodeBody(w, r, s.cfg.MaxBodySize, &body) {
		return
	}
	s.passMu.RLock()
	vaultPass := s.passphrase
	s.passMu.RUnlock()
	if err := s.vaultStore.Import([]byte(body.ExportData), body.Passphrase, vaultPass); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type detokenizeRequest struct {
	Text string `json:"text"`
}

type detokenizeResponse struct {
	OriginalText     string   `json:"original_text"`
	TokensReplaced   int      `json:"tokens_replaced"`
	UnresolvedTokens []string `json:"unresolved_tokens"`
}

func (s *Server) handleDetokenize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apperr.New(apperr.InvalidInput, "POST only"))
		return
	}
	var req detokenizeRequest
	if !decodeBody(w, r, s.cfg.MaxBodySize, &req) {
		return
	}
	result, count, unresolved, err := s.vaultStore.ResolveAll(req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	s.metrics.TokensDetokenized.Add(int64(count))
	writeJSON(w, http.StatusOK, detokenizeResponse{
		OriginalText:     result,
		TokensReplaced:   count,
		UnresolvedTokens: unresolved,
	})
}

// handleDetokenizeFile supports plain-text-bearing uploads (.txt/.csv).
// Structured-document formats (.docx/.xlsx/.pdf) need an OOXML/PDF
// parsing library no repo in the example pack imports; scope is
// limited to the formats stdlib can already losslessly round-trip as
// text.
func (s *Server) handleDetokenizeFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apperr.New(apperr.InvalidInput, "POST only"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodySize)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, apperr.New(apperr.InvalidInput, "failed to read upload"))
		return
	}
	result, count, unresolved, err := s.vaultStore.ResolveAll(string(data))
	if err != nil {
		writeError(w, err)
		return
	}
	s.metrics.TokensDetokenized.Add(int64(count))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Tokens-Replaced", strconv.Itoa(count))
	w.Header().Set("X-Unresolved-Tokens", strings.Join(unresolved, ","))
	w.Header().Set("Access-Control-Expose-Headers", "X-Tokens-Replaced, X-Unresolved-Tokens")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(result))
}

type detectRequest struct {
	Language     string                  `json:"language"`
	Pages        []model.PageData        `json:"pages"`
	PriorActions map[string]model.Action `json:"prior_actions,omitempty"`
}

// handleDocumentRoutes dispatches /api/documents/{id}/detect, /cancel,
// /progress and /manifest; a ServeMux pattern-per-verb would need a
// route per id, so this mirrors the teacher's approach of parsing the
// trailing path segment by hand.
func (s *Server) handleDocumentRoutes(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimPrefix(r.URL.Path, "/api/documents/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, apperr.New(apperr.NotFound, "unknown route"))
		return
	}
	docID, action := parts[0], parts[1]

	switch action {
	case "detect":
		s.handleDetect(w, r, docID)
	case "cancel":
		s.handleCancel(w, r, docID)
	case "progress":
		s.handleProgress(w, r, docID)
	case "manifest":
		s.handleManifest(w, r, docID)
	default:
		writeError(w, apperr.New(apperr.NotFound, "unknown document action"))
	}
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request, docID string) {
	if r.Method != http.MethodPost {
		writeError(w, apperr.New(apperr.InvalidInput, "POST only"))
		return
	}
	var req detectRequest
	if !decodeBody(w, r, s.cfg.MaxBodySize, &req) {
		return
	}
	s.metrics.RequestsDetected.Add(1)
	start := time.Now()
	regions := s.orchestrator.Detect(r.Context(), docID, req.Language, req.Pages, req.PriorActions)
	s.metrics.RecordDetectLatency(time.Since(start))
	writeJSON(w, http.StatusOK, map[string]any{"regions": regions})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, docID string) {
	if r.Method != http.MethodPost {
		writeError(w, apperr.New(apperr.InvalidInput, "POST only"))
		return
	}
	s.orchestrator.Cancel(docID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleManifest returns docID's token manifest: every (token,
// pii_type, plaintext) tuple minted against it. Callers use this to
// persist a detokenization key alongside the anonymized output, the
// same role the source's save_manifest plays.
func (s *Server) handleManifest(w http.ResponseWriter, _ *http.Request, docID string) {
	if !s.vaultStore.Unlocked() {
		writeError(w, apperr.New(apperr.VaultLocked, "vault is locked"))
		return
	}
	entries, err := s.vaultStore.ExportManifest(docID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"doc_id": docID, "tokens": entries})
}

// handleProgress upgrades to a websocket and pushes Progress snapshots
// for docID as the orchestrator's shared progress map changes, closing
// the connection once the document reaches PageDone == PageTotal.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request, docID string) {
	conn, err := progressUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("progress_stream", "websocket upgrade failed for %s: %v", docID, err)
		return
	}
	defer conn.Close() //nolint:errcheck // best-effort close once the stream ends

	ticker := time.NewTicker(progressPollInterval)
	defer ticker.Stop()

	var last orchestrate.Progress
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			p, ok := s.orchestrator.Progress(docID)
			if !ok {
				continue
			}
			if p == last {
				continue
			}
			last = p
			if err := conn.WriteJSON(p); err != nil {
				return
			}
			if p.PageTotal > 0 && p.PageDone >= p.PageTotal {
				return
			}
		}
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, maxBytes int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, apperr.New(apperr.InvalidInput, "malformed request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperr.HTTPStatus(err), apperr.ResponseBody(err))
}

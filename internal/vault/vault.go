// Package vault implements the token minter and encrypted store (C7):
// deterministic token minting, an on-disk single-file authenticated
// store, and text/token substitution for detokenization.
package vault

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"sync"
	"time"

	"promptshield/internal/apperr"
	"promptshield/internal/model"
)

// Store is the in-process vault: single-writer/multi-reader guarded by
// an RWMutex, multi-process exclusive access guarded by fileLock. All
// methods are safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	path    string
	prefix  string
	tokenRE *regexp.Regexp

	lock *fileLock

	unlocked bool
	indexKey []byte // zeroized on Lock
	entries  map[string]model.Token
	reverse  map[string]string // plaintext_hash -> token_string
}

// New returns a Store bound to the given file path and token prefix.
// It does not read or create the file; call Unlock (which creates a
// fresh vault if none exists) before minting or resolving tokens.
func New(path, tokenPrefix string) *Store {
	return &Store{
		path:    path,
		prefix:  tokenPrefix,
		tokenRE: tokenRegexp(tokenPrefix),
		entries: make(map[string]model.Token),
		reverse: make(map[string]string),
	}
}

// Unlock derives the key-encryption key from passphrase, decrypts the
// on-disk payload into memory, and marks the vault unlocked. If no
// file exists at Store's path yet, a fresh empty vault is created and
// immediately persisted under this passphrase.
func (s *Store) Unlock(passphrase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unlocked {
		return nil
	}

	fl, err := acquireFileLock(s.path)
	if err != nil {
		return apperr.Wrap(apperr.VaultLocked, "vault already open in another process", err)
	}

	data, err := os.ReadFile(s.path) //nolint:gosec // vault path comes from trusted config
	switch {
	case os.IsNotExist(err):
		if initErr := s.initializeLocked(passphrase); initErr != nil {
			fl.release() //nolint:errcheck
			return initErr
		}
		s.lock = fl
		s.unlocked = true
		return nil
	case err != nil:
		fl.release() //nolint:errcheck
		return apperr.Wrap(apperr.VaultCorrupt, "read vault file", err)
	}

	_, p, decodeErr := decodeFile(data, passphrase)
	if decodeErr != nil {
		fl.release() //nolint:errcheck
		return decodeErr
	}

	entries := make(map[string]model.Token, len(p.Entries))
	for _, st := range p.Entries {
		entries[st.TokenString] = model.Token{
			TokenString:    st.TokenString,
			PIIType:        model.PIIType(st.PIIType),
			Plaintext:      st.Plaintext,
			SourceDocument: st.SourceDocument,
			CreatedAt:      time.Unix(st.CreatedAtUnix, 0).UTC(),
		}
	}

	s.indexKey = p.MasterIndexKey
	s.entries = entries
	s.reverse = p.ReverseIndex
	if s.reverse == nil {
		s.reverse = make(map[string]string)
	}
	s.lock = fl
	s.unlocked = true
	return nil
}

func (s *Store) initializeLocked(passphrase string) error {
	indexKey := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, indexKey); err != nil {
		return fmt.Errorf("generate index key: %w", err)
	}
	s.indexKey = indexKey
	s.entries = make(map[string]model.Token)
	s.reverse = make(map[string]string)
	return s.saveLocked(passphrase)
}

// saveLocked re-encrypts and atomically persists the current in-memory
// state under the given passphrase. Caller must hold s.mu.
func (s *Store) saveLocked(passphrase string) error {
	h, err := newHeader()
	if err != nil {
		return fmt.Errorf("build vault header: %w", err)
	}
	key := h.KDF.deriveKey(passphrase, h.Salt)

	p := payload{
		MasterIndexKey: s.indexKey,
		ReverseIndex:   s.reverse,
	}
	for _, t := range s.entries {
		p.Entries = append(p.Entries, storedToken{
			TokenString:    t.TokenString,
			PIIType:        string(t.PIIType),
			Plaintext:      t.Plaintext,
			SourceDocument: t.SourceDocument,
			CreatedAtUnix:  t.CreatedAt.Unix(),
		})
	}

	data, err := encodeFile(h, key, p)
	if err != nil {
		return fmt.Errorf("encode vault file: %w", err)
	}
	return atomicWriteFile(s.path, data)
}

// Lock zeroizes in-memory key material and entry plaintexts and
// releases the exclusive OS-level file lock.
func (s *Store) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unlocked {
		return
	}
	zero(s.indexKey)
	for k, t := range s.entries {
		t.Plaintext = ""
		s.entries[k] = t
	}
	s.entries = make(map[string]model.Token)
	s.reverse = make(map[string]string)
	s.indexKey = nil
	s.unlocked = false
	if s.lock != nil {
		s.lock.release() //nolint:errcheck
		s.lock = nil
	}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Unlocked reports whether the vault currently holds decrypted state.
func (s *Store) Unlocked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unlocked
}

// Path returns the vault's on-disk location.
func (s *Store) Path() string { return s.path }

func (s *Store) requireUnlockedLocked() error {
	if !s.unlocked {
		return apperr.New(apperr.VaultLocked, "vault is locked")
	}
	return nil
}

// Mint returns the existing token for (piiType, plaintext) if already
// indexed, or allocates, persists, and returns a new one. Minting is a
// pure function of (piiType, normalize(plaintext)) within this vault.
func (s *Store) Mint(piiType model.PIIType, plaintext, sourceDocument, passphrase string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlockedLocked(); err != nil {
		return "", err
	}

	normalized := normalizePlaintext(piiType, plaintext)
	hash := plaintextHash(piiType, normalized)
	if existing, ok := s.reverse[hash]; ok {
		return existing, nil
	}

	var tokenString string
	for attempt := 0; attempt <= maxCollisionRetries; attempt++ {
		hexDigest, err := deriveTokenHex(s.indexKey, piiType, normalized, attempt)
		if err != nil {
			return "", fmt.Errorf("derive token digest: %w", err)
		}
		candidate := formatToken(s.prefix, piiType, hexDigest)
		if _, taken := s.entries[candidate]; !taken {
			tokenString = candidate
			break
		}
	}
	if tokenString == "" {
		return "", apperr.New(apperr.Internal, "token digest collisions exhausted retry budget")
	}

	s.entries[tokenString] = model.Token{
		TokenString:    tokenString,
		PIIType:        piiType,
		Plaintext:      normalized,
		SourceDocument: sourceDocument,
		CreatedAt:      time.Now().UTC(),
	}
	s.reverse[hash] = tokenString

	if err := s.saveLocked(passphrase); err != nil {
		delete(s.entries, tokenString)
		delete(s.reverse, hash)
		return "", fmt.Errorf("persist minted token: %w", err)
	}
	return tokenString, nil
}

// Resolve returns the plaintext for a token string, if present.
func (s *Store) Resolve(token string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.unlocked {
		return "", false
	}
	t, ok := s.entries[token]
	if !ok {
		return "", false
	}
	return t.Plaintext, true
}

// ResolveAll finds every token-shaped substring in text, substitutes
// resolvable ones with their plaintext, and reports unresolved tokens
// (present in the text but absent from the vault) without altering them.
func (s *Store) ResolveAll(text string) (result string, count int, unresolved []string, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.requireUnlockedLocked(); err != nil {
		return "", 0, nil, err
	}

	matches := s.tokenRE.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text, 0, nil, nil
	}

	var b []byte
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		tokenStr := text[start:end]
		b = append(b, text[last:start]...)
		if t, ok := s.entries[tokenStr]; ok {
			b = append(b, t.Plaintext...)
			count++
		} else {
			b = append(b, tokenStr...)
			unresolved = append(unresolved, tokenStr)
		}
		last = end
	}
	b = append(b, text[last:]...)
	return string(b), count, unresolved, nil
}

// Stats returns the count of minted tokens per PII type.
func (s *Store) Stats() map[model.PIIType]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.PIIType]int)
	for _, t := range s.entries {
		out[t.PIIType]++
	}
	return out
}

// Tokens returns all tokens minted for the given source document,
// or every token if sourceDocument is empty.
func (s *Store) Tokens(sourceDocument string) []model.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Token, 0, len(s.entries))
	for _, t := range s.entries {
		if sourceDocument == "" || t.SourceDocument == sourceDocument {
			out = append(out, t)
		}
	}
	return out
}

// ExportManifest returns the plaintext-bearing token manifest for
// docID, sorted by token string for a stable order. Ported from the
// source's save_manifest, which writes this same (token, pii_type,
// plaintext) tuple list as plaintext JSON alongside the anonymized
// output so detokenization can happen without the vault present.
// Callers are responsible for whatever they do with the plaintext
// values this returns; the vault itself never writes them to disk.
func (s *Store) ExportManifest(docID string) ([]model.ManifestEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.requireUnlockedLocked(); err != nil {
		return nil, err
	}
	out := make([]model.ManifestEntry, 0, len(s.entries))
	for _, t := range s.entries {
		if t.SourceDocument != docID {
			continue
		}
		out = append(out, model.ManifestEntry{
			Token:     t.TokenString,
			PIIType:   t.PIIType,
			Plaintext: t.Plaintext,
			CreatedAt: t.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

// Export re-encrypts the current entries under a (possibly different)
// passphrase-derived key and returns a self-contained blob that Import
// can later merge into another vault.
func (s *Store) Export(exportPassphrase string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.requireUnlockedLocked(); err != nil {
		return nil, err
	}

	h, err := newHeader()
	if err != nil {
		return nil, fmt.Errorf("build export header: %w", err)
	}
	key := h.KDF.deriveKey(exportPassphrase, h.Salt)

	p := payload{MasterIndexKey: s.indexKey, ReverseIndex: s.reverse}
	for _, t := range s.entries {
		p.Entries = append(p.Entries, storedToken{
			TokenString:    t.TokenString,
			PIIType:        string(t.PIIType),
			Plaintext:      t.Plaintext,
			SourceDocument: t.SourceDocument,
			CreatedAtUnix:  t.CreatedAt.Unix(),
		})
	}
	return encodeFile(h, key, p)
}

// Import decodes an exported blob and merges its entries into this
// vault, persisting under the vault's own unlock passphrase. On a
// token collision where the existing and incoming plaintexts differ,
// the import fails with ConflictError and no partial state is written.
func (s *Store) Import(blob []byte, exportPassphrase, vaultPassphrase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlockedLocked(); err != nil {
		return err
	}

	_, p, err := decodeFile(blob, exportPassphrase)
	if err != nil {
		return err
	}

	merged := make(map[string]model.Token, len(s.entries))
	for k, v := range s.entries {
		merged[k] = v
	}
	mergedReverse := make(map[string]string, len(s.reverse))
	for k, v := range s.reverse {
		mergedReverse[k] = v
	}

	for _, st := range p.Entries {
		incoming := model.Token{
			TokenString:    st.TokenString,
			PIIType:        model.PIIType(st.PIIType),
			Plaintext:      st.Plaintext,
			SourceDocument: st.SourceDocument,
			CreatedAt:      time.Unix(st.CreatedAtUnix, 0).UTC(),
		}
		if existing, ok := merged[incoming.TokenString]; ok && existing.Plaintext != incoming.Plaintext {
			return apperr.New(apperr.ConflictError,
				fmt.Sprintf("token %s already maps to a different plaintext", incoming.TokenString))
		}
		merged[incoming.TokenString] = incoming
		mergedReverse[plaintextHash(incoming.PIIType, incoming.Plaintext)] = incoming.TokenString
	}

	prevEntries, prevReverse := s.entries, s.reverse
	s.entries, s.reverse = merged, mergedReverse
	if err := s.saveLocked(vaultPassphrase); err != nil {
		s.entries, s.reverse = prevEntries, prevReverse
		return fmt.Errorf("persist imported vault: %w", err)
	}
	return nil
}

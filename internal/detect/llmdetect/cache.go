package llmdetect

import (
	"encoding/json"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"

	"promptshield/internal/auditlog"
)

// SuggestionCache is the cross-session cache of LLM-suggested
// detections, keyed by the source span so recurring phrases get a
// cache hit on the very first request of a new session. Adapted
// verbatim in shape from the teacher's PersistentCache — same Get/
// Set/Close contract, repointed at cachedSuggestion values instead of
// a single replacement token string.
type SuggestionCache interface {
	Get(span string) (cachedSuggestion, bool)
	Set(span string, s cachedSuggestion)
	Close() error
}

type cachedSuggestion struct {
	PIIType    string  `json:"pii_type"`
	Confidence float64 `json:"confidence"`
}

// memoryCache is a thread-safe in-memory SuggestionCache, used in
// tests and when no cache path is configured.
type memoryCache struct {
	mu    sync.RWMutex
	store map[string]cachedSuggestion
}

func newMemoryCache() SuggestionCache {
	return &memoryCache{store: make(map[string]cachedSuggestion)}
}

func (c *memoryCache) Get(span string) (cachedSuggestion, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.store[span]
	return v, ok
}

func (c *memoryCache) Set(span string, s cachedSuggestion) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[span] = s
}

func (c *memoryCache) Close() error { return nil }

const bboltBucket = "llm_suggestions"

// bboltCache is a SuggestionCache backed by an embedded bbolt database,
// the teacher's own cache.go bboltCache adapted to store a small JSON
// value (pii_type + confidence) per key instead of a bare token string.
type bboltCache struct {
	db  *bolt.DB
	log *auditlog.Logger
}

func newBboltCache(path string, log *auditlog.Logger) (SuggestionCache, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bbolt suggestion cache %q: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bboltBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create bbolt bucket: %w", err)
	}
	log.Debug("cache_open", "llm suggestion cache opened", auditlog.Field{Key: "path", Value: path})
	return &bboltCache{db: db, log: log}, nil
}

func (c *bboltCache) Get(span string) (cachedSuggestion, bool) {
	var out cachedSuggestion
	found := false
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return nil
		}
		v := b.Get([]byte(span))
		if v == nil {
			return nil
		}
		found = decodeSuggestion(v, &out)
		return nil
	})
	if err != nil {
		c.log.Warn("cache_get_error", "bbolt get failed", auditlog.Field{Key: "error_type", Value: err.Error()})
		return cachedSuggestion{}, false
	}
	return out, found
}

func (c *bboltCache) Set(span string, s cachedSuggestion) {
	if err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return fmt.Errorf("bucket %q not found", bboltBucket)
		}
		return b.Put([]byte(span), encodeSuggestion(s))
	}); err != nil {
		c.log.Warn("cache_set_error", "bbolt set failed", auditlog.Field{Key: "error_type", Value: err.Error()})
	}
}

func (c *bboltCache) Close() error { return c.db.Close() }

func encodeSuggestion(s cachedSuggestion) []byte {
	b, _ := json.Marshal(s) //nolint:errcheck // cachedSuggestion always marshals
	return b
}

func decodeSuggestion(b []byte, out *cachedSuggestion) bool {
	return json.Unmarshal(b, out) == nil
}

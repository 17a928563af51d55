package registry

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"promptshield/internal/auditlog"
)

// ValidateCache is a read-through cache for Validate's healthy path,
// keyed by (subscriptionID, fingerprint). It never substitutes for the
// transactional Postgres writes in Activate/Deactivate/ClaimTrial.
type ValidateCache interface {
	Get(subscriptionID, fingerprint string) (active bool, ok bool)
	Set(subscriptionID, fingerprint string, active bool)
	Invalidate(subscriptionID, fingerprint string)
	Close() error
}

const validateBucket = "license_validate_cache"

// cacheEntry is the value stored per key, timestamped so stale rows
// (a machine deactivated through another process) expire on their own.
type cacheEntry struct {
	Active   bool      `json:"active"`
	CachedAt time.Time `json:"cached_at"`
}

// bboltValidateCache is adapted from the sidecar's llmdetect bboltCache:
// same bucket-per-key-value shape, same Get/Set/Close contract, repointed
// at machine registrations instead of LLM suggestions.
type bboltValidateCache struct {
	db  *bolt.DB
	ttl time.Duration
	log *auditlog.Logger
}

// NewBboltCache opens (creating if absent) a bbolt-backed validate
// cache at path, with entries considered stale after ttl.
func NewBboltCache(path string, ttl time.Duration, log *auditlog.Logger) (ValidateCache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open validate cache: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(validateBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create validate cache bucket: %w", err)
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &bboltValidateCache{db: db, ttl: ttl, log: log}, nil
}

func cacheKey(subscriptionID, fingerprint string) []byte {
	return []byte(subscriptionID + "\x00" + fingerprint)
}

func (c *bboltValidateCache) Get(subscriptionID, fingerprint string) (bool, bool) {
	var entry cacheEntry
	found := false
	err := c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(validateBucket)).Get(cacheKey(subscriptionID, fingerprint))
		if raw == nil {
			return nil
		}
		if jsonErr := json.Unmarshal(raw, &entry); jsonErr != nil {
			return nil
		}
		found = true
		return nil
	})
	if err != nil {
		c.log.Warnf("registry_cache", "validate cache read failed: %v", err)
		return false, false
	}
	if !found || time.Since(entry.CachedAt) > c.ttl {
		return false, false
	}
	return entry.Active, true
}

func (c *bboltValidateCache) Set(subscriptionID, fingerprint string, active bool) {
	entry := cacheEntry{Active: active, CachedAt: time.Now().UTC()}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(validateBucket)).Put(cacheKey(subscriptionID, fingerprint), raw)
	}); err != nil {
		c.log.Warnf("registry_cache", "validate cache write failed: %v", err)
	}
}

func (c *bboltValidateCache) Invalidate(subscriptionID, fingerprint string) {
	if err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(validateBucket)).Delete(cacheKey(subscriptionID, fingerprint))
	}); err != nil {
		c.log.Warnf("registry_cache", "validate cache invalidate failed: %v", err)
	}
}

func (c *bboltValidateCache) Close() error {
	return c.db.Close()
}

// Package cache provides a persistent transcript cache backed by badger.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// DefaultTTL is how long entries live when no TTL is configured.
const DefaultTTL = 7 * 24 * time.Hour

// keyPrefix namespaces transcript entries.
const keyPrefix = "stt:"

// Entry is a cached transcript.
type Entry struct {
	Text      string    `json:"text"`
	Language  string    `json:"language,omitempty"`
	Backend   string    `json:"backend"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

// Cache stores transcripts keyed by GenerateKey.
type Cache struct {
	db *badger.DB
}

// New opens (or creates) a cache at dir.
func New(dir string) (*Cache, error) {
	return open(badger.DefaultOptions(dir))
}

// NewInMemory creates a cache that lives only as long as the process.
func NewInMemory() (*Cache, error) {
	return open(badger.DefaultOptions("").WithInMemory(true))
}

func open(opts badger.Options) (*Cache, error) {
	db, err := badger.Open(opts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// GenerateKey derives a stable key from its parts.
func GenerateKey(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return keyPrefix + hex.EncodeToString(h[:])
}

// Get returns the entry for key, if present and not expired.
func (c *Cache) Get(key string) (*Entry, bool) {
	var entry Entry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return nil, false
	}
	return &entry, true
}

// Set stores entry under key for ttl (DefaultTTL if ttl <= 0).
func (c *Cache) Set(key string, entry *Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), data).WithTTL(ttl))
	})
}

// Delete removes key. Missing keys are not an error.
func (c *Cache) Delete(key string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

// Close flushes and closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

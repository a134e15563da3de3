package stt

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"log/slog"
	"math"
	"time"

	"go.aimuz.me/termtalk/cache"
)

// CachedBackend serves repeated recordings from a transcript cache.
type CachedBackend struct {
	Backend
	cache    *cache.Cache
	ttl      time.Duration
	settings string
}

// NewCachedBackend wraps b with c. Entries expire after ttl. settings are
// the backend options that change decoding, such as the initial prompt;
// results recorded under different settings never match.
func NewCachedBackend(b Backend, c *cache.Cache, ttl time.Duration, settings ...string) *CachedBackend {
	return &CachedBackend{Backend: b, cache: c, ttl: ttl, settings: cache.GenerateKey(settings...)}
}

// Transcribe returns a cached result for identical audio, otherwise calls
// the wrapped backend and stores its output.
func (c *CachedBackend) Transcribe(ctx context.Context, audio []float32, language string) (*TranscribeResult, error) {
	key := cache.GenerateKey(c.Name(), c.Model(), language, c.settings, hashSamples(audio))

	if entry, found := c.cache.Get(key); found {
		slog.Debug("transcript cache hit", "backend", c.Name())
		return &TranscribeResult{Text: entry.Text, Language: entry.Language, Cached: true}, nil
	}

	result, err := c.Backend.Transcribe(ctx, audio, language)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil || result.Text == "" {
		return result, nil
	}

	entry := &cache.Entry{
		Text:      result.Text,
		Language:  result.Language,
		Backend:   c.Name(),
		Model:     c.Model(),
		CreatedAt: time.Now(),
	}
	// Caching is best effort
	if err := c.cache.Set(key, entry, c.ttl); err != nil {
		slog.Warn("store transcript", "error", err)
	}
	return result, nil
}

func hashSamples(samples []float32) string {
	h := sha256.New()
	var b [4]byte
	for _, s := range samples {
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(s))
		h.Write(b[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Package mediacache keeps a bounded, most-recent-first map from spoken text
// to generated talking-head video URLs, persisted per persona.
package mediacache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// MaxSize is the number of entries kept per namespace.
	MaxSize = 30
	// KeyLimit caps the fingerprint length in characters.
	KeyLimit = 250

	entriesKey = "entries"
)

// Entry is one cached text → video mapping.
type Entry struct {
	Key       string `json:"key"`
	URL       string `json:"url"`
	Timestamp int64  `json:"timestamp"`
}

// Cache is safe for concurrent use.
type Cache struct {
	mu        sync.Mutex
	kv        KV
	namespace string
	entries   []Entry
	logger    zerolog.Logger
	now       func() time.Time
}

// Namespace returns the storage namespace for a persona.
func Namespace(personaID string) string {
	return "avatar-video:" + personaID
}

// Normalize derives the cache fingerprint: trimmed, lowercased, capped at KeyLimit.
func Normalize(text string) string {
	key := strings.ToLower(strings.TrimSpace(text))
	runes := []rune(key)
	if len(runes) > KeyLimit {
		key = string(runes[:KeyLimit])
	}
	return key
}

// New loads the persisted entry list for namespace. Missing or unreadable
// state starts an empty cache.
func New(ctx context.Context, kv KV, namespace string, logger zerolog.Logger) *Cache {
	c := &Cache{
		kv:        kv,
		namespace: namespace,
		logger:    logger.With().Str("namespace", namespace).Logger(),
		now:       time.Now,
	}
	c.entries = c.load(ctx)
	return c
}

func (c *Cache) load(ctx context.Context) []Entry {
	if c.kv == nil {
		return nil
	}

	raw, err := c.kv.Get(ctx, c.namespace, entriesKey)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Warn().Err(err).Msg("media cache load failed, starting empty")
		}
		return nil
	}

	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		c.logger.Warn().Err(err).Msg("media cache state malformed, starting empty")
		return nil
	}
	if len(entries) > MaxSize {
		entries = entries[:MaxSize]
	}
	return entries
}

// Get returns the URL cached for text.
func (c *Cache) Get(text string) (string, bool) {
	key := Normalize(text)

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range c.entries {
		if entry.Key == key {
			return entry.URL, true
		}
	}
	return "", false
}

// Put records url for text as the most recent entry, evicting the least
// recent one beyond MaxSize, and persists the list. Persistence failures
// never reach the caller: the persisted state and the in-memory list are
// reset and the cache keeps working.
func (c *Cache) Put(ctx context.Context, text, url string) {
	key := Normalize(text)

	c.mu.Lock()
	defer c.mu.Unlock()

	next := make([]Entry, 0, len(c.entries)+1)
	next = append(next, Entry{Key: key, URL: url, Timestamp: c.now().UnixMilli()})
	for _, entry := range c.entries {
		if entry.Key != key {
			next = append(next, entry)
		}
	}
	if len(next) > MaxSize {
		next = next[:MaxSize]
	}
	c.entries = next

	if err := c.persist(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("media cache persist failed, clearing")
		c.entries = nil
		if c.kv != nil {
			if err := c.kv.Delete(ctx, c.namespace, entriesKey); err != nil {
				c.logger.Debug().Err(err).Msg("media cache clear failed")
			}
		}
	}
}

func (c *Cache) persist(ctx context.Context) error {
	if c.kv == nil {
		return nil
	}
	raw, err := json.Marshal(c.entries)
	if err != nil {
		return err
	}
	return c.kv.Set(ctx, c.namespace, entriesKey, raw)
}

// Entries returns a copy of the current list, most recent first.
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...)
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

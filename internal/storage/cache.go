package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"connkeeper/internal/models"
)

// Logical keys used by the connectivity core.
const (
	KeyAppState   = "app-state"
	KeyLastOnline = "last-online"
)

type record struct {
	Payload    json.RawMessage `json:"payload"`
	LastSyncAt time.Time       `json:"last_sync_at"`
}

// Cache is the durable snapshot store. It never returns storage errors to
// callers: any failure is logged and reported as "no cache available".
// A nil *Cache behaves as an always-empty cache.
type Cache struct {
	backend Backend
	clock   clockwork.Clock
	logger  *slog.Logger

	mu sync.Mutex
	// keys whose last write failed; they read as absent until a write succeeds
	invalid map[string]struct{}
}

// NewCache wraps backend. Nil clock and logger fall back to defaults.
func NewCache(backend Backend, clock clockwork.Clock, logger *slog.Logger) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		backend: backend,
		clock:   clock,
		logger:  logger,
		invalid: make(map[string]struct{}),
	}
}

// Write stores payload under key, replacing any previous entry. It reports
// whether the entry was persisted.
func (c *Cache) Write(key string, payload any) bool {
	if c == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := c.encode(payload)
	if err == nil {
		err = c.put(key, data)
	}
	if err != nil {
		c.invalid[key] = struct{}{}
		c.logger.Warn("state cache write failed", "key", key, "error", err)
		if derr := c.safeDelete(key); derr != nil {
			c.logger.Debug("state cache cleanup failed", "key", key, "error", derr)
		}
		return false
	}
	delete(c.invalid, key)
	return true
}

// Read returns the entry stored under key, or nil when there is none or it
// cannot be read.
func (c *Cache) Read(key string) *models.CacheEntry {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	_, invalid := c.invalid[key]
	c.mu.Unlock()
	if invalid {
		return nil
	}

	raw, err := c.get(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		c.logger.Warn("state cache read failed", "key", key, "error", err)
		return nil
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		c.logger.Warn("state cache entry is corrupt", "key", key, "error", err)
		return nil
	}
	return &models.CacheEntry{
		Key:        key,
		Payload:    rec.Payload,
		LastSyncAt: rec.LastSyncAt,
	}
}

// SaveLastOnline records the last moment the client was known to be online.
func (c *Cache) SaveLastOnline(at time.Time) bool {
	return c.Write(KeyLastOnline, at.UTC())
}

// LastOnline returns the persisted last-online timestamp.
func (c *Cache) LastOnline() (time.Time, bool) {
	entry := c.Read(KeyLastOnline)
	if entry == nil {
		return time.Time{}, false
	}
	var at time.Time
	if err := entry.Decode(&at); err != nil || at.IsZero() {
		return time.Time{}, false
	}
	return at, true
}

// Close releases the backend.
func (c *Cache) Close() error {
	if c == nil || c.backend == nil {
		return nil
	}
	return c.backend.Close()
}

func (c *Cache) encode(payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	data, err := json.Marshal(record{Payload: body, LastSyncAt: c.clock.Now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}
	return data, nil
}

// put, get and safeDelete turn backend panics into errors.

func (c *Cache) put(key string, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend panic: %v", r)
		}
	}()
	return c.backend.Put(key, data)
}

func (c *Cache) get(key string) (raw []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend panic: %v", r)
		}
	}()
	return c.backend.Get(key)
}

func (c *Cache) safeDelete(key string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend panic: %v", r)
		}
	}()
	return c.backend.Delete(key)
}

package models

import (
	"encoding/json"
	"time"
)

// CacheEntry is a single rolling snapshot held by the state cache.
// Payload is opaque to the connectivity core.
type CacheEntry struct {
	Key        string          `json:"key"`
	Payload    json.RawMessage `json:"payload"`
	LastSyncAt time.Time       `json:"last_sync_at"`
}

// Decode unmarshals the payload into v.
func (e *CacheEntry) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

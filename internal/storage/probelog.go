package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"connkeeper/internal/models"
)

// ProbeLog persists probe results to disk.
type ProbeLog struct {
	mu      sync.RWMutex
	path    string
	history []models.ProbeResult
}

// NewProbeLog initialises storage and loads existing samples if present.
func NewProbeLog(path string) (*ProbeLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure data directory: %w", err)
	}
	store := &ProbeLog{path: path}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

// History returns a copy of the persisted probe results.
func (s *ProbeLog) History() []models.ProbeResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.history) == 0 {
		return nil
	}
	out := make([]models.ProbeResult, len(s.history))
	copy(out, s.history)
	return out
}

// Replace overwrites the stored history with the provided entries.
func (s *ProbeLog) Replace(entries []models.ProbeResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = make([]models.ProbeResult, len(entries))
	copy(s.history, entries)
	return s.persistLocked()
}

func (s *ProbeLog) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.history = nil
			return nil
		}
		return fmt.Errorf("read probe history: %w", err)
	}
	if len(data) == 0 {
		s.history = nil
		return nil
	}

	var entries []models.ProbeResult
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse probe history: %w", err)
	}
	s.history = entries
	return nil
}

func (s *ProbeLog) persistLocked() error {
	bytes, err := json.MarshalIndent(s.history, "", "  ")
	if err != nil {
		return fmt.Errorf("encode probe history: %w", err)
	}
	if err := writeAtomic(s.path, bytes); err != nil {
		return fmt.Errorf("persist probe history: %w", err)
	}
	return nil
}

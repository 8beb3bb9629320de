package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	// ErrNotFound indicates that no value is stored under the key.
	ErrNotFound = errors.New("key not found")

	// ErrClosed indicates that the backend has been closed.
	ErrClosed = errors.New("storage is closed")
)

// Backend is a durable key/value store for the state cache.
type Backend interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
	Close() error
}

// FileBackend keeps all keys in a single JSON document on disk.
type FileBackend struct {
	mu     sync.RWMutex
	path   string
	values map[string]json.RawMessage
	closed bool
}

// NewFileBackend creates the backend and loads existing values if present.
func NewFileBackend(path string) (*FileBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure data directory: %w", err)
	}

	b := &FileBackend{path: path}
	if err := b.load(); err != nil {
		return nil, err
	}
	return b, nil
}

// Get returns the raw value stored under key.
func (b *FileBackend) Get(key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrClosed
	}
	value, ok := b.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Put stores value under key and persists the document. The value must be valid JSON.
func (b *FileBackend) Put(key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("put %q: value is not valid JSON", key)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	prev, had := b.values[key]
	stored := make(json.RawMessage, len(value))
	copy(stored, value)
	b.values[key] = stored
	if err := b.persist(); err != nil {
		if had {
			b.values[key] = prev
		} else {
			delete(b.values, key)
		}
		return err
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (b *FileBackend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if _, ok := b.values[key]; !ok {
		return nil
	}
	delete(b.values, key)
	return b.persist()
}

// Close marks the backend closed. The document is already on disk.
func (b *FileBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *FileBackend) load() error {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			b.values = make(map[string]json.RawMessage)
			return nil
		}
		return fmt.Errorf("read state cache: %w", err)
	}

	if len(data) == 0 {
		b.values = make(map[string]json.RawMessage)
		return nil
	}

	values := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("parse state cache: %w", err)
	}
	b.values = values
	return nil
}

func (b *FileBackend) persist() error {
	bytes, err := json.MarshalIndent(b.values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state cache: %w", err)
	}
	return writeAtomic(b.path, bytes)
}

func writeAtomic(path string, data []byte) error {
	tmpPath := fmt.Sprintf("%s.%d.tmp", path, time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace file: %w", err)
	}
	return nil
}

package monitor

import (
	"sort"
	"sync"
	"time"

	"connkeeper/internal/models"
)

const defaultHistorySize = 2048

// HistorySource exposes recorded probe results.
type HistorySource interface {
	Latest() (models.ProbeResult, bool)
	History() []models.ProbeResult
	HistorySince(time.Time) []models.ProbeResult
}

// History is a bounded, time-ordered buffer of probe results.
type History struct {
	maxHistory int

	mu      sync.RWMutex
	history []models.ProbeResult
}

// NewHistory creates a buffer keeping at most size results.
func NewHistory(size int) *History {
	if size <= 0 {
		size = defaultHistorySize
	}
	return &History{maxHistory: size}
}

// Add appends a result, dropping the oldest once the buffer is full.
// Results older than the newest entry are inserted in order.
func (h *History) Add(res models.ProbeResult) {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.history)
	if n == 0 || !res.CheckedAt.Before(h.history[n-1].CheckedAt) {
		h.history = append(h.history, res)
	} else {
		idx := sort.Search(n, func(i int) bool {
			return h.history[i].CheckedAt.After(res.CheckedAt)
		})
		h.history = append(h.history, models.ProbeResult{})
		copy(h.history[idx+1:], h.history[idx:])
		h.history[idx] = res
	}
	if len(h.history) > h.maxHistory {
		h.history = h.history[len(h.history)-h.maxHistory:]
	}
}

// Latest returns the most recent result.
func (h *History) Latest() (models.ProbeResult, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.history) == 0 {
		return models.ProbeResult{}, false
	}
	return h.history[len(h.history)-1], true
}

// History returns a copy of all retained results.
func (h *History) History() []models.ProbeResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.history) == 0 {
		return nil
	}
	out := make([]models.ProbeResult, len(h.history))
	copy(out, h.history)
	return out
}

// HistorySince returns results whose timestamp is >= cutoff.
func (h *History) HistorySince(cutoff time.Time) []models.ProbeResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.history) == 0 {
		return nil
	}

	if cutoff.IsZero() {
		out := make([]models.ProbeResult, len(h.history))
		copy(out, h.history)
		return out
	}

	idx := sort.Search(len(h.history), func(i int) bool {
		return !h.history[i].CheckedAt.Before(cutoff)
	})
	if idx >= len(h.history) {
		return nil
	}
	out := make([]models.ProbeResult, len(h.history)-idx)
	copy(out, h.history[idx:])
	return out
}

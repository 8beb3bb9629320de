package monitor

import (
	"context"
	"log/slog"

	"connkeeper/internal/models"
	"connkeeper/internal/storage"
)

// Recorder wraps a Prober and keeps every result in a History. When a
// ProbeLog is attached, Run persists the history in the background.
type Recorder struct {
	prober  Prober
	history *History
	log     *storage.ProbeLog
	logger  *slog.Logger
	dirty   chan struct{}
}

// NewRecorder creates a recorder. A nil log keeps the history in memory only;
// otherwise the history is seeded from the log.
func NewRecorder(prober Prober, history *History, log *storage.ProbeLog, logger *slog.Logger) *Recorder {
	if history == nil {
		history = NewHistory(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if log != nil {
		for _, res := range log.History() {
			history.Add(res)
		}
	}
	return &Recorder{
		prober:  prober,
		history: history,
		log:     log,
		logger:  logger,
		dirty:   make(chan struct{}, 1),
	}
}

// Probe implements Prober.
func (r *Recorder) Probe(ctx context.Context) models.ProbeResult {
	res := r.prober.Probe(ctx)
	r.history.Add(res)

	if r.log != nil {
		select {
		case r.dirty <- struct{}{}:
		default:
		}
	}
	return res
}

// Run writes the history to the log whenever new results arrived, coalescing
// bursts into one write. It flushes once more when ctx is done.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.Flush()
			return nil
		case <-r.dirty:
			r.Flush()
		}
	}
}

// Flush persists the current history. Failures are logged.
func (r *Recorder) Flush() {
	if r.log == nil {
		return
	}
	if err := r.log.Replace(r.history.History()); err != nil {
		r.logger.Warn("persist probe history failed", "error", err)
	}
}

// History returns the recorded results.
func (r *Recorder) History() *History {
	return r.history
}

// Package connectivity owns the connectivity state machine: it tracks
// whether the backend is reachable, how long the client has been offline,
// drives bounded automatic reconnection and publishes every settled change
// to subscribers.
package connectivity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"connkeeper/internal/config"
	"connkeeper/internal/degradation"
	"connkeeper/internal/models"
	"connkeeper/internal/monitor"
	"connkeeper/internal/storage"
	"connkeeper/internal/timers"
)

// SignalSource is a platform connectivity signal (OS reachability, browser
// online/offline events forwarded by a client, ...).
type SignalSource interface {
	Online() bool
	Watch(fn func(online bool)) (cancel func())
}

// Observer receives hooks for instrumentation. Calls may happen while the
// manager holds its lock and must not call back into the manager.
type Observer interface {
	ProbeFinished(res models.ProbeResult, took time.Duration)
	StatusChanged(from, to models.NetworkStatus)
	SnapshotUpdated(view View)
}

type nopObserver struct{}

func (nopObserver) ProbeFinished(models.ProbeResult, time.Duration) {}
func (nopObserver) StatusChanged(models.NetworkStatus, models.NetworkStatus) {}
func (nopObserver) SnapshotUpdated(View) {}

// View is the read model shared with collaborators.
type View struct {
	models.ConnectivitySnapshot
	degradation.Result
}

// Options carries the collaborators of a Manager. Prober is required.
type Options struct {
	Prober   monitor.Prober
	Signals  SignalSource
	Cache    *storage.Cache
	Clock    clockwork.Clock
	Logger   *slog.Logger
	Observer Observer
}

// Manager is the connectivity state machine. All state is guarded by mu;
// probes run outside the lock and their results are applied only when the
// epoch they started in is still current.
type Manager struct {
	cfg            config.Connectivity
	thresholds     degradation.Thresholds
	probeTimeout   time.Duration
	healthInterval time.Duration

	prober   monitor.Prober
	signals  SignalSource
	cache    *storage.Cache
	clock    clockwork.Clock
	logger   *slog.Logger
	observer Observer

	timers    *timers.Group
	offline   offlineClock
	scheduler scheduler
	bus       *bus

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	snap     models.ConnectivitySnapshot
	level    degradation.Level
	epoch    uint64
	inflight int
	started  bool
	disposed bool
	unwatch  func()
}

// New validates cfg and builds a manager. The initial snapshot is derived
// from the signal source: online when it reports connectivity, otherwise
// offline with offline minutes recomputed from the persisted last-online time.
// Timers do not run until Start.
func New(cfg config.Config, opts Options) (*Manager, error) {
	if err := cfg.Connectivity.Validate(); err != nil {
		return nil, fmt.Errorf("connectivity config: %w", err)
	}
	if opts.Prober == nil {
		return nil, errors.New("connectivity: prober is required")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}

	probeTimeout := cfg.Probe.Timeout()
	if probeTimeout <= 0 {
		probeTimeout = config.DefaultConfig().Probe.Timeout()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg: cfg.Connectivity,
		thresholds: degradation.Thresholds{
			GracePeriodHours:        cfg.Connectivity.GracePeriodHours,
			PartialThresholdMinutes: cfg.Connectivity.PartialDegradationThresholdMinutes,
		},
		probeTimeout:   probeTimeout,
		healthInterval: cfg.Probe.HealthCheckInterval(),
		prober:         opts.Prober,
		signals:        opts.Signals,
		cache:          opts.Cache,
		clock:          opts.Clock,
		logger:         opts.Logger.With("component", "connectivity"),
		observer:       opts.Observer,
		timers:         timers.New(opts.Clock),
		ctx:            ctx,
		cancel:         cancel,
	}
	m.bus = newBus(m.logger)
	m.offline = offlineClock{timers: m.timers, tick: m.offlineTick}
	m.scheduler = scheduler{timers: m.timers, interval: cfg.Connectivity.ReconnectInterval(), tick: m.reconnectTick}

	m.snap = m.initialSnapshot()
	m.level = m.viewLocked().Level
	return m, nil
}

func (m *Manager) initialSnapshot() models.ConnectivitySnapshot {
	now := m.clock.Now().UTC()
	if m.signals == nil || m.signals.Online() {
		return models.ConnectivitySnapshot{Status: models.StatusOnline, LastOnlineAt: &now}
	}

	snap := models.ConnectivitySnapshot{
		Status:        models.StatusOffline,
		OfflineReason: models.ReasonNoNetwork,
	}
	if last, ok := m.cache.LastOnline(); ok {
		last = last.UTC()
		snap.LastOnlineAt = &last
		if elapsed := now.Sub(last); elapsed > 0 {
			snap.OfflineMinutes = int(elapsed / time.Minute)
		}
	}
	return snap
}

// Start arms the timers for the initial state and subscribes to the signal
// source. It is a no-op after the first call or after Dispose.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started || m.disposed {
		m.mu.Unlock()
		return
	}
	m.started = true

	if m.snap.Status.IsOnline() {
		m.cache.SaveLastOnline(*m.snap.LastOnlineAt)
		m.startHealthCheckLocked()
	} else {
		m.offline.start()
		m.scheduler.start()
	}
	m.logger.Info("connectivity manager started",
		"status", m.snap.Status, "offline_minutes", m.snap.OfflineMinutes)
	m.publishLocked(EventStatusChanged)
	m.observer.SnapshotUpdated(m.viewLocked())
	m.mu.Unlock()

	if m.signals == nil {
		return
	}
	unwatch := m.signals.Watch(m.HandleSignal)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		unwatch()
		return
	}
	m.unwatch = unwatch

	// an edge between New and Watch was never delivered
	if online := m.signals.Online(); online != m.snap.Status.IsOnline() {
		m.logger.Debug("platform signal changed before watch", "online", online)
		if online {
			m.goOnlineLocked()
		} else {
			m.goOfflineLocked(models.ReasonNoNetwork)
		}
	}
}

// Dispose stops every timer, drops the signal subscription and closes all
// subscriber channels. Results of probes still in flight are discarded.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	m.timers.StopAll()
	m.cancel()
	if m.started && m.snap.Status.IsOnline() {
		m.cache.SaveLastOnline(m.clock.Now())
	}
	unwatch := m.unwatch
	m.unwatch = nil
	m.bus.close()
	m.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	m.logger.Info("connectivity manager disposed")
}

// Subscribe returns a channel receiving every event published after the
// call. Slow subscribers lose events rather than block the manager. The
// channel is closed by cancel or by Dispose.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	return m.bus.subscribe(buffer)
}

// Snapshot returns the current state.
func (m *Manager) Snapshot() models.ConnectivitySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Status returns the current network status.
func (m *Manager) Status() models.NetworkStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.Status
}

// View returns the snapshot together with the derived degradation.
func (m *Manager) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

// Degradation evaluates the degradation policy for the current state.
func (m *Manager) Degradation() degradation.Result {
	return m.View().Result
}

// Features returns the current feature availability.
func (m *Manager) Features() degradation.Features {
	return m.Degradation().Features
}

// IsGracePeriodExpired reports whether the offline grace period is used up.
func (m *Manager) IsGracePeriodExpired() bool {
	return m.Degradation().GraceExpired
}

// GracePeriodRemainingHours returns the hours left before full degradation.
func (m *Manager) GracePeriodRemainingHours() float64 {
	return m.Degradation().GraceRemainingHours
}

// SaveState stores the rolling application snapshot.
func (m *Manager) SaveState(payload any) bool {
	return m.cache.Write(storage.KeyAppState, payload)
}

// RestoreState returns the rolling application snapshot, or nil.
func (m *Manager) RestoreState() *models.CacheEntry {
	return m.cache.Read(storage.KeyAppState)
}

// HandleSignal applies a platform connectivity signal. An online signal
// settles Online immediately without probing; an offline signal settles
// Offline and discards any probe in flight.
func (m *Manager) HandleSignal(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed || !m.started {
		return
	}
	m.logger.Debug("platform signal", "online", online, "status", m.snap.Status)
	if online {
		m.goOnlineLocked()
		return
	}
	m.goOfflineLocked(models.ReasonNoNetwork)
}

// ManualReconnect resets the attempt counter, clears a paused scheduler and
// performs one probe right away. It blocks until the probe finishes and
// returns the settled snapshot. The probe does not count as an attempt.
func (m *Manager) ManualReconnect(ctx context.Context) models.ConnectivitySnapshot {
	m.mu.Lock()
	if m.disposed {
		defer m.mu.Unlock()
		return m.snapshotLocked()
	}
	wasOnline := m.snap.Status.IsOnline()
	m.snap.ReconnectAttempts = 0
	m.snap.ReconnectPaused = false
	if !wasOnline {
		m.setStatusLocked(models.StatusReconnecting)
		// a scheduler probe already in flight loses to this one
		m.epoch++
	}
	m.inflight++
	epoch := m.epoch
	m.observer.SnapshotUpdated(m.viewLocked())
	m.mu.Unlock()

	m.logger.Info("manual reconnect requested", "was_online", wasOnline)
	res := m.runProbe(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight--

	if m.disposed || epoch != m.epoch {
		m.logger.Debug("discarding stale manual probe result", "ok", res.OK)
		return m.snapshotLocked()
	}
	if err := ctx.Err(); err != nil {
		// the caller gave up; the result says nothing about the backend
		m.logger.Debug("manual reconnect abandoned", "error", err, "was_online", wasOnline)
		if !wasOnline {
			m.goOfflineLocked(m.snap.OfflineReason)
		}
		return m.snapshotLocked()
	}
	switch {
	case res.OK && wasOnline:
		m.markAliveLocked()
	case res.OK:
		m.goOnlineLocked()
	case wasOnline:
		m.goOfflineLocked(res.Reason)
	default:
		m.snap.OfflineReason = reasonOrDefault(res.Reason)
		m.setStatusLocked(models.StatusOffline)
		m.scheduler.restart()
	}
	return m.snapshotLocked()
}

func (m *Manager) offlineTick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed || m.snap.Status.IsOnline() {
		return
	}
	m.snap.OfflineMinutes++
	m.publishLocked(EventOfflineMinutes)
	m.settleLocked()
}

func (m *Manager) reconnectTick() {
	m.mu.Lock()
	if m.disposed || m.snap.Status != models.StatusOffline || m.inflight > 0 {
		m.mu.Unlock()
		return
	}
	if m.snap.ReconnectAttempts >= m.cfg.MaxReconnectAttempts {
		m.pauseLocked()
		m.mu.Unlock()
		return
	}
	m.snap.ReconnectAttempts++
	m.setStatusLocked(models.StatusReconnecting)
	m.inflight++
	epoch := m.epoch
	attempt := m.snap.ReconnectAttempts
	m.mu.Unlock()

	res := m.runProbe(m.ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight--

	if m.disposed || epoch != m.epoch {
		m.logger.Debug("discarding stale reconnect probe result", "attempt", attempt, "ok", res.OK)
		return
	}
	if res.OK {
		m.logger.Info("reconnect succeeded", "attempt", attempt)
		m.goOnlineLocked()
		return
	}

	m.logger.Debug("reconnect attempt failed", "attempt", attempt, "reason", res.Reason, "error", res.Error)
	m.snap.OfflineReason = reasonOrDefault(res.Reason)
	m.setStatusLocked(models.StatusOffline)
	if m.snap.ReconnectAttempts >= m.cfg.MaxReconnectAttempts {
		m.pauseLocked()
	}
}

func (m *Manager) healthTick() {
	m.mu.Lock()
	if m.disposed || !m.snap.Status.IsOnline() || m.inflight > 0 {
		m.mu.Unlock()
		return
	}
	m.inflight++
	epoch := m.epoch
	m.mu.Unlock()

	res := m.runProbe(m.ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight--

	if m.disposed || epoch != m.epoch {
		return
	}
	if res.OK {
		m.markAliveLocked()
		return
	}
	m.logger.Warn("health check failed", "reason", res.Reason, "error", res.Error)
	m.goOfflineLocked(res.Reason)
}

func (m *Manager) runProbe(ctx context.Context) (res models.ProbeResult) {
	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()
	stop := context.AfterFunc(m.ctx, cancel)
	defer stop()

	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = models.ProbeResult{
				Reason:    models.ReasonNoNetwork,
				Error:     fmt.Sprintf("probe panic: %v", r),
				CheckedAt: m.clock.Now().UTC(),
			}
		}
		m.observer.ProbeFinished(res, time.Since(started))
	}()
	return m.prober.Probe(ctx)
}

// goOnlineLocked settles Online: timers for the offline branch stop,
// counters reset, last-online is persisted and the lifecycle events fire.
func (m *Manager) goOnlineLocked() {
	if m.snap.Status.IsOnline() {
		return
	}
	m.scheduler.stop()
	m.offline.stop()

	now := m.clock.Now().UTC()
	prev := m.snap.Status
	m.snap = models.ConnectivitySnapshot{
		Status:       models.StatusOnline,
		LastOnlineAt: &now,
	}
	m.cache.SaveLastOnline(now)
	m.startHealthCheckLocked()

	m.epoch++
	m.logger.Info("connection restored", "from", prev)
	m.observer.StatusChanged(prev, models.StatusOnline)
	m.publishLocked(EventStatusChanged)
	m.settleLocked()

	m.publishLocked(EventNetworkRestored)
	ev := m.newEventLocked(EventSyncOfflineData)
	if entry := m.cache.Read(storage.KeyAppState); entry != nil {
		at := entry.LastSyncAt
		ev.LastSyncAt = &at
	}
	m.bus.publish(ev)
}

// goOfflineLocked settles Offline. Leaving Online starts the offline clock
// and the reconnect scheduler; leaving Reconnecting discards the probe in
// flight.
func (m *Manager) goOfflineLocked(reason models.OfflineReason) {
	reason = reasonOrDefault(reason)
	switch m.snap.Status {
	case models.StatusOffline:
		m.snap.OfflineReason = reason
		return
	case models.StatusOnline:
		m.timers.Stop(concernHealthCheck)
		m.snap.OfflineMinutes = 0
		m.snap.ReconnectAttempts = 0
		m.snap.ReconnectPaused = false
		m.snap.OfflineReason = reason
		m.setStatusLocked(models.StatusOffline)
		m.offline.start()
		m.scheduler.start()
		m.logger.Warn("connection lost", "reason", reason)
	case models.StatusReconnecting:
		m.snap.OfflineReason = reason
		m.setStatusLocked(models.StatusOffline)
		if !m.snap.ReconnectPaused {
			m.scheduler.start()
		}
	}
}

func (m *Manager) markAliveLocked() {
	now := m.clock.Now().UTC()
	m.snap.LastOnlineAt = &now
	m.cache.SaveLastOnline(now)
	m.settleLocked()
}

func (m *Manager) pauseLocked() {
	m.scheduler.stop()
	if m.snap.ReconnectPaused {
		return
	}
	m.snap.ReconnectPaused = true
	m.logger.Warn("reconnect attempts exhausted, scheduler idle", "attempts", m.snap.ReconnectAttempts)
	m.publishLocked(EventSchedulerIdle)
	m.settleLocked()
}

func (m *Manager) startHealthCheckLocked() {
	m.timers.Every(concernHealthCheck, m.healthInterval, m.healthTick)
}

// setStatusLocked changes the status, bumps the epoch and publishes the
// change.
func (m *Manager) setStatusLocked(status models.NetworkStatus) {
	prev := m.snap.Status
	if prev == status {
		return
	}
	m.snap.Status = status
	m.epoch++
	m.observer.StatusChanged(prev, status)
	m.publishLocked(EventStatusChanged)
	m.settleLocked()
}

// settleLocked publishes a degradation change if the level moved and
// reports the snapshot to the observer.
func (m *Manager) settleLocked() {
	view := m.viewLocked()
	if view.Level != m.level {
		m.logger.Info("degradation level changed", "from", m.level, "to", view.Level)
		m.level = view.Level
		m.publishLocked(EventDegradationChanged)
	}
	m.observer.SnapshotUpdated(view)
}

func (m *Manager) publishLocked(t EventType) {
	m.bus.publish(m.newEventLocked(t))
}

func (m *Manager) newEventLocked(t EventType) Event {
	return Event{
		ID:       uuid.NewString(),
		Type:     t,
		At:       m.clock.Now().UTC(),
		Snapshot: m.snapshotLocked(),
		Level:    m.viewLocked().Level,
	}
}

func (m *Manager) snapshotLocked() models.ConnectivitySnapshot {
	snap := m.snap
	if snap.LastOnlineAt != nil {
		at := *snap.LastOnlineAt
		snap.LastOnlineAt = &at
	}
	return snap
}

func (m *Manager) viewLocked() View {
	return View{
		ConnectivitySnapshot: m.snapshotLocked(),
		Result:               degradation.Evaluate(m.snap.Status, m.snap.OfflineMinutes, m.thresholds),
	}
}

func reasonOrDefault(reason models.OfflineReason) models.OfflineReason {
	if reason == models.ReasonNone {
		return models.ReasonServerUnreachable
	}
	return reason
}

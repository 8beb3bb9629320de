package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"connkeeper/internal/connectivity"
	"connkeeper/internal/history"
	"connkeeper/internal/metrics"
	"connkeeper/internal/models"
	"connkeeper/internal/monitor"
	"connkeeper/internal/storage"
)

const (
	defaultHistoryLimit = 200
	timelineWindow      = 24 * time.Hour
	maxCacheBody        = 1 << 20
)

// Options wires the collaborators exposed over HTTP. Manager is required.
type Options struct {
	Manager            *connectivity.Manager
	Probes             monitor.HistorySource
	Cache              *storage.Cache
	Gatherer           prometheus.Gatherer
	ReconnectPerMinute int
	Logger             *slog.Logger
}

// Server wraps HTTP serving of the connectivity API.
type Server struct {
	httpServer   *http.Server
	manager      *connectivity.Manager
	probes       monitor.HistorySource
	cache        *storage.Cache
	gatherer     prometheus.Gatherer
	limiter      *rate.Limiter
	logger       *slog.Logger
	historyLimit int
}

// New creates a configured HTTP server.
func New(addr string, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Probes == nil {
		opts.Probes = monitor.NewHistory(0)
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	limit := rate.Inf
	burst := 1
	if opts.ReconnectPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(opts.ReconnectPerMinute))
		burst = opts.ReconnectPerMinute
	}

	mux := http.NewServeMux()
	s := &Server{
		httpServer:   &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		manager:      opts.Manager,
		probes:       opts.Probes,
		cache:        opts.Cache,
		gatherer:     opts.Gatherer,
		limiter:      rate.NewLimiter(limit, burst),
		logger:       opts.Logger.With("component", "server"),
		historyLimit: defaultHistoryLimit,
	}
	s.registerRoutes(mux)
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run blocks and serves HTTP traffic.
func (s *Server) Run() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/connectivity", s.handleConnectivity)
	mux.HandleFunc("POST /api/connectivity/reconnect", s.handleReconnect)
	mux.HandleFunc("POST /api/connectivity/signal", s.handleSignal)
	mux.HandleFunc("GET /api/connectivity/ws", s.handleStream)
	mux.HandleFunc("GET /api/probes", s.handleProbes)
	mux.HandleFunc("GET /api/uptime", s.handleUptime)
	mux.HandleFunc("GET /api/timeline", s.handleTimeline)
	mux.HandleFunc("GET /api/cache/{key}", s.handleCacheGet)
	mux.HandleFunc("PUT /api/cache/{key}", s.handleCachePut)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

func (s *Server) handleConnectivity(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.View())
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "too many reconnect requests")
		return
	}
	s.manager.ManualReconnect(r.Context())
	writeJSON(w, http.StatusOK, s.manager.View())
}

type signalRequest struct {
	Online *bool `json:"online"`
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	var req signalRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxCacheBody)).Decode(&req); err != nil || req.Online == nil {
		writeError(w, http.StatusBadRequest, `body must be {"online": true|false}`)
		return
	}
	s.manager.HandleSignal(*req.Online)
	writeJSON(w, http.StatusOK, s.manager.View())
}

func (s *Server) handleProbes(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, s.historyLimit)
	entries := s.probes.History()
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	if entries == nil {
		entries = []models.ProbeResult{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleUptime(w http.ResponseWriter, _ *http.Request) {
	summary := metrics.ComputeAvailability(s.probes.History())
	if summary == nil {
		summary = []metrics.Availability{}
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	points := history.DefaultTimelinePoints
	if raw := r.URL.Query().Get("points"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 && value <= 1000 {
			points = value
		}
	}
	end := time.Now().UTC()
	start := end.Add(-timelineWindow)
	samples := s.probes.HistorySince(start.Add(-timelineWindow))
	writeJSON(w, http.StatusOK, history.BuildTimeline(r.URL.Query().Get("target"), samples, start, end, points))
}

func (s *Server) handleCacheGet(w http.ResponseWriter, r *http.Request) {
	entry := s.cache.Read(r.PathValue("key"))
	if entry == nil {
		writeError(w, http.StatusNotFound, "no cache entry")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleCachePut(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCacheBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body failed")
		return
	}
	if len(body) > maxCacheBody {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "payload must be JSON")
		return
	}
	key := r.PathValue("key")
	if !s.cache.Write(key, json.RawMessage(body)) {
		writeError(w, http.StatusServiceUnavailable, "cache unavailable")
		return
	}
	writeJSON(w, http.StatusOK, s.cache.Read(key))
}

func parseLimit(r *http.Request, fallback int) int {
	if fallback <= 0 {
		return fallback
	}
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if value > fallback {
		return fallback
	}
	return value
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

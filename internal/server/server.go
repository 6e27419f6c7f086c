// Package server serves a running program to browsers: the index page
// with a snapshot of the mounted tree, the live connection that keeps it
// in sync, and a small JSON API next to it.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/tally/internal/config"
	"github.com/conneroisu/tally/internal/errors"
	"github.com/conneroisu/tally/internal/logging"
	"github.com/conneroisu/tally/internal/monitoring"
	"github.com/conneroisu/tally/internal/program"
	"github.com/conneroisu/tally/internal/registry"
	"github.com/conneroisu/tally/internal/store"
	"github.com/conneroisu/tally/internal/version"
	"github.com/conneroisu/tally/internal/websocket"
)

// maxEntryBody bounds the size of one POST /api/entries body.
const maxEntryBody = 64 << 10

// alertInterval is how often the alert rules are evaluated while serving.
const alertInterval = 15 * time.Second

// Source is the running program the server mirrors.
type Source interface {
	websocket.Source
	Observe(o program.Observer)
}

// Options configures a Server.
type Options struct {
	Config config.ServerConfig
	Title  string
	Source Source
	// Entries receives entries posted to /api/entries.
	Entries *registry.IncomingPort
	// Totals publishes what /api/totals reports.
	Totals  *registry.OutgoingPort
	Store   *store.Store
	Logger  logging.Logger
	Metrics *monitoring.RuntimeMetrics
}

// Server serves one program over HTTP.
type Server struct {
	config  config.ServerConfig
	title   string
	source  Source
	entries *registry.IncomingPort
	totals  *registry.OutgoingPort
	totalID registry.SubscriptionID
	latest  atomic.Pointer[[]byte]

	ws        *websocket.Manager
	health    *monitoring.HealthMonitor
	alerts    *monitoring.AlertManager
	metrics   *monitoring.RuntimeMetrics
	collector *monitoring.MetricsCollector
	logger    logging.Logger
	handler   http.Handler

	serverMutex  sync.Mutex
	httpServer   *http.Server
	shutdownOnce sync.Once
}

// New creates a Server and starts mirroring opts.Source.
func New(opts Options) (*Server, error) {
	if opts.Source == nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "server needs a program to serve")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.WithComponent("server")
	if opts.Title == "" {
		opts.Title = "tally"
	}

	s := &Server{
		config:  opts.Config,
		title:   opts.Title,
		source:  opts.Source,
		entries: opts.Entries,
		totals:  opts.Totals,
		metrics: opts.Metrics,
		logger:  logger,
	}

	var newLimiter func() websocket.RateLimiter
	if rate := opts.Config.EventRate; rate > 0 {
		newLimiter = func() websocket.RateLimiter {
			return websocket.NewSlidingWindowLimiter(rate, time.Second)
		}
	}
	s.ws = websocket.NewManager(websocket.Options{
		Source:     opts.Source,
		Origins:    websocket.OriginList(opts.Config.AllowedOrigins),
		NewLimiter: newLimiter,
		Logger:     logger,
		Metrics:    opts.Metrics,
	})
	opts.Source.Observe(s.ws.Publish)

	if s.totals != nil {
		s.totalID = s.totals.Subscribe(s.recordTotals)
	}

	s.collector = opts.Metrics.Collector()
	if s.collector == nil {
		s.collector = monitoring.NewMetricsCollector("tally", "")
	}
	s.alerts = monitoring.NewAlertManager(s.collector, logger)
	for _, rule := range monitoring.DefaultAlertRules() {
		s.alerts.AddRule(rule)
	}
	s.alerts.AddChannel(monitoring.NewLogChannel(logger))

	s.health = monitoring.NewHealthMonitor(logger, version.Get().Short(), 2*time.Second)
	s.registerHealthChecks(opts.Store)

	s.handler = s.routes()
	return s, nil
}

func (s *Server) registerHealthChecks(st *store.Store) {
	s.health.RegisterCheck(monitoring.ErrorCheck("runtime", true, func(context.Context) error {
		_, _, err := s.source.SnapshotFrame()
		return err
	}))
	if st != nil {
		s.health.RegisterCheck(monitoring.ErrorCheck("store", true, func(context.Context) error {
			return st.Ping()
		}))
	}
	s.health.RegisterCheck(monitoring.NewHealthCheckFunc("websocket", false, func(context.Context) monitoring.HealthCheck {
		return monitoring.HealthCheck{
			Status:   monitoring.HealthStatusHealthy,
			Metadata: map[string]interface{}{"clients": s.ws.ConnectedClients()},
		}
	}))
	s.health.RegisterCheck(s.alerts.HealthCheck())
	s.health.RegisterCheck(monitoring.GoroutineHealthChecker(10000))
	s.health.RegisterCheck(monitoring.MemoryHealthChecker(1 << 30))
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/static/bridge.js", handleBridge)
	mux.HandleFunc("/ws", s.ws.HandleWebSocket)
	mux.Handle("/health", s.health.HTTPHandler())
	mux.Handle("/metrics", s.collector.Handler())
	mux.HandleFunc("/api/alerts", s.handleAlerts)
	mux.HandleFunc("/api/totals", s.handleTotals)

	var entries http.Handler = http.HandlerFunc(s.handleEntries)
	if rate := s.config.EventRate; rate > 0 {
		entries = NewRateLimiter(rate, rate).Middleware(entries)
	}
	mux.Handle("/api/entries", entries)

	security := DefaultSecurityConfig(s.config.AllowedOrigins)
	security.Logger = s.logger
	return s.logRequests(s.cors(SecurityMiddleware(security)(mux)))
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// ConnectedClients returns the number of browsers on the live connection.
func (s *Server) ConnectedClients() int { return s.ws.ConnectedClients() }

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return errors.NewNetworkError(errors.ErrCodeListen, "cannot listen on "+s.config.Address(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down within the
// configured timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.serverMutex.Lock()
	s.httpServer = srv
	s.serverMutex.Unlock()

	alertCtx, stopAlerts := context.WithCancel(ctx)
	defer stopAlerts()
	go s.alerts.Run(alertCtx, alertInterval)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		timeout := s.config.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn(shutdownCtx, err, "Shutdown did not complete")
		}
	}()

	s.logger.Info(ctx, "Serving", "address", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown disconnects browsers and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down server")
		if s.totals != nil {
			s.totals.Unsubscribe(s.totalID)
		}
		wsErr := s.ws.Shutdown(ctx)

		s.serverMutex.Lock()
		srv := s.httpServer
		s.serverMutex.Unlock()
		var httpErr error
		if srv != nil {
			httpErr = srv.Shutdown(ctx)
		}
		shutdownErr = stderrors.Join(wsErr, httpErr)
	})
	return shutdownErr
}

func (s *Server) recordTotals(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn(context.Background(), err, "cannot encode totals")
		return
	}
	s.latest.Store(&data)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.alerts.Evaluate(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"alerts": s.alerts.ActiveAlerts()})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, seq, err := s.source.SnapshotFrame()
	if err != nil {
		s.logger.Error(r.Context(), err, "Cannot snapshot program")
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	page := Page(PageData{Title: s.title, Body: body, Seq: seq, Live: true})
	if err := page.Render(r.Context(), w); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to write index page")
	}
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.entries == nil {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEntryBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "entry too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := s.entries.Send(body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleTotals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data := s.latest.Load()
	if data == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no totals published yet"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(*data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// cors answers preflight requests and marks responses to allowed origins.
func (s *Server) cors(next http.Handler) http.Handler {
	origins := websocket.OriginList(s.config.AllowedOrigins)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && origins.IsAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

var routeNames = map[string]bool{
	"/": true, "/static/bridge.js": true, "/ws": true, "/health": true,
	"/metrics": true, "/api/entries": true, "/api/totals": true, "/api/alerts": true,
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if !routeNames[route] {
			route = "other"
		}
		elapsed := time.Since(start)
		s.metrics.HTTPRequest(r.Method, route, rec.status, elapsed)
		s.logger.Debug(r.Context(), "Request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", elapsed)
	})
}

// statusRecorder remembers the status code and passes hijacking through
// for the live connection.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

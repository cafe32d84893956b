// Package api exposes the sync manager over a local HTTP API.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/clawinfra/evosync/internal/channels"
	"github.com/clawinfra/evosync/internal/cloudsync"
	"github.com/clawinfra/evosync/internal/queue"
	"github.com/clawinfra/evosync/internal/remote"
	"github.com/clawinfra/evosync/internal/scheduler"
	"github.com/clawinfra/evosync/internal/security"
)

// Version is reported by /api/status.
var Version = "0.1.0"

// SyncService is the part of the sync manager the API drives.
type SyncService interface {
	Enqueue(ctx context.Context, n queue.NewItem) (queue.Item, error)
	Sync(ctx context.Context) cloudsync.Result
	RetryFailedItems(ctx context.Context) (int, cloudsync.Result)
	ClearCompleted(ctx context.Context) (int, error)
	Items(ctx context.Context, status queue.Status) ([]queue.Item, error)
	Stats(ctx context.Context) (cloudsync.Stats, error)
	SetAutoSync(enabled bool)
	AutoSyncEnabled() bool
	SetInterval(d time.Duration) error
}

// RemoteAdmin is the remote queue administration surface.
type RemoteAdmin interface {
	Stats(ctx context.Context) (remote.Stats, error)
	RetryItem(ctx context.Context, id string) error
	RetryAllFailed(ctx context.Context) (int, error)
	ClearCompleted(ctx context.Context) (int, error)
	Queue(ctx context.Context, status queue.Status) ([]remote.Item, error)
}

// Server is the HTTP API server
type Server struct {
	port       int
	sync       SyncService
	remote     RemoteAdmin
	sched      *scheduler.Scheduler
	hub        *channels.WSHub
	jwtSecret  []byte
	logger     *slog.Logger
	httpServer *http.Server
	startedAt  time.Time
}

// Option configures optional collaborators.
type Option func(*Server)

// WithRemote enables the /api/remote endpoints.
func WithRemote(ra RemoteAdmin) Option {
	return func(s *Server) { s.remote = ra }
}

// WithScheduler enables the /api/scheduler endpoints.
func WithScheduler(sched *scheduler.Scheduler) Option {
	return func(s *Server) { s.sched = sched }
}

// WithEventHub enables the /api/events websocket.
func WithEventHub(hub *channels.WSHub) Option {
	return func(s *Server) { s.hub = hub }
}

// WithJWTSecret requires a bearer token on every endpoint but /api/health.
func WithJWTSecret(secret []byte) Option {
	return func(s *Server) { s.jwtSecret = secret }
}

// NewServer creates a new API server
func NewServer(port int, svc SyncService, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		port:      port,
		sync:      svc,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the routed, authenticated handler.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()

	api.HandleFunc("/api/status", s.handleStatus)
	api.HandleFunc("/api/queue", s.handleQueue)
	api.HandleFunc("/api/sync", s.handleSync)
	api.HandleFunc("/api/sync/retry", s.handleRetry)
	api.HandleFunc("/api/sync/clear", s.handleClear)
	api.HandleFunc("/api/sync/auto", s.handleAutoSync)
	api.HandleFunc("/api/sync/interval", s.handleInterval)

	s.registerRemoteRoutes(api)
	s.registerSchedulerRoutes(api)
	api.HandleFunc("/api/events", s.handleEvents)

	root := http.NewServeMux()
	root.HandleFunc("/api/health", s.handleHealth)
	root.Handle("/", security.AuthMiddleware(s.jwtSecret)(security.RequireScope()(api)))

	return s.corsMiddleware(s.loggingMiddleware(root))
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", s.port),
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: /api/events streams and /api/sync may wait on a drain.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("API server starting", "port", s.port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down API server")
		if s.hub != nil {
			s.hub.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Version       string          `json:"version"`
	UptimeSeconds float64         `json:"uptime_seconds"`
	Sync          cloudsync.Stats `json:"sync"`
}

// handleStatus returns local sync status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}

	st, err := s.sync.Stats(r.Context())
	if err != nil {
		s.logger.Error("read stats", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Version:       Version,
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		Sync:          st,
	})
}

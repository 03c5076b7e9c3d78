package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jpalmerr/reachboard/internal/model"
)

const (
	// shutdownTimeout bounds graceful shutdown of in-flight requests.
	shutdownTimeout = 5 * time.Second

	// defaultTitle is used when no custom title is configured.
	defaultTitle = "Network Monitoring Dashboard"
)

// Monitor is the read side of the scheduler the handlers need.
type Monitor interface {
	Snapshot() model.Snapshot
	Targets() []model.Target
	Interval() time.Duration
	SetInterval(d time.Duration) error
	Subscribe() <-chan model.Snapshot
	Unsubscribe(ch <-chan model.Snapshot)
}

// HistoryReader returns the retained observations of one target.
type HistoryReader interface {
	Get(name string) []model.Observation
	Capacity() int
}

// RecordLister scans the persisted records.
type RecordLister interface {
	ListAll(ctx context.Context) ([]model.Record, error)
}

// Config holds the presentation settings of a [Server].
type Config struct {
	// Port is the TCP port to listen on. Zero picks a free port.
	Port int

	// Title is shown on the dashboard. Defaults to "Network Monitoring Dashboard".
	Title string

	// Threshold separates Good from Low latency.
	Threshold time.Duration

	// MinInterval is the smallest cadence accepted by PUT /api/interval.
	MinInterval time.Duration

	// Assets holds assets/index.html and assets/view-data.html. May be nil.
	Assets fs.FS
}

// Server handles HTTP requests for the dashboard and its API.
type Server struct {
	monitor Monitor
	history HistoryReader
	records RecordLister
	cfg     Config
	logger  *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	addr       net.Addr
}

// NewServer creates a [Server]. The server is not listening until
// [Server.Start] is called; [Server.Handler] can be used directly in tests.
func NewServer(mon Monitor, hist HistoryReader, records RecordLister, cfg Config, logger *slog.Logger) *Server {
	if cfg.Title == "" {
		cfg.Title = defaultTitle
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = model.DefaultLatencyThreshold
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		monitor: mon,
		history: hist,
		records: records,
		cfg:     cfg,
		logger:  logger,
	}
}

// Handler returns the router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handlePage("assets/index.html"))
	r.Get("/view-data", s.handlePage("assets/view-data.html"))
	r.Get("/status", s.handleStatus)
	r.Get("/get-data", s.handleGetData)
	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/history/{name}", s.handleHistory)
		r.Get("/interval", s.handleGetInterval)
		r.Put("/interval", s.handleSetInterval)
		r.Get("/ws", s.handleWS)
	})

	return r
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start returns once the listener is bound. When ctx is cancelled the server
// shuts down gracefully with a 5-second timeout.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.cfg.Port, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// request contexts end with ctx so websocket streams exit on shutdown
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	s.mu.Lock()
	s.httpServer = srv
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.logger.Info("http server listening", "addr", ln.Addr().String())

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// requestLogger logs one line per request at Debug.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

package reachboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/jpalmerr/reachboard/dashboard"
	"github.com/jpalmerr/reachboard/internal/history"
	"github.com/jpalmerr/reachboard/internal/model"
	"github.com/jpalmerr/reachboard/internal/monitor"
	"github.com/jpalmerr/reachboard/internal/persist"
	"github.com/jpalmerr/reachboard/internal/probe"
	"github.com/jpalmerr/reachboard/internal/server"
)

const (
	// DefaultPort is the dashboard port.
	DefaultPort = 8050

	// DefaultProbeInterval is the time between two rounds.
	DefaultProbeInterval = 5 * time.Second

	// DefaultProbeTimeout bounds a single probe.
	DefaultProbeTimeout = probe.DefaultTimeout

	// DefaultProbeMode is the reachability check used unless
	// [WithProbeMode] says otherwise.
	DefaultProbeMode = string(probe.ModeICMP)

	// DefaultHistoryCapacity is the number of observations kept per target.
	DefaultHistoryCapacity = history.DefaultCapacity

	// DefaultMaxConcurrency caps the probes in flight.
	DefaultMaxConcurrency = 10

	// DefaultStoreURL keeps persisted records in memory.
	DefaultStoreURL = persist.DefaultURL

	// MinInterval is the smallest accepted probe interval.
	MinInterval = time.Second

	// drainTimeout bounds how long shutdown waits for pending writes.
	drainTimeout = 5 * time.Second
)

// ErrAlreadyStarted is returned by a second call to [Reachboard.Start].
var ErrAlreadyStarted = errors.New("reachboard already started")

// Reachboard probes a fixed set of targets on a cadence, keeps a bounded
// history per target, persists every observation and serves the dashboard.
//
// It is created with [New] and run with [Reachboard.Start]:
//
//	rb, err := reachboard.New(reachboard.WithTargets(targets...))
//	if err != nil {
//	    slog.Error("failed to create reachboard", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	if err := rb.Start(ctx); err != nil { // blocks until ctx is cancelled
//	    slog.Error("reachboard failed", "error", err)
//	}
type Reachboard struct {
	title     string
	registry  *Registry
	port      int
	storeURL  string
	threshold time.Duration
	logger    *slog.Logger

	prober    probe.Prober
	history   *history.Store
	scheduler *monitor.Scheduler
	sink      *writerSink

	mu      sync.Mutex
	started bool
	addr    net.Addr
}

// New creates a [Reachboard] with the given options.
//
// At least one target must be configured. Defaults:
//   - probe interval 5s, probe timeout 2s
//   - history capacity 100, latency threshold 100ms
//   - port 8050, max concurrency 10, store memory://
//
// Returns [ErrNoTargets], [ErrDuplicateTarget], or the error of an invalid
// option.
func New(opts ...Option) (*Reachboard, error) {
	cfg := &rbConfig{
		probeInterval:    DefaultProbeInterval,
		probeTimeout:     DefaultProbeTimeout,
		probeMode:        probe.ModeICMP,
		historyCapacity:  DefaultHistoryCapacity,
		latencyThreshold: DefaultLatencyThreshold,
		port:             DefaultPort,
		maxConcurrency:   DefaultMaxConcurrency,
		storeURL:         DefaultStoreURL,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	registry, err := NewRegistry(cfg.targets...)
	if err != nil {
		return nil, err
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	prober := cfg.prober
	if prober == nil {
		prober, err = probe.New(cfg.probeMode, cfg.probeTimeout, logger)
		if err != nil {
			return nil, err
		}
	}

	rb := &Reachboard{
		title:     cfg.title,
		registry:  registry,
		port:      cfg.port,
		storeURL:  cfg.storeURL,
		threshold: cfg.latencyThreshold,
		logger:    logger,
		prober:    prober,
		history:   history.New(cfg.historyCapacity),
		sink:      &writerSink{},
	}

	schedOpts := []monitor.Option{
		monitor.WithInterval(cfg.probeInterval),
		monitor.WithMaxConcurrency(cfg.maxConcurrency),
		monitor.WithProbeRate(cfg.probeRate),
		monitor.WithLogger(logger),
		monitor.WithSink(rb.sink),
	}
	for _, cb := range cfg.callbacks {
		schedOpts = append(schedOpts, monitor.WithCallback(monitor.SnapshotCallback(cb)))
	}
	rb.scheduler = monitor.NewScheduler(registry.modelTargets(), prober, rb.history, schedOpts...)

	return rb, nil
}

// Start opens the store, begins probing and serves the dashboard.
//
// Start blocks until ctx is cancelled and returns nil on graceful shutdown.
// It returns an error without probing if the store cannot be opened or the
// HTTP port cannot be bound. Start may only be called once.
func (rb *Reachboard) Start(ctx context.Context) error {
	rb.mu.Lock()
	if rb.started {
		rb.mu.Unlock()
		return ErrAlreadyStarted
	}
	rb.started = true
	rb.mu.Unlock()

	if ctx.Err() != nil {
		return nil
	}

	rb.logger.Info("reachboard starting", "target_count", rb.registry.Len())

	gw, err := persist.Open(ctx, rb.storeURL)
	if err != nil {
		return fmt.Errorf("failed to open store %s: %w", persist.Redact(rb.storeURL), err)
	}
	rb.logger.Info("store opened", "url", persist.Redact(rb.storeURL))

	// bind before probing so a taken port fails without touching the network
	httpServer := server.NewServer(rb.scheduler, rb.history, gw, server.Config{
		Port:        rb.port,
		Title:       rb.title,
		Threshold:   rb.threshold,
		MinInterval: MinInterval,
		Assets:      dashboard.Assets,
	}, rb.logger)
	if err := httpServer.Start(ctx); err != nil {
		if cerr := gw.Close(context.Background()); cerr != nil {
			rb.logger.Warn("store close failed", "error", cerr.Error())
		}
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	writer := persist.NewWriter(gw, rb.logger)
	writer.Start()
	rb.sink.set(writer)

	rb.scheduler.Start(ctx)
	rb.logger.Info("probing configured", "interval", rb.scheduler.Interval().String())

	rb.mu.Lock()
	rb.addr = httpServer.Addr()
	rb.mu.Unlock()
	rb.logger.Info("dashboard available", "url", fmt.Sprintf("http://localhost:%d", tcpPort(httpServer.Addr(), rb.port)))

	<-ctx.Done()

	rb.scheduler.Stop()
	rb.sink.set(nil)
	if closer, ok := rb.prober.(io.Closer); ok {
		_ = closer.Close()
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := writer.Stop(drainCtx); err != nil {
		rb.logger.Warn("pending observations dropped at shutdown", "error", err.Error())
	}
	stats := writer.Stats()
	rb.logger.Info("persistence stopped",
		"saved", stats.Saved,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)
	if err := gw.Close(drainCtx); err != nil {
		rb.logger.Warn("store close failed", "error", err.Error())
	}
	rb.logger.Info("reachboard stopped")
	return nil
}

// Snapshot returns the latest completed round. Before the first round it
// returns a snapshot with Round 0 and no observations. Snapshot never waits
// for a round in progress.
func (rb *Reachboard) Snapshot() Snapshot {
	return rb.scheduler.Snapshot()
}

// History returns the retained observations of the named target, oldest
// first. It returns [ErrUnknownTarget] for a name that is not registered.
func (rb *Reachboard) History(name string) ([]Observation, error) {
	if _, ok := rb.registry.Lookup(name); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, name)
	}
	return rb.history.Get(name), nil
}

// Classify derives the class of o with the configured latency threshold.
func (rb *Reachboard) Classify(o Observation) Class {
	return model.Classify(o, rb.threshold)
}

// SetInterval changes the probe cadence without restarting. The new value
// applies from the next tick.
func (rb *Reachboard) SetInterval(d time.Duration) error {
	if d < MinInterval {
		return fmt.Errorf("probe interval must be at least %s, got %s", MinInterval, d)
	}
	return rb.scheduler.SetInterval(d)
}

// Interval returns the current probe cadence.
func (rb *Reachboard) Interval() time.Duration {
	return rb.scheduler.Interval()
}

// Targets returns the monitored targets in registration order.
func (rb *Reachboard) Targets() []Target {
	return rb.registry.Targets()
}

// Port returns the configured HTTP port.
func (rb *Reachboard) Port() int {
	return rb.port
}

// Addr returns the bound dashboard address once Start is serving, or nil.
func (rb *Reachboard) Addr() net.Addr {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.addr
}

func tcpPort(addr net.Addr, fallback int) int {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.Port
	}
	return fallback
}

// writerSink forwards snapshots to the persistence writer while one is
// running and drops them otherwise.
type writerSink struct {
	mu sync.RWMutex
	w  *persist.Writer
}

func (s *writerSink) set(w *persist.Writer) {
	s.mu.Lock()
	s.w = w
	s.mu.Unlock()
}

func (s *writerSink) Enqueue(snap model.Snapshot) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.w == nil {
		return false
	}
	return s.w.Enqueue(snap)
}

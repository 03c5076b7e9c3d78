package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jpalmerr/reachboard/internal/history"
	"github.com/jpalmerr/reachboard/internal/model"
	"github.com/jpalmerr/reachboard/internal/probe"
)

const (
	// DefaultInterval is the time between the start of two rounds.
	DefaultInterval = 5 * time.Second

	// DefaultMaxConcurrency bounds the number of probes in flight.
	DefaultMaxConcurrency = 10

	// subscriberBuffer is the channel capacity given to each subscriber.
	subscriberBuffer = 16
)

// ErrInvalidInterval is returned by [Scheduler.SetInterval] for a
// non-positive duration.
var ErrInvalidInterval = errors.New("interval must be positive")

// Sink receives every published snapshot. It must not block.
//
// [persist.Writer] satisfies Sink.
type Sink interface {
	Enqueue(snap model.Snapshot) bool
}

// SnapshotCallback is invoked after every published round.
type SnapshotCallback func(snap model.Snapshot)

// Scheduler probes a fixed set of targets in rounds.
//
// All methods are safe for concurrent use.
type Scheduler struct {
	targets        []model.Target
	prober         probe.Prober
	history        *history.Store
	sink           Sink
	logger         *slog.Logger
	maxConcurrency int
	limiter        *rate.Limiter
	callbacks      []SnapshotCallback
	now            func() time.Time

	interval atomic.Int64
	resetCh  chan time.Duration

	current atomic.Pointer[model.Snapshot]
	round   uint64 // owned by the loop goroutine

	subMu       sync.RWMutex
	subscribers map[chan model.Snapshot]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	started   bool
	stopped   bool
	closeOnce sync.Once
}

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithInterval sets the initial round cadence. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval.Store(int64(d))
		}
	}
}

// WithMaxConcurrency bounds the probes in flight during a round.
// Non-positive values are ignored.
func WithMaxConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxConcurrency = n
		}
	}
}

// WithProbeRate paces probe starts to perSecond. Zero or less means unlimited.
func WithProbeRate(perSecond float64) Option {
	return func(s *Scheduler) {
		if perSecond > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		} else {
			s.limiter = nil
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSink sets where published snapshots are handed for persistence.
func WithSink(sink Sink) Option {
	return func(s *Scheduler) {
		s.sink = sink
	}
}

// WithCallback registers fn to run after each published round. Callbacks run
// on the loop goroutine; a panicking callback is recovered and logged.
func WithCallback(fn SnapshotCallback) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.callbacks = append(s.callbacks, fn)
		}
	}
}

// WithClock overrides the time source used to stamp snapshots.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScheduler creates a [Scheduler] for targets.
//
// The target list is copied. hist receives every observation; it must not be
// nil. Start the scheduler with [Scheduler.Start].
func NewScheduler(targets []model.Target, prober probe.Prober, hist *history.Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		targets:        append([]model.Target(nil), targets...),
		prober:         prober,
		history:        hist,
		logger:         slog.Default(),
		maxConcurrency: DefaultMaxConcurrency,
		now:            time.Now,
		resetCh:        make(chan time.Duration, 1),
		subscribers:    make(map[chan model.Snapshot]struct{}),
	}
	s.interval.Store(int64(DefaultInterval))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Targets returns a copy of the monitored targets in registration order.
func (s *Scheduler) Targets() []model.Target {
	return append([]model.Target(nil), s.targets...)
}

// Start runs the first round immediately in the background and then one
// round per interval until ctx is cancelled or [Scheduler.Stop] is called.
//
// Start is non-blocking and idempotent. It is a no-op after Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true

	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	loopCtx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.loop(loopCtx)
	}()
}

// Stop cancels the loop, waits for it to exit and closes every subscriber
// channel. An in-flight round is discarded. Stop is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		if s.cancel != nil {
			s.cancel()
		}
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.closeOnce.Do(func() {
		s.subMu.Lock()
		for ch := range s.subscribers {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.subMu.Unlock()
	})
}

func (s *Scheduler) loop(ctx context.Context) {
	s.runRound(ctx)

	ticker := time.NewTicker(s.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-s.resetCh:
			ticker.Reset(d)
			s.logger.Info("probe interval changed", "interval", d.String())
		case <-ticker.C:
			s.runRound(ctx)
		}
	}
}

// Snapshot returns a copy of the latest published round. Before the first
// round completes it returns an empty snapshot with Round 0.
//
// Snapshot never blocks on a running round.
func (s *Scheduler) Snapshot() model.Snapshot {
	p := s.current.Load()
	if p == nil {
		return model.EmptySnapshot()
	}
	return p.Clone()
}

// Interval returns the current round cadence.
func (s *Scheduler) Interval() time.Duration {
	return time.Duration(s.interval.Load())
}

// SetInterval changes the round cadence without restarting the loop. The new
// cadence applies from the next tick.
func (s *Scheduler) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, d)
	}
	s.interval.Store(int64(d))

	// keep only the latest pending change
	select {
	case <-s.resetCh:
	default:
	}
	select {
	case s.resetCh <- d:
	default:
	}
	return nil
}

// Subscribe returns a channel that receives every published snapshot.
//
// Delivery is non-blocking: a subscriber whose buffer is full misses that
// round. The snapshot must be treated as read-only. Call
// [Scheduler.Unsubscribe] when done.
func (s *Scheduler) Subscribe() <-chan model.Snapshot {
	ch := make(chan model.Snapshot, subscriberBuffer)

	s.subMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel. Safe to call
// more than once and after Stop.
func (s *Scheduler) Unsubscribe(ch <-chan model.Snapshot) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for subCh := range s.subscribers {
		if subCh == ch {
			delete(s.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// runRound probes every target, then publishes the round unless ctx was
// cancelled before all probes finished.
func (s *Scheduler) runRound(ctx context.Context) {
	started := s.now()
	observations := make([]model.Observation, len(s.targets))

	var g errgroup.Group
	g.SetLimit(s.maxConcurrency)
	for i, target := range s.targets {
		g.Go(func() error {
			if s.limiter != nil {
				if err := s.limiter.Wait(ctx); err != nil {
					observations[i] = model.Unreached(target.Name, s.now())
					return err
				}
			}
			observations[i] = s.probeTarget(ctx, target)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		s.logger.Debug("round discarded", "round", s.round+1, "reason", ctx.Err().Error())
		return
	}

	snap := model.Snapshot{
		Round:        s.round + 1,
		CompletedAt:  s.now(),
		Observations: make(map[string]model.Observation, len(observations)),
	}
	for _, obs := range observations {
		snap.Observations[obs.TargetName] = obs
	}

	if !s.publish(snap) {
		return
	}

	s.logger.Debug("round complete",
		"round", snap.Round,
		"targets", len(snap.Observations),
		"duration", snap.CompletedAt.Sub(started).String(),
	)
}

// publish installs snap as the current round. A round numbered at or below
// the published one is rejected.
func (s *Scheduler) publish(snap model.Snapshot) bool {
	if cur := s.current.Load(); cur != nil && snap.Round <= cur.Round {
		s.logger.Warn("stale round not published", "round", snap.Round, "current", cur.Round)
		return false
	}
	s.round = snap.Round
	s.current.Store(&snap)

	s.history.AppendAll(snap)

	if s.sink != nil {
		s.sink.Enqueue(snap)
	}

	s.notifySubscribers(snap)
	for _, fn := range s.callbacks {
		s.safeCallback(fn, snap)
	}
	return true
}

func (s *Scheduler) notifySubscribers(snap model.Snapshot) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
			// slow subscriber, drop
		}
	}
}

// probeTarget probes one target and always yields a valid observation for
// it. Prober errors and panics are recorded as unreachable.
func (s *Scheduler) probeTarget(ctx context.Context, target model.Target) (obs model.Observation) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			s.logger.Error("prober panic",
				"correlation_id", correlationID,
				"target", target.Name,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			obs = model.Unreached(target.Name, s.now())
		}
	}()

	obs, err := s.prober.Probe(ctx, target)
	if err != nil {
		s.logger.Warn("probe failed", "target", target.Name, "error", err.Error())
		return model.Unreached(target.Name, s.now())
	}
	if obs.TargetName != target.Name || !obs.Valid() {
		s.logger.Warn("invalid observation discarded", "target", target.Name)
		return model.Unreached(target.Name, s.now())
	}

	if ms, ok := obs.Latency(); ok {
		s.logger.Debug("probe ok", "target", target.Name, "latency_ms", ms)
	} else {
		s.logger.Debug("probe unreachable", "target", target.Name)
	}
	return obs
}

// safeCallback runs fn with panic recovery.
func (s *Scheduler) safeCallback(fn SnapshotCallback, snap model.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("snapshot callback panic",
				"correlation_id", uuid.NewString(),
				"round", snap.Round,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn(snap)
}

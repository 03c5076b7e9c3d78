package persist

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpalmerr/reachboard/internal/model"
)

const (
	// DefaultSaveTimeout bounds a single Save call made by a [Writer].
	DefaultSaveTimeout = 5 * time.Second

	// DefaultQueueSize is the number of snapshots a [Writer] buffers.
	DefaultQueueSize = 64
)

// WriterStats counts the outcome of every observation handed to a [Writer].
type WriterStats struct {
	Saved   uint64
	Failed  uint64
	Dropped uint64
}

// Writer persists snapshots on a dedicated goroutine.
//
// Delivery is at most once: a failed save is logged and dropped, and a
// snapshot that arrives while the queue is full is dropped with a warning.
// Enqueue never blocks.
type Writer struct {
	gw          Gateway
	logger      *slog.Logger
	saveTimeout time.Duration
	queue       chan model.Snapshot

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool

	saved   atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// WriterOption configures a [Writer].
type WriterOption func(*Writer)

// WithSaveTimeout sets the per-save timeout. Non-positive values are ignored.
func WithSaveTimeout(d time.Duration) WriterOption {
	return func(w *Writer) {
		if d > 0 {
			w.saveTimeout = d
		}
	}
}

// WithQueueSize sets the queue capacity in snapshots. Non-positive values
// are ignored.
func WithQueueSize(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.queue = make(chan model.Snapshot, n)
		}
	}
}

// NewWriter creates a [Writer] for gw. Call Start before enqueueing.
func NewWriter(gw Gateway, logger *slog.Logger, opts ...WriterOption) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Writer{
		gw:          gw,
		logger:      logger,
		saveTimeout: DefaultSaveTimeout,
		queue:       make(chan model.Snapshot, DefaultQueueSize),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	return w
}

// Start launches the writer goroutine. Idempotent; a no-op after Stop.
func (w *Writer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.stopped {
		return
	}
	w.started = true

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for snap := range w.queue {
			w.write(snap)
		}
	}()
}

// Enqueue hands a snapshot to the writer. It returns false when the snapshot
// was dropped because the queue is full or the writer is stopped.
func (w *Writer) Enqueue(snap model.Snapshot) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if !w.started || w.stopped {
		w.dropped.Add(uint64(len(snap.Observations)))
		return false
	}

	select {
	case w.queue <- snap:
		return true
	default:
		w.dropped.Add(uint64(len(snap.Observations)))
		w.logger.Warn("persistence queue full, dropping round",
			"round", snap.Round,
			"observations", len(snap.Observations),
		)
		return false
	}
}

// Stop closes the queue and waits for pending snapshots to be written.
//
// If ctx expires first, in-flight saves are cancelled and the remaining
// snapshots are dropped. Stop is idempotent.
func (w *Writer) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.queue)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.cancel()
		return nil
	case <-ctx.Done():
		w.cancel()
		<-done
		return ctx.Err()
	}
}

// Stats returns the running counters.
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Saved:   w.saved.Load(),
		Failed:  w.failed.Load(),
		Dropped: w.dropped.Load(),
	}
}

// write saves each observation of a snapshot in target-name order.
func (w *Writer) write(snap model.Snapshot) {
	names := make([]string, 0, len(snap.Observations))
	for name := range snap.Observations {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if w.ctx.Err() != nil {
			w.dropped.Add(1)
			continue
		}

		ctx, cancel := context.WithTimeout(w.ctx, w.saveTimeout)
		id, err := w.gw.Save(ctx, snap.Observations[name])
		cancel()

		if err != nil {
			w.failed.Add(1)
			w.logger.Warn("persist observation failed",
				"target", name,
				"round", snap.Round,
				"error", err.Error(),
			)
			continue
		}
		w.saved.Add(1)
		w.logger.Debug("observation persisted", "target", name, "round", snap.Round, "id", id)
	}
}

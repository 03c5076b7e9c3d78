package persist

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jpalmerr/reachboard/internal/model"
)

// MemoryGateway keeps records in process memory. Records are lost on exit.
type MemoryGateway struct {
	mu      sync.RWMutex
	records []model.Record
	closed  bool
}

// NewMemoryGateway creates an empty [MemoryGateway].
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{}
}

// Save appends the observation under a random uuid.
func (m *MemoryGateway) Save(ctx context.Context, obs model.Observation) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", ErrClosed
	}
	id := uuid.NewString()
	m.records = append(m.records, model.Record{ID: id, Observation: obs.Clone()})
	return id, nil
}

// ListAll returns the records in insertion order.
func (m *MemoryGateway) ListAll(ctx context.Context) ([]model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	out := make([]model.Record, len(m.records))
	for i, r := range m.records {
		out[i] = model.Record{ID: r.ID, Observation: r.Observation.Clone()}
	}
	return out, nil
}

// Ping reports ErrClosed after Close.
func (m *MemoryGateway) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close marks the gateway closed. Safe to call multiple times.
func (m *MemoryGateway) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

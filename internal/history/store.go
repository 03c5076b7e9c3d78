package history

import (
	"sort"
	"sync"

	"github.com/jpalmerr/reachboard/internal/model"
)

// DefaultCapacity is the number of observations kept per target.
const DefaultCapacity = 100

// ring is a fixed-size FIFO of observations.
type ring struct {
	buf   []model.Observation
	start int // index of the oldest entry
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]model.Observation, capacity)}
}

func (r *ring) push(obs model.Observation) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = obs
		r.size++
		return
	}
	// full: overwrite the oldest and advance
	r.buf[r.start] = obs
	r.start = (r.start + 1) % len(r.buf)
}

// items returns the entries oldest first as a fresh slice.
func (r *ring) items() []model.Observation {
	out := make([]model.Observation, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)].Clone()
	}
	return out
}

// Store is an in-memory history of observations keyed by target name.
//
// Store is safe for concurrent use. Reads return copies and never observe a
// partially appended entry.
type Store struct {
	mu       sync.RWMutex
	capacity int
	rings    map[string]*ring
}

// New creates a [Store] holding at most capacity observations per target.
// A non-positive capacity falls back to [DefaultCapacity].
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		rings:    make(map[string]*ring),
	}
}

// Capacity returns the per-target bound.
func (s *Store) Capacity() int {
	return s.capacity
}

// Append records an observation under its target name, evicting the oldest
// entry for that target when at capacity.
func (s *Store) Append(obs model.Observation) {
	obs = obs.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rings[obs.TargetName]
	if !ok {
		r = newRing(s.capacity)
		s.rings[obs.TargetName] = r
	}
	r.push(obs)
}

// AppendAll records every observation of a snapshot under a single lock, so
// readers see either none or all of a round's entries.
func (s *Store) AppendAll(snap model.Snapshot) {
	names := make([]string, 0, len(snap.Observations))
	for name := range snap.Observations {
		names = append(names, name)
	}
	sort.Strings(names)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range names {
		obs := snap.Observations[name].Clone()
		r, ok := s.rings[obs.TargetName]
		if !ok {
			r = newRing(s.capacity)
			s.rings[obs.TargetName] = r
		}
		r.push(obs)
	}
}

// Get returns the history for a target, oldest first. The slice is empty
// for a target that has no observations.
func (s *Store) Get(name string) []model.Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rings[name]
	if !ok {
		return []model.Observation{}
	}
	return r.items()
}

// Len returns the number of observations held for a target.
func (s *Store) Len(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.rings[name]; ok {
		return r.size
	}
	return 0
}

// Names returns the targets that have history, sorted.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.rings))
	for name := range s.rings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Package model holds the value types shared by the probing, history,
// persistence and monitoring packages.
//
// Types in this package are plain values. An [Observation] is created once
// per probe and never mutated afterwards; a [Snapshot] is replaced wholesale
// at the end of every round.
package model

import "time"

// DefaultLatencyThreshold separates [ClassGood] from [ClassLow].
const DefaultLatencyThreshold = 100 * time.Millisecond

// Target is a named network endpoint under observation.
type Target struct {
	// Name is the unique display name of the target.
	Name string

	// Address is a host or host:port to probe.
	Address string
}

// Observation is the outcome of a single probe.
//
// LatencyMs is non-nil if and only if Reachable is true. Use [Reached] and
// [Unreached] to build observations so the invariant holds.
type Observation struct {
	TargetName string
	Reachable  bool
	LatencyMs  *float64
	ObservedAt time.Time
}

// Reached builds a reachable observation with the measured latency.
func Reached(name string, latency time.Duration, at time.Time) Observation {
	ms := float64(latency) / float64(time.Millisecond)
	return Observation{
		TargetName: name,
		Reachable:  true,
		LatencyMs:  &ms,
		ObservedAt: at,
	}
}

// Unreached builds an unreachable observation. Latency is always absent.
func Unreached(name string, at time.Time) Observation {
	return Observation{
		TargetName: name,
		Reachable:  false,
		ObservedAt: at,
	}
}

// Latency returns the latency in milliseconds and whether it is present.
func (o Observation) Latency() (float64, bool) {
	if o.LatencyMs == nil {
		return 0, false
	}
	return *o.LatencyMs, true
}

// Valid reports whether the reachable/latency invariant holds.
func (o Observation) Valid() bool {
	return o.Reachable == (o.LatencyMs != nil)
}

// Clone returns a copy that shares no memory with o.
func (o Observation) Clone() Observation {
	if o.LatencyMs != nil {
		ms := *o.LatencyMs
		o.LatencyMs = &ms
	}
	return o
}

// Snapshot is the complete set of latest observations, one per target.
type Snapshot struct {
	// Round is the number of the round that produced the snapshot.
	// Zero means no round has completed yet.
	Round uint64

	// CompletedAt is when the round finished. Zero before the first round.
	CompletedAt time.Time

	// Observations is keyed by target name.
	Observations map[string]Observation
}

// EmptySnapshot is the placeholder exposed before the first round completes.
func EmptySnapshot() Snapshot {
	return Snapshot{Observations: map[string]Observation{}}
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Round:        s.Round,
		CompletedAt:  s.CompletedAt,
		Observations: make(map[string]Observation, len(s.Observations)),
	}
	for name, obs := range s.Observations {
		out.Observations[name] = obs.Clone()
	}
	return out
}

// Record is the durable representation of an observation.
type Record struct {
	// ID is assigned by the store that persisted the record.
	ID string

	Observation Observation
}

package reachboard

import (
	"time"

	"github.com/jpalmerr/reachboard/internal/model"
)

// Observation is the outcome of probing one target once.
//
// LatencyMs is set if and only if Reachable is true.
type Observation = model.Observation

// Snapshot is the complete result of one probing round.
type Snapshot = model.Snapshot

// Class is the derived quality of an [Observation].
type Class = model.Class

const (
	// ClassGood is a reachable target answering under the latency threshold.
	ClassGood = model.ClassGood

	// ClassLow is a reachable target at or above the latency threshold.
	ClassLow = model.ClassLow

	// ClassDown is an unreachable target.
	ClassDown = model.ClassDown
)

// DefaultLatencyThreshold is the boundary between [ClassGood] and [ClassLow].
const DefaultLatencyThreshold = model.DefaultLatencyThreshold

// Classify derives the [Class] of o. A non-positive threshold falls back to
// [DefaultLatencyThreshold].
func Classify(o Observation, threshold time.Duration) Class {
	return model.Classify(o, threshold)
}

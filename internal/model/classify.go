package model

import "time"

// Class is the presentation tier of an observation.
type Class string

const (
	// ClassGood is a reachable target answering under the latency threshold.
	ClassGood Class = "Good"

	// ClassLow is a reachable target at or above the latency threshold.
	ClassLow Class = "Low"

	// ClassDown is an unreachable target.
	ClassDown Class = "Down"
)

// String implements fmt.Stringer.
func (c Class) String() string {
	return string(c)
}

// Classify maps an observation to its [Class].
//
// A non-positive threshold falls back to [DefaultLatencyThreshold]. An
// observation that claims to be reachable without a latency is treated as
// Down.
func Classify(o Observation, threshold time.Duration) Class {
	if threshold <= 0 {
		threshold = DefaultLatencyThreshold
	}
	ms, ok := o.Latency()
	if !o.Reachable || !ok {
		return ClassDown
	}
	if ms < float64(threshold)/float64(time.Millisecond) {
		return ClassGood
	}
	return ClassLow
}

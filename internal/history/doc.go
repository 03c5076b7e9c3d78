// Package history keeps the bounded, per-target rolling history of
// observations.
//
// This package is internal to reachboard. Each target owns a fixed-capacity
// ring buffer; appending beyond capacity silently evicts the oldest entry.
// The store is safe for one writer (the monitor) and many concurrent readers
// (HTTP handlers). History is volatile and is not persisted.
package history

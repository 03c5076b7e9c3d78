// Package monitor runs probing rounds on a fixed cadence.
//
// This package is internal to reachboard. A [Scheduler] owns one loop
// goroutine. Each round probes every target concurrently, waits for all of
// them, and then publishes a complete [model.Snapshot]:
//
//  1. the snapshot replaces the previous one atomically
//  2. every observation is appended to the history store
//  3. the snapshot is handed to the persistence sink
//  4. subscribers and callbacks are notified
//
// Readers call [Scheduler.Snapshot], which never waits for a round and never
// starts one. Rounds never overlap: a slow round delays the next tick.
package monitor

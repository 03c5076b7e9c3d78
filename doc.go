// Package reachboard provides an embeddable reachability monitor with a
// live dashboard.
//
// A fixed set of named network targets is probed on a cadence. Every round
// probes all targets concurrently, publishes one complete [Snapshot], appends
// each [Observation] to a bounded per-target history and persists it to a
// durable store. The dashboard and its JSON API only ever read the latest
// published round.
//
// # Quick Start
//
//	google, _ := reachboard.NewTarget("Google", "google.com")
//	github, _ := reachboard.NewTarget("GitHub", "github.com")
//
//	rb, _ := reachboard.New(reachboard.WithTargets(google, github))
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	rb.Start(ctx) // blocks until ctx is cancelled
//
// # Configuration
//
//	rb, err := reachboard.New(
//	    reachboard.WithTargets(targets...),
//	    reachboard.WithProbeInterval(10 * time.Second),
//	    reachboard.WithProbeTimeout(2 * time.Second),
//	    reachboard.WithLatencyThreshold(100 * time.Millisecond),
//	    reachboard.WithStoreURL("mongodb://localhost:27017/network_monitoring"),
//	    reachboard.WithPort(8050),
//	)
//
// # Classification
//
// Observations are classified on read, never stored: [ClassDown] when the
// target did not answer, [ClassGood] when it answered under the latency
// threshold and [ClassLow] otherwise.
//
// # Architecture
//
//   - internal/probe: TCP connect probe with a fixed timeout
//   - internal/monitor: round scheduler with atomic snapshot publication
//   - internal/history: fixed-capacity ring buffer per target
//   - internal/persist: memory, MongoDB and PostgreSQL stores plus an
//     asynchronous writer
//   - internal/server: chi router, JSON API and websocket stream
//   - dashboard: embedded web UI assets
package reachboard

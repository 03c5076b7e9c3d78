// Package dashboard provides the embedded web UI assets for reachboard.
//
// The pages are compiled into the binary so the monitor ships as a single
// file. The server substitutes {{.Title}} and {{.ThresholdMs}} before
// serving them.
package dashboard

import "embed"

// Assets is an embedded filesystem containing the dashboard web UI.
//
//	assets/
//	  index.html      - live status board with the cadence selector
//	  view-data.html  - every persisted record
//
//go:embed assets/*
var Assets embed.FS

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/reachboard"
)

// sites are the targets of the classic network monitoring dashboard.
var sites = []struct{ name, address string }{
	{"Localhost", "127.0.0.1"},
	{"Google", "google.com"},
	{"Cloudflare", "cloudflare.com"},
	{"GitHub", "github.com"},
	{"LinkedIn", "linkedin.com"},
	{"Wikipedia", "wikipedia.org"},
	{"Stack Overflow", "stackoverflow.com"},
	{"Amazon", "amazon.com"},
	{"Facebook", "facebook.com"},
	{"Twitter", "twitter.com"},
	{"Microsoft", "microsoft.com"},
	{"Apple", "apple.com"},
	{"Netflix", "netflix.com"},
	{"Instagram", "instagram.com"},
	{"YouTube", "youtube.com"},
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	targets := make([]reachboard.Target, 0, len(sites)+1)
	for _, s := range sites {
		t, err := reachboard.NewTarget(s.name, s.address)
		if err != nil {
			logger.Error("invalid target", "name", s.name, "error", err)
			os.Exit(1)
		}
		targets = append(targets, t)
	}

	// a blackhole address that always times out, so the dashboard shows a Down row
	blackhole, _ := reachboard.NewTarget("Blackhole", "10.255.255.1:9")
	targets = append(targets, blackhole)

	rb, err := reachboard.New(
		reachboard.WithTargets(targets...),
		reachboard.WithProbeInterval(5*time.Second),
		reachboard.WithPort(reachboard.DefaultPort),
		reachboard.WithLogger(logger),
		reachboard.WithSnapshotCallback(func(s reachboard.Snapshot) {
			counts := map[reachboard.Class]int{}
			for _, o := range s.Observations {
				counts[reachboard.Classify(o, reachboard.DefaultLatencyThreshold)]++
			}
			logger.Info("round complete",
				"round", s.Round,
				"good", counts[reachboard.ClassGood],
				"low", counts[reachboard.ClassLow],
				"down", counts[reachboard.ClassDown],
			)
		}),
	)
	if err != nil {
		logger.Error("failed to create reachboard", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  Reachboard Demo")
	fmt.Printf("  Open http://localhost:%d in your browser\n", reachboard.DefaultPort)
	fmt.Printf("  %d targets, probed every 5s, Ctrl+C to stop\n", len(targets))
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rb.Start(ctx); err != nil {
		logger.Error("reachboard error", "error", err)
		os.Exit(1)
	}
}

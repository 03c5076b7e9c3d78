// Package persist provides the durable, append-only store of observations.
//
// This package is internal to reachboard. The monitor only needs two
// operations from a store: append one observation and scan every record.
// Three backends implement [Gateway]:
//
//   - [MemoryGateway]: process-local, used for tests and the memory:// URL
//   - [MongoGateway]: MongoDB collection (mongodb:// and mongodb+srv://)
//   - [PostgresGateway]: PostgreSQL table (postgres:// and postgresql://)
//
// Writes from the monitor go through a [Writer], which owns a bounded queue
// and a single goroutine so a slow or unavailable store never delays a round.
package persist

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jpalmerr/reachboard/internal/model"
)

// DefaultURL keeps records in memory only.
const DefaultURL = "memory://"

// pingTimeout bounds the startup reachability check of a store.
const pingTimeout = 5 * time.Second

// ErrUnsupportedScheme is returned by [Open] for unknown URL schemes.
var ErrUnsupportedScheme = errors.New("unsupported store scheme")

// ErrClosed is returned by operations on a closed gateway.
var ErrClosed = errors.New("store closed")

// Gateway is the narrow contract the monitor requires from a durable store.
//
// Implementations must be safe for concurrent use.
type Gateway interface {
	// Save appends an observation and returns the store-assigned record id.
	Save(ctx context.Context, obs model.Observation) (string, error)

	// ListAll returns every persisted record in store-native order.
	ListAll(ctx context.Context) ([]model.Record, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the connection to the store.
	Close(ctx context.Context) error
}

// Open connects to the store described by rawURL and verifies it answers.
//
// An unreachable store is reported as an error so the caller can refuse to
// start.
func Open(ctx context.Context, rawURL string) (Gateway, error) {
	if strings.TrimSpace(rawURL) == "" {
		rawURL = DefaultURL
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid store url: %w", err)
	}

	var gw Gateway
	switch strings.ToLower(u.Scheme) {
	case "memory":
		gw = NewMemoryGateway()
	case "mongodb", "mongodb+srv":
		gw, err = NewMongoGateway(ctx, rawURL)
	case "postgres", "postgresql":
		gw, err = NewPostgresGateway(ctx, rawURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := gw.Ping(pingCtx); err != nil {
		_ = gw.Close(context.Background())
		return nil, fmt.Errorf("store unreachable: %w", err)
	}

	return gw, nil
}

// Redact strips credentials from a store URL so it can be logged.
func Redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid>"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.String()
}

package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/jpalmerr/reachboard/internal/model"
)

const (
	// DefaultTimeout bounds a single probe.
	DefaultTimeout = 2 * time.Second

	// DefaultPort is used when a target address carries no port.
	DefaultPort = "443"
)

// Prober executes one reachability check against a target.
//
// Implementations must be safe for concurrent use and must return within
// their timeout plus bounded overhead.
type Prober interface {
	Probe(ctx context.Context, target model.Target) (model.Observation, error)
}

// Func adapts an ordinary function to the [Prober] interface.
type Func func(ctx context.Context, target model.Target) (model.Observation, error)

// Probe calls f(ctx, target).
func (f Func) Probe(ctx context.Context, target model.Target) (model.Observation, error) {
	return f(ctx, target)
}

// TCPProber checks reachability with a TCP connect.
//
// A completed handshake and an active refusal (RST) both count as reachable:
// in either case the host answered within the timeout. Everything else,
// including DNS failures and timeouts, is unreachable.
type TCPProber struct {
	timeout     time.Duration
	defaultPort string
	dialer      *net.Dialer
	now         func() time.Time
}

// Option configures a [TCPProber].
type Option func(*TCPProber)

// WithTimeout sets the per-probe timeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(p *TCPProber) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithDefaultPort sets the port used for addresses without one.
func WithDefaultPort(port string) Option {
	return func(p *TCPProber) {
		if port != "" {
			p.defaultPort = port
		}
	}
}

// WithClock overrides the clock used for timestamps and latency.
func WithClock(now func() time.Time) Option {
	return func(p *TCPProber) {
		if now != nil {
			p.now = now
		}
	}
}

// NewTCPProber creates a [TCPProber] with a 2 second timeout and port 443
// as the default port.
func NewTCPProber(opts ...Option) *TCPProber {
	p := &TCPProber{
		timeout:     DefaultTimeout,
		defaultPort: DefaultPort,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	// no keep-alive probes: the connection is closed right after the handshake
	p.dialer = &net.Dialer{KeepAlive: -1}
	return p
}

// Timeout returns the per-probe timeout.
func (p *TCPProber) Timeout() time.Duration {
	return p.timeout
}

// Probe dials the target and returns the observation.
//
// The returned error is non-nil only for local faults such as file
// descriptor exhaustion; the observation is unreachable in that case too.
func (p *TCPProber) Probe(ctx context.Context, target model.Target) (model.Observation, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	addr := NormalizeAddress(target.Address, p.defaultPort)

	start := p.now()
	conn, err := p.dialer.DialContext(ctx, "tcp", addr)
	elapsed := p.now().Sub(start)
	observedAt := p.now()

	if err == nil {
		_ = conn.Close()
		return model.Reached(target.Name, elapsed, observedAt), nil
	}

	if isLocalFault(err) {
		return model.Unreached(target.Name, observedAt), fmt.Errorf("probe %s: %w", addr, err)
	}

	if errors.Is(err, syscall.ECONNREFUSED) && ctx.Err() == nil {
		return model.Reached(target.Name, elapsed, observedAt), nil
	}

	return model.Unreached(target.Name, observedAt), nil
}

// NormalizeAddress returns host:port, appending defaultPort when the address
// has none. Bracketed and bare IPv6 literals are handled.
func NormalizeAddress(address, defaultPort string) string {
	address = strings.TrimSpace(address)
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	host := strings.TrimSuffix(strings.TrimPrefix(address, "["), "]")
	return net.JoinHostPort(host, defaultPort)
}

// isLocalFault reports whether err comes from exhausted local resources
// rather than from the network path to the target.
func isLocalFault(err error) bool {
	return errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ENOBUFS) ||
		errors.Is(err, syscall.ENOMEM)
}

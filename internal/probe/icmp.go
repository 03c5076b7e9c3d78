package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	ping "github.com/digineo/go-ping"

	"github.com/jpalmerr/reachboard/internal/model"
)

// Mode selects the reachability check.
type Mode string

const (
	// ModeICMP sends one echo request per probe. It needs a raw ICMP socket
	// and falls back to TCP when one cannot be opened.
	ModeICMP Mode = "icmp"

	// ModeTCP connects to the target port.
	ModeTCP Mode = "tcp"
)

// ErrUnknownMode is returned by [ParseMode] for an unsupported mode.
var ErrUnknownMode = errors.New("unknown probe mode")

// ParseMode validates a mode name. The empty string selects [ModeICMP].
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeICMP:
		return ModeICMP, nil
	case ModeTCP:
		return ModeTCP, nil
	default:
		return "", fmt.Errorf("%w %q (expected icmp or tcp)", ErrUnknownMode, s)
	}
}

// New builds the prober for mode with the given timeout.
func New(mode Mode, timeout time.Duration, logger *slog.Logger) (Prober, error) {
	switch mode {
	case ModeICMP:
		return NewICMPProber(
			WithICMPTimeout(timeout),
			WithICMPLogger(logger),
			WithFallback(NewTCPProber(WithTimeout(timeout))),
		), nil
	case ModeTCP:
		return NewTCPProber(WithTimeout(timeout)), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownMode, mode)
	}
}

// echoer is the part of *ping.Pinger used by ICMPProber.
type echoer interface {
	Ping(remote *net.IPAddr, timeout time.Duration) (time.Duration, error)
	Close()
}

// openFunc opens the ICMP socket and reports whether IPv6 is bound.
type openFunc func() (echoer, bool, error)

// openPinger binds IPv4 and, when available, IPv6 raw ICMP sockets.
func openPinger() (echoer, bool, error) {
	if p, err := ping.New("0.0.0.0", "::"); err == nil {
		return p, true, nil
	}
	p, err := ping.New("0.0.0.0", "")
	if err != nil {
		return nil, false, err
	}
	return p, false, nil
}

// ICMPProber checks reachability with a single ICMP echo request.
//
// The socket is opened on the first probe. If it cannot be opened, usually
// for lack of CAP_NET_RAW, every probe is delegated to the fallback prober.
// A port in the target address is ignored.
type ICMPProber struct {
	timeout  time.Duration
	fallback Prober
	logger   *slog.Logger
	resolver *net.Resolver
	now      func() time.Time
	open     openFunc

	openOnce  sync.Once
	closeOnce sync.Once
	conn      echoer
	ipv6      bool
}

// ICMPOption configures an [ICMPProber].
type ICMPOption func(*ICMPProber)

// WithICMPTimeout sets the per-probe timeout. Non-positive values are ignored.
func WithICMPTimeout(d time.Duration) ICMPOption {
	return func(p *ICMPProber) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithFallback sets the prober used when no ICMP socket is available.
func WithFallback(fallback Prober) ICMPOption {
	return func(p *ICMPProber) {
		if fallback != nil {
			p.fallback = fallback
		}
	}
}

// WithICMPLogger sets the logger.
func WithICMPLogger(logger *slog.Logger) ICMPOption {
	return func(p *ICMPProber) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewICMPProber creates an [ICMPProber] with a 2 second timeout. Without
// [WithFallback] it falls back to a [TCPProber] with the same timeout.
func NewICMPProber(opts ...ICMPOption) *ICMPProber {
	p := &ICMPProber{
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
		resolver: net.DefaultResolver,
		now:      time.Now,
		open:     openPinger,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.fallback == nil {
		p.fallback = NewTCPProber(WithTimeout(p.timeout))
	}
	return p
}

// Timeout returns the per-probe timeout.
func (p *ICMPProber) Timeout() time.Duration {
	return p.timeout
}

func (p *ICMPProber) openConn() {
	conn, ipv6, err := p.open()
	if err != nil {
		p.logger.Warn("icmp socket unavailable, probing with tcp", "error", err.Error())
		return
	}
	p.conn, p.ipv6 = conn, ipv6
}

// Probe sends one echo request and returns the observation.
func (p *ICMPProber) Probe(ctx context.Context, target model.Target) (model.Observation, error) {
	p.openOnce.Do(p.openConn)
	if p.conn == nil {
		return p.fallback.Probe(ctx, target)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ip, err := p.resolve(ctx, target.Address)
	if err != nil {
		return model.Unreached(target.Name, p.now()), nil
	}

	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if timeout <= 0 {
		return model.Unreached(target.Name, p.now()), nil
	}

	rtt, err := p.conn.Ping(ip, timeout)
	observedAt := p.now()
	if err != nil {
		if isLocalFault(err) {
			return model.Unreached(target.Name, observedAt), fmt.Errorf("ping %s: %w", ip, err)
		}
		return model.Unreached(target.Name, observedAt), nil
	}
	return model.Reached(target.Name, rtt, observedAt), nil
}

// resolve turns an address into the IP to ping, preferring IPv4.
func (p *ICMPProber) resolve(ctx context.Context, address string) (*net.IPAddr, error) {
	host := hostOnly(address)

	if ip := net.ParseIP(host); ip != nil {
		if ip.To4() == nil && !p.ipv6 {
			return nil, fmt.Errorf("no ipv6 socket for %s", host)
		}
		return &net.IPAddr{IP: ip}, nil
	}

	addrs, err := p.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		if a.IP.To4() != nil {
			return &net.IPAddr{IP: a.IP}, nil
		}
	}
	if p.ipv6 && len(addrs) > 0 {
		return &addrs[0], nil
	}
	return nil, fmt.Errorf("no usable address for %s", host)
}

// Close releases the ICMP socket. The prober must not be used afterwards.
func (p *ICMPProber) Close() error {
	p.openOnce.Do(func() {})
	p.closeOnce.Do(func() {
		if p.conn != nil {
			p.conn.Close()
		}
	})
	return nil
}

// hostOnly strips a port and IPv6 brackets from address.
func hostOnly(address string) string {
	address = strings.TrimSpace(address)
	if host, _, err := net.SplitHostPort(address); err == nil {
		return host
	}
	return strings.TrimSuffix(strings.TrimPrefix(address, "["), "]")
}

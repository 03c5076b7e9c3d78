// Package probe provides the reachability check used by the monitor.
//
// This package is internal to reachboard. A probe is a single ICMP echo or
// TCP connect against a target address, bounded by a fixed timeout, whose
// round-trip time becomes the observed latency.
//
// The main components are:
//
//   - [Prober]: Interface implemented by anything able to probe a target
//   - [ICMPProber]: One echo request per probe, falling back to TCP without a raw socket
//   - [TCPProber]: Native TCP connect-and-timeout implementation
//   - [New]: Builds the prober for a [Mode]
//   - [Func]: Adapter turning a plain function into a Prober
//
// Probe failures (timeouts, DNS failures, transport errors) are not errors:
// they are reported as unreachable observations. Only local resource
// exhaustion is returned as an error.
package probe

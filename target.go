package reachboard

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Target is a named network address to monitor.
//
// Target is immutable after creation via [NewTarget].
type Target struct {
	name    string
	address string
}

// Name returns the target's display name. Names are unique within a
// [Registry] and key every snapshot, history buffer and persisted record.
func (t Target) Name() string {
	return t.name
}

// Address returns the host or host:port that is probed.
func (t Target) Address() string {
	return t.address
}

// NewTarget creates a [Target] with the given name and address.
//
// The address is a hostname, an IP literal, or either of those with a port
// ("github.com", "10.0.0.1:22", "[::1]:8080"). Without a port the prober's
// default port is used.
//
// Returns an error if:
//   - name is empty or only whitespace
//   - address is empty or contains whitespace
//   - address carries a port outside 1-65535
//
// Example:
//
//	t, err := reachboard.NewTarget("GitHub", "github.com")
func NewTarget(name, address string) (Target, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Target{}, errors.New("target name is required")
	}

	address = strings.TrimSpace(address)
	if err := validateAddress(address); err != nil {
		return Target{}, fmt.Errorf("target %q: %w", name, err)
	}

	return Target{name: name, address: address}, nil
}

func validateAddress(address string) error {
	if address == "" {
		return errors.New("address is required")
	}
	if strings.ContainsAny(address, " \t\r\n/") {
		return fmt.Errorf("invalid address %q", address)
	}

	host, port, err := net.SplitHostPort(address)
	if err != nil {
		// bare host or bare IPv6 literal
		if strings.Count(address, ":") > 1 && net.ParseIP(strings.Trim(address, "[]")) != nil {
			return nil
		}
		if strings.Contains(address, ":") {
			return fmt.Errorf("invalid address %q: %w", address, err)
		}
		return nil
	}

	if host == "" {
		return fmt.Errorf("invalid address %q: missing host", address)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("invalid address %q: port must be between 1 and 65535", address)
	}
	return nil
}

package probe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpalmerr/reachboard/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEcho answers every echo request with rtt or err and records the
// destinations.
type fakeEcho struct {
	rtt    time.Duration
	err    error
	mu     sync.Mutex
	pinged []string
	closed atomic.Int32
}

func (f *fakeEcho) Ping(remote *net.IPAddr, timeout time.Duration) (time.Duration, error) {
	f.mu.Lock()
	f.pinged = append(f.pinged, remote.IP.String())
	f.mu.Unlock()
	return f.rtt, f.err
}

func (f *fakeEcho) Close() { f.closed.Add(1) }

func (f *fakeEcho) destinations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pinged...)
}

func icmpWith(echo *fakeEcho, ipv6 bool, opts ...ICMPOption) *ICMPProber {
	p := NewICMPProber(append([]ICMPOption{WithICMPLogger(testLogger())}, opts...)...)
	p.open = func() (echoer, bool, error) { return echo, ipv6, nil }
	return p
}

func TestICMPProber_Reachable(t *testing.T) {
	echo := &fakeEcho{rtt: 12 * time.Millisecond}
	p := icmpWith(echo, false)

	obs, err := p.Probe(context.Background(), model.Target{Name: "Localhost", Address: "127.0.0.1"})
	require.NoError(t, err)

	assert.True(t, obs.Reachable)
	require.NotNil(t, obs.LatencyMs)
	assert.InDelta(t, 12.0, *obs.LatencyMs, 0.001)
	assert.Equal(t, []string{"127.0.0.1"}, echo.destinations())
}

func TestICMPProber_PortIsIgnored(t *testing.T) {
	echo := &fakeEcho{rtt: time.Millisecond}
	p := icmpWith(echo, true)

	for _, addr := range []string{"127.0.0.1:8080", "[::1]:443", "[::1]"} {
		_, err := p.Probe(context.Background(), model.Target{Name: "x", Address: addr})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"127.0.0.1", "::1", "::1"}, echo.destinations())
}

func TestICMPProber_NoReplyIsUnreachable(t *testing.T) {
	echo := &fakeEcho{err: errors.New("i/o timeout")}
	p := icmpWith(echo, false)

	obs, err := p.Probe(context.Background(), model.Target{Name: "silent", Address: "192.0.2.1"})
	require.NoError(t, err)
	assert.False(t, obs.Reachable)
	assert.Nil(t, obs.LatencyMs)
	assert.True(t, obs.Valid())
}

func TestICMPProber_IPv6WithoutSocket(t *testing.T) {
	echo := &fakeEcho{rtt: time.Millisecond}
	p := icmpWith(echo, false)

	obs, err := p.Probe(context.Background(), model.Target{Name: "v6", Address: "::1"})
	require.NoError(t, err)
	assert.False(t, obs.Reachable)
	assert.Empty(t, echo.destinations())
}

func TestICMPProber_DNSFailureIsUnreachable(t *testing.T) {
	echo := &fakeEcho{rtt: time.Millisecond}
	p := icmpWith(echo, false, WithICMPTimeout(time.Second))

	obs, err := p.Probe(context.Background(), model.Target{Name: "nx", Address: "does-not-exist.invalid"})
	require.NoError(t, err)
	assert.False(t, obs.Reachable)
	assert.Empty(t, echo.destinations())
}

func TestICMPProber_FallsBackWhenSocketUnavailable(t *testing.T) {
	var fallbackCalls atomic.Int32
	fallback := Func(func(ctx context.Context, tgt model.Target) (model.Observation, error) {
		fallbackCalls.Add(1)
		return model.Reached(tgt.Name, 3*time.Millisecond, time.Now()), nil
	})

	var opens atomic.Int32
	p := NewICMPProber(WithFallback(fallback), WithICMPLogger(testLogger()))
	p.open = func() (echoer, bool, error) {
		opens.Add(1)
		return nil, false, errors.New("socket: operation not permitted")
	}

	for i := 0; i < 3; i++ {
		obs, err := p.Probe(context.Background(), model.Target{Name: "A", Address: "127.0.0.1"})
		require.NoError(t, err)
		assert.True(t, obs.Reachable)
	}
	assert.Equal(t, int32(3), fallbackCalls.Load())
	assert.Equal(t, int32(1), opens.Load(), "socket open is attempted once")
}

func TestICMPProber_Close(t *testing.T) {
	echo := &fakeEcho{rtt: time.Millisecond}
	p := icmpWith(echo, false)

	_, err := p.Probe(context.Background(), model.Target{Name: "A", Address: "127.0.0.1"})
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, int32(1), echo.closed.Load())
}

func TestICMPProber_CloseBeforeUse(t *testing.T) {
	var opens atomic.Int32
	p := NewICMPProber(WithICMPLogger(testLogger()))
	p.open = func() (echoer, bool, error) {
		opens.Add(1)
		return &fakeEcho{}, false, nil
	}

	require.NoError(t, p.Close())
	assert.Equal(t, int32(0), opens.Load())
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeICMP, false},
		{"icmp", ModeICMP, false},
		{" TCP ", ModeTCP, false},
		{"udp", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnknownMode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew(t *testing.T) {
	p, err := New(ModeTCP, time.Second, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &TCPProber{}, p)

	p, err = New(ModeICMP, 1500*time.Millisecond, testLogger())
	require.NoError(t, err)
	require.IsType(t, &ICMPProber{}, p)
	assert.Equal(t, 1500*time.Millisecond, p.(*ICMPProber).Timeout())

	_, err = New("udp", time.Second, testLogger())
	assert.ErrorIs(t, err, ErrUnknownMode)
}

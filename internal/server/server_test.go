package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpalmerr/reachboard/internal/history"
	"github.com/jpalmerr/reachboard/internal/model"
	"github.com/jpalmerr/reachboard/internal/persist"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeMonitor implements Monitor for testing.
type fakeMonitor struct {
	mu          sync.Mutex
	snap        model.Snapshot
	targets     []model.Target
	interval    time.Duration
	subscribers map[chan model.Snapshot]struct{}
}

func newFakeMonitor(names ...string) *fakeMonitor {
	m := &fakeMonitor{
		snap:        model.EmptySnapshot(),
		interval:    5 * time.Second,
		subscribers: make(map[chan model.Snapshot]struct{}),
	}
	for _, n := range names {
		m.targets = append(m.targets, model.Target{Name: n, Address: n})
	}
	return m
}

func (m *fakeMonitor) Snapshot() model.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.Clone()
}

func (m *fakeMonitor) Targets() []model.Target { return m.targets }

func (m *fakeMonitor) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

func (m *fakeMonitor) SetInterval(d time.Duration) error {
	if d <= 0 {
		return errors.New("interval must be positive")
	}
	m.mu.Lock()
	m.interval = d
	m.mu.Unlock()
	return nil
}

func (m *fakeMonitor) Subscribe() <-chan model.Snapshot {
	ch := make(chan model.Snapshot, 4)
	m.mu.Lock()
	m.subscribers[ch] = struct{}{}
	m.mu.Unlock()
	return ch
}

func (m *fakeMonitor) Unsubscribe(ch <-chan model.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for c := range m.subscribers {
		if c == ch {
			delete(m.subscribers, c)
			close(c)
		}
	}
}

func (m *fakeMonitor) subscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscribers)
}

func (m *fakeMonitor) publish(snap model.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap
	for c := range m.subscribers {
		select {
		case c <- snap:
		default:
		}
	}
}

type failingLister struct{}

func (failingLister) ListAll(context.Context) ([]model.Record, error) {
	return nil, errors.New("connection refused")
}

var checkedAt = time.Date(2024, 3, 1, 12, 30, 45, 0, time.Local)

func roundOne() model.Snapshot {
	return model.Snapshot{
		Round:       1,
		CompletedAt: checkedAt,
		Observations: map[string]model.Observation{
			"A": model.Reached("A", 20*time.Millisecond, checkedAt),
			"B": model.Unreached("B", checkedAt),
			"C": model.Reached("C", 150*time.Millisecond, checkedAt),
		},
	}
}

var testAssets = fstest.MapFS{
	"assets/index.html":     {Data: []byte("<title>{{.Title}}</title><script>const threshold = {{.ThresholdMs}};</script>")},
	"assets/view-data.html": {Data: []byte("<h1>Database</h1>")},
}

type fixture struct {
	mon     *fakeMonitor
	hist    *history.Store
	records *persist.MemoryGateway
	srv     *Server
	http    *httptest.Server
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		mon:     newFakeMonitor("A", "B", "C"),
		hist:    history.New(10),
		records: persist.NewMemoryGateway(),
	}
	if cfg.Assets == nil {
		cfg.Assets = testAssets
	}
	f.srv = NewServer(f.mon, f.hist, f.records, cfg, testLogger())
	f.http = httptest.NewServer(f.srv.Handler())
	t.Cleanup(f.http.Close)
	return f
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(f.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func (f *fixture) put(t *testing.T, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, f.http.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func TestStatus_EmptyBeforeFirstRound(t *testing.T) {
	f := newFixture(t, Config{})

	resp, body := f.get(t, "/status")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{}`, string(body))
}

func TestStatus_LegacyShape(t *testing.T) {
	f := newFixture(t, Config{})
	f.mon.publish(roundOne())

	_, body := f.get(t, "/status")

	var got map[string]map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got, 3)

	assert.Equal(t, true, got["A"]["Status"])
	assert.InDelta(t, 20.0, got["A"]["Response_time"], 0.001)
	assert.Equal(t, "2024-03-01 12:30:45", got["A"]["Last_checked"])

	assert.Equal(t, false, got["B"]["Status"])
	assert.Contains(t, got["B"], "Response_time")
	assert.Nil(t, got["B"]["Response_time"])

	assert.InDelta(t, 150.0, got["C"]["Response_time"], 0.001)
}

func TestStatus_DoesNotProbe(t *testing.T) {
	f := newFixture(t, Config{})
	f.mon.publish(roundOne())

	for i := 0; i < 3; i++ {
		f.get(t, "/status")
	}
	assert.Equal(t, uint64(1), f.mon.Snapshot().Round)
}

func TestGetData(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, body := f.get(t, "/get-data")
	assert.JSONEq(t, `[]`, string(body))

	_, err := f.records.Save(ctx, model.Reached("Google", 12500*time.Microsecond, checkedAt))
	require.NoError(t, err)
	_, err = f.records.Save(ctx, model.Unreached("GitHub", checkedAt))
	require.NoError(t, err)

	_, body = f.get(t, "/get-data")
	assert.JSONEq(t, `[
		{"Google": {"Status": true, "Response_time": 12.5, "Last_checked": "2024-03-01 12:30:45"}},
		{"GitHub": {"Status": false, "Response_time": null, "Last_checked": "2024-03-01 12:30:45"}}
	]`, string(body))
	assert.NotContains(t, string(body), "_id")
}

func TestGetData_StoreFailure(t *testing.T) {
	mon := newFakeMonitor("A")
	srv := NewServer(mon, history.New(10), failingLister{}, Config{}, testLogger())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/get-data", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHistory(t *testing.T) {
	f := newFixture(t, Config{})
	f.hist.AppendAll(roundOne())

	resp, body := f.get(t, "/api/history/C")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got historyResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "C", got.Name)
	assert.Equal(t, 10, got.Capacity)
	require.Len(t, got.Entries, 1)
	assert.Equal(t, "Low", got.Entries[0].Class)

	_, body = f.get(t, "/api/history/B")
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "Down", got.Entries[0].Class)
	assert.Nil(t, got.Entries[0].LatencyMs)
}

func TestHistory_KnownTargetWithoutRounds(t *testing.T) {
	f := newFixture(t, Config{})

	resp, body := f.get(t, "/api/history/A")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got historyResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.NotNil(t, got.Entries)
	assert.Empty(t, got.Entries)
}

func TestHistory_UnknownTarget(t *testing.T) {
	f := newFixture(t, Config{})

	resp, _ := f.get(t, "/api/history/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHistory_CustomThreshold(t *testing.T) {
	f := newFixture(t, Config{Threshold: 200 * time.Millisecond})
	f.hist.AppendAll(roundOne())

	_, body := f.get(t, "/api/history/C")
	var got historyResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "Good", got.Entries[0].Class)
}

func TestInterval(t *testing.T) {
	f := newFixture(t, Config{})

	_, body := f.get(t, "/api/interval")
	assert.JSONEq(t, `{"interval":"5s"}`, string(body))

	resp, body := f.put(t, "/api/interval", `{"interval":"2s"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"interval":"2s"}`, string(body))
	assert.Equal(t, 2*time.Second, f.mon.Interval())
}

func TestInterval_Rejected(t *testing.T) {
	f := newFixture(t, Config{})

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"interval":`},
		{"not a duration", `{"interval":"soon"}`},
		{"below minimum", `{"interval":"500ms"}`},
		{"negative", `{"interval":"-5s"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := f.put(t, "/api/interval", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, 5*time.Second, f.mon.Interval())
		})
	}
}

func TestInterval_MethodNotAllowed(t *testing.T) {
	f := newFixture(t, Config{})

	resp, err := http.Post(f.http.URL+"/api/interval", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestPages(t *testing.T) {
	f := newFixture(t, Config{Title: "Ops <Board>", Threshold: 250 * time.Millisecond})

	resp, body := f.get(t, "/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), "<title>Ops &lt;Board&gt;</title>")
	assert.Contains(t, string(body), "const threshold = 250;")

	resp, body = f.get(t, "/view-data")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Database")

	resp, _ = f.get(t, "/does-not-exist")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPages_MissingAssets(t *testing.T) {
	srv := NewServer(newFakeMonitor(), history.New(10), persist.NewMemoryGateway(), Config{}, testLogger())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, Config{})

	resp, body := f.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestWebsocket_StreamsSnapshots(t *testing.T) {
	f := newFixture(t, Config{})
	f.mon.publish(roundOne())

	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first map[string]statusEntry
	require.NoError(t, conn.ReadJSON(&first))
	assert.Len(t, first, 3)
	assert.True(t, first["A"].Status)

	require.Eventually(t, func() bool { return f.mon.subscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	next := model.Snapshot{
		Round:        2,
		Observations: map[string]model.Observation{"A": model.Unreached("A", checkedAt)},
	}
	f.mon.publish(next)

	var second map[string]statusEntry
	require.NoError(t, conn.ReadJSON(&second))
	assert.False(t, second["A"].Status)
	assert.Nil(t, second["A"].ResponseTime)
}

func TestWebsocket_UnsubscribesOnClose(t *testing.T) {
	f := newFixture(t, Config{})

	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.mon.subscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	conn.Close()
	require.Eventually(t, func() bool { return f.mon.subscriberCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebsocket_RejectsForeignOrigin(t *testing.T) {
	f := newFixture(t, Config{})

	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/api/ws"
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestStart_GracefulShutdown(t *testing.T) {
	srv := NewServer(newFakeMonitor("A"), history.New(10), persist.NewMemoryGateway(),
		Config{Port: 0, Assets: testAssets}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, srv.Start(ctx))

	addr := srv.Addr()
	require.NotNil(t, addr)
	url := fmt.Sprintf("http://%s/healthz", addr.String())

	resp, err := http.Get(url)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	require.Eventually(t, func() bool {
		_, err := http.Get(url)
		return err != nil
	}, 6*time.Second, 50*time.Millisecond)
}

func TestStart_PortInUse(t *testing.T) {
	first := NewServer(newFakeMonitor(), history.New(10), persist.NewMemoryGateway(), Config{}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, first.Start(ctx))

	_, port, err := splitPort(first.Addr().String())
	require.NoError(t, err)

	second := NewServer(newFakeMonitor(), history.New(10), persist.NewMemoryGateway(), Config{Port: port}, testLogger())
	assert.Error(t, second.Start(ctx))
}

func splitPort(addr string) (string, int, error) {
	i := strings.LastIndex(addr, ":")
	if i < 0 {
		return "", 0, fmt.Errorf("no port in %q", addr)
	}
	var port int
	_, err := fmt.Sscanf(addr[i+1:], "%d", &port)
	return addr[:i], port, err
}

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-mavlink-telemetry/internal/hub"
	"github.com/kstaniek/go-mavlink-telemetry/internal/link"
	"github.com/kstaniek/go-mavlink-telemetry/internal/mavlink"
	"github.com/kstaniek/go-mavlink-telemetry/internal/mavtest"
	"github.com/kstaniek/go-mavlink-telemetry/internal/message"
	"github.com/kstaniek/go-mavlink-telemetry/internal/metrics"
	"github.com/kstaniek/go-mavlink-telemetry/internal/telemetry"
)

// fakeCtl records link commands.
type fakeCtl struct {
	mu          sync.Mutex
	targets     []string
	disconnects int
	err         error
}

func (f *fakeCtl) Connect(target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	return f.err
}

func (f *fakeCtl) Disconnect() {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
}

func (f *fakeCtl) snapshot() ([]string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.targets...), f.disconnects
}

func startServer(t *testing.T, h *hub.Hub, opts ...ServerOption) (*Server, *hub.Hub) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	if h == nil {
		h = hub.New()
	}
	srv := NewServer(append([]ServerOption{WithHub(h), WithFlushInterval(5 * time.Millisecond)}, opts...)...)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			t.Logf("Serve returned: %v", err)
		}
	}()
	select {
	case <-srv.Ready():
	case <-time.After(time.Second):
		t.Fatalf("server did not signal readiness")
	}
	return srv, h
}

func dial(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()
	d := net.Dialer{Timeout: time.Second}
	c, err := d.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, bufio.NewReader(c)
}

func readUpdate(t *testing.T, c net.Conn, r *bufio.Reader) hub.Update {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(time.Second))
	line, err := r.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read update: %v", err)
	}
	var u hub.Update
	if err := json.Unmarshal(line, &u); err != nil {
		t.Fatalf("decode %q: %v", line, err)
	}
	return u
}

func waitClients(t *testing.T, h *hub.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if h.Count() == n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("expected %d clients, have %d", n, h.Count())
}

func TestSmokeFeed(t *testing.T) {
	srv, h := startServer(t, nil)
	pre := metrics.Snap()
	c, r := dial(t, srv.Addr())
	waitClients(t, h, 1)

	h.Status(link.Status{State: link.Connected, Target: "udp://:14550", Protocol: 2})
	h.Telemetry(telemetry.Snapshot{Connected: true, Status: &telemetry.Status{FlightMode: "AUTO", Armed: true}})

	st := readUpdate(t, c, r)
	if st.Type != hub.TypeStatus || st.Status == nil || st.Status.State != link.Connected || st.Status.Protocol != 2 {
		t.Fatalf("unexpected status update %+v", st)
	}
	tel := readUpdate(t, c, r)
	if tel.Type != hub.TypeTelemetry || tel.Telemetry == nil || tel.Telemetry.Status == nil {
		t.Fatalf("unexpected telemetry update %+v", tel)
	}
	if tel.Telemetry.Status.FlightMode != "AUTO" || !tel.Telemetry.Connected {
		t.Fatalf("unexpected snapshot %+v", tel.Telemetry)
	}
	deadline := time.Now().Add(time.Second)
	for metrics.Snap().FeedTx < pre.FeedTx+2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected feed tx to advance by 2")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestSmokeLateJoinerGetsLatest(t *testing.T) {
	srv, h := startServer(t, nil)
	h.Status(link.Status{State: link.Weak})
	c, r := dial(t, srv.Addr())
	u := readUpdate(t, c, r)
	if u.Status == nil || u.Status.State != link.Weak {
		t.Fatalf("late joiner did not receive latest status: %+v", u)
	}
}

func TestSmokeCommands(t *testing.T) {
	ctl := &fakeCtl{}
	srv, h := startServer(t, nil, WithController(ctl), WithCommands(true))
	c, r := dial(t, srv.Addr())
	waitClients(t, h, 1)

	if _, err := c.Write([]byte("{\"cmd\":\"connect\",\"target\":\"tcp://10.0.0.2:5760\"}\n\n{\"cmd\":\"disconnect\"}\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if targets, d := ctl.snapshot(); len(targets) == 1 && d == 1 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	targets, d := ctl.snapshot()
	if len(targets) != 1 || targets[0] != "tcp://10.0.0.2:5760" || d != 1 {
		t.Fatalf("unexpected commands targets=%v disconnects=%d", targets, d)
	}

	if _, err := c.Write([]byte("{\"cmd\":\"arm\"}\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	u := readUpdate(t, c, r)
	if u.Type != hub.TypeError || u.Error == "" {
		t.Fatalf("expected error reply, got %+v", u)
	}
}

func TestSmokeCommandsDisabledByDefault(t *testing.T) {
	ctl := &fakeCtl{}
	srv, h := startServer(t, nil, WithController(ctl))
	c, r := dial(t, srv.Addr())
	waitClients(t, h, 1)

	if _, err := c.Write([]byte("{\"cmd\":\"connect\",\"target\":\"serial:///dev/ttyS0\"}\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	u := readUpdate(t, c, r)
	if u.Type != hub.TypeError || u.Error == "" {
		t.Fatalf("expected error reply, got %+v", u)
	}
	if targets, d := ctl.snapshot(); len(targets) != 0 || d != 0 {
		t.Fatalf("command reached controller: targets=%v disconnects=%d", targets, d)
	}
	if h.Count() != 1 {
		t.Fatalf("client should stay connected after a rejected command")
	}
}

func TestSmokeNonFiniteTelemetryKeepsClient(t *testing.T) {
	srv, h := startServer(t, nil)
	c, r := dial(t, srv.Addr())
	waitClients(t, h, 1)
	pre := metrics.Snap()

	// A snapshot JSON cannot carry is skipped without dropping the client.
	h.Telemetry(telemetry.Snapshot{Wind: &telemetry.Wind{Direction: math.NaN()}})

	agg := telemetry.New(telemetry.WithDiagnostics(telemetry.LogDiagnostics{Logger: srv.logger}))
	agg.Apply(mavlink.Frame{
		Header:  mavlink.Header{Magic: mavlink.MagicV2, Len: message.LenWind, SysID: 1, CompID: 1, MsgID: message.IDWind},
		Payload: mavtest.P(message.LenWind).F32(0, float32(math.NaN())).F32(4, 4.5),
	})
	h.Telemetry(agg.Snapshot())

	u := readUpdate(t, c, r)
	if u.Type != hub.TypeTelemetry || u.Telemetry == nil || u.Telemetry.Wind == nil {
		t.Fatalf("unexpected update %+v", u)
	}
	if u.Telemetry.Wind.Speed != 4.5 || u.Telemetry.Wind.Direction != 0 {
		t.Fatalf("unexpected wind %+v", u.Telemetry.Wind)
	}
	if h.Count() != 1 {
		t.Fatalf("client dropped after unencodable update")
	}
	if metrics.Snap().Errors <= pre.Errors {
		t.Fatalf("expected encode error to be counted")
	}
}

func TestHandleCommandErrors(t *testing.T) {
	srv := NewServer()
	if err := srv.handleCommand(`{"cmd":"connect"}`, srv.logger); !errors.Is(err, ErrCommand) {
		t.Fatalf("expected ErrCommand without controller, got %v", err)
	}
	ctl := &fakeCtl{err: link.ErrNoTarget}
	srv = NewServer(WithController(ctl), WithCommands(true))
	if err := srv.handleCommand(`not json`, srv.logger); !errors.Is(err, ErrCommand) {
		t.Fatalf("expected ErrCommand for bad json, got %v", err)
	}
	err := srv.handleCommand(`{"cmd":"connect"}`, srv.logger)
	if !errors.Is(err, ErrCommand) {
		t.Fatalf("expected wrapped connect error, got %v", err)
	}
	if mapErrToMetric(err) != metrics.ErrFeedRead {
		t.Fatalf("unexpected metric label %q", mapErrToMetric(err))
	}
}

func TestSmokeBackpressureKick(t *testing.T) {
	h := hub.New()
	h.OutBufSize = 1
	h.Policy = hub.PolicyKick
	srv, _ := startServer(t, h)
	_, _ = dial(t, srv.Addr())
	waitClients(t, h, 1)
	pre := metrics.Snap()
	// Broadcasting outpaces the JSON writer, so the one-slot queue overflows.
	snap := telemetry.Snapshot{Servos: &telemetry.Servos{}, RC: &telemetry.RC{}}
	deadline := time.Now().Add(3 * time.Second)
	for h.Count() > 0 && time.Now().Before(deadline) {
		h.Telemetry(snap)
	}
	waitClients(t, h, 0)
	if metrics.Snap().HubKicks <= pre.HubKicks {
		t.Fatalf("expected kick to be counted")
	}
}

func TestSmokeMaxClients(t *testing.T) {
	srv, h := startServer(t, nil, WithMaxClients(1))
	_, _ = dial(t, srv.Addr())
	waitClients(t, h, 1)
	pre := metrics.Snap()

	c2, _ := dial(t, srv.Addr())
	_ = c2.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := c2.Read(make([]byte, 8)); err == nil {
		t.Fatalf("expected rejected client to be closed")
	}
	if metrics.Snap().HubRejects != pre.HubRejects+1 {
		t.Fatalf("expected one rejection")
	}
	if h.Count() != 1 {
		t.Fatalf("rejected client must not be registered")
	}
}

func TestSmokeClientDisconnectUnregisters(t *testing.T) {
	srv, h := startServer(t, nil)
	c, _ := dial(t, srv.Addr())
	waitClients(t, h, 1)
	_ = c.Close()
	waitClients(t, h, 0)
}

func TestGracefulShutdown(t *testing.T) {
	srv, h := startServer(t, nil)
	c1, _ := dial(t, srv.Addr())
	c2, _ := dial(t, srv.Addr())
	waitClients(t, h, 2)

	sdCtx, sdCancel := context.WithTimeout(context.Background(), time.Second)
	defer sdCancel()
	if err := srv.Shutdown(sdCtx); err != nil {
		t.Fatalf("shutdown err: %v", err)
	}
	buf := make([]byte, 8)
	for i, c := range []net.Conn{c1, c2} {
		_ = c.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		if _, err := c.Read(buf); err == nil {
			t.Fatalf("expected c%d read to fail after shutdown", i+1)
		}
	}
	if h.Count() != 0 {
		t.Fatalf("expected hub to be empty after shutdown, have %d", h.Count())
	}
}

func BenchmarkServerWriter(b *testing.B) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := hub.New()
	h.OutBufSize = 1024
	srv := NewServer(WithHub(h))
	go func() { _ = srv.Serve(ctx) }()
	<-srv.Ready()
	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		b.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	go func() {
		buf := make([]byte, 1<<16)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()
	for h.Count() == 0 {
		time.Sleep(time.Millisecond)
	}
	snap := telemetry.Snapshot{Connected: true, Attitude: &telemetry.Attitude{Roll: 1, Pitch: 2, Yaw: 3}}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.Telemetry(snap)
	}
}

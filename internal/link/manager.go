// Package link owns one telemetry connection: it dials a target, feeds the
// byte stream through the MAVLink parser and aggregator, tracks vehicle
// liveness and reconnects after the link drops.
package link

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kstaniek/go-mavlink-telemetry/internal/logging"
	"github.com/kstaniek/go-mavlink-telemetry/internal/mavlink"
	"github.com/kstaniek/go-mavlink-telemetry/internal/metrics"
	"github.com/kstaniek/go-mavlink-telemetry/internal/telemetry"
	"github.com/kstaniek/go-mavlink-telemetry/internal/transport"
)

const (
	DefaultHeartbeatTimeout  = 3 * time.Second
	DefaultLivenessInterval  = time.Second
	DefaultReconnectInterval = 5 * time.Second
)

var (
	// ErrClosed is returned by Connect after Close.
	ErrClosed = errors.New("link: manager closed")
	// ErrNoTarget is returned by Connect when no target was ever given.
	ErrNoTarget = errors.New("link: no target")
)

// Sink receives snapshot and status updates. Calls are made with the
// manager's lock held and must not block or call back into the Manager.
type Sink interface {
	Telemetry(telemetry.Snapshot)
	Status(Status)
}

type nopSink struct{}

func (nopSink) Telemetry(telemetry.Snapshot) {}
func (nopSink) Status(Status)                {}

// Timer is the subset of *time.Timer the manager needs.
type Timer interface {
	Stop() bool
}

func realAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Option configures a Manager.
type Option func(*Manager)

func WithHeartbeatTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.hbTimeout = d
		}
	}
}

func WithLivenessInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.livenessEvery = d
		}
	}
}

func WithReconnectInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.reconnectAfter = d
		}
	}
}

// WithClock replaces the time source and timer factory (tests).
func WithClock(now func() time.Time, afterFunc func(time.Duration, func()) Timer) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
		if afterFunc != nil {
			m.afterFunc = afterFunc
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithVehicleID sets the system id whose heartbeats count as liveness.
func WithVehicleID(id uint8) Option { return func(m *Manager) { m.vehicleID = id } }

// WithDiagnostics forwards unknown ids, first sightings, frame errors and
// vehicle text to d.
func WithDiagnostics(d telemetry.Diagnostics) Option { return func(m *Manager) { m.diag = d } }

// Manager drives a single link through disconnected, connecting, connected,
// weak and error. All parsing and aggregation runs under mu; callbacks from
// a superseded connection are dropped by generation.
type Manager struct {
	dialer transport.Dialer
	sink   Sink
	log    *slog.Logger

	hbTimeout      time.Duration
	livenessEvery  time.Duration
	reconnectAfter time.Duration
	now            func() time.Time
	afterFunc      func(time.Duration, func()) Timer
	vehicleID      uint8
	diag           telemetry.Diagnostics

	mu         sync.Mutex
	parser     mavlink.Parser
	agg        *telemetry.Aggregator
	status     Status
	gen        uint64
	conn       transport.Conn
	cancelDial context.CancelFunc
	manual     bool
	closed     bool

	// timerSeq tags armed timers so a late fire of a replaced timer is ignored.
	liveness     Timer
	reconnect    Timer
	timerSeq     uint64
	livenessSeq  uint64
	reconnectSeq uint64

	wg sync.WaitGroup
}

// New returns an idle Manager. sink may be nil.
func New(dialer transport.Dialer, sink Sink, opts ...Option) *Manager {
	m := &Manager{
		dialer:         dialer,
		sink:           sink,
		log:            logging.L(),
		hbTimeout:      DefaultHeartbeatTimeout,
		livenessEvery:  DefaultLivenessInterval,
		reconnectAfter: DefaultReconnectInterval,
		now:            time.Now,
		afterFunc:      realAfterFunc,
		vehicleID:      telemetry.DefaultVehicleID,
	}
	if m.sink == nil {
		m.sink = nopSink{}
	}
	for _, o := range opts {
		o(m)
	}
	aggOpts := []telemetry.Option{telemetry.WithVehicleID(m.vehicleID), telemetry.WithClock(m.now)}
	if m.diag != nil {
		aggOpts = append(aggOpts, telemetry.WithDiagnostics(m.diag))
	}
	m.agg = telemetry.New(aggOpts...)
	metrics.SetLinkState(int(Disconnected))
	return m
}

// Connect starts connecting to target. An empty target reuses the previous
// one. Any existing connection is torn down first.
func (m *Manager) Connect(target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if target == "" {
		target = m.status.Target
	}
	if target == "" {
		return ErrNoTarget
	}
	m.stopTimersLocked()
	m.dropConnLocked()
	if target != m.status.Target {
		m.agg.Reset()
		m.status = Status{Target: target}
	}
	m.manual = false
	m.connectLocked()
	return nil
}

// Disconnect cancels pending timers, closes the transport and stays
// disconnected until the next Connect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manual = true
	m.stopTimersLocked()
	m.dropConnLocked()
	m.agg.SetConnected(false)
	if m.setStateLocked(Disconnected) {
		m.log.Info("link_disconnected", "target", m.status.Target, "session", m.status.Session, "reason", "manual")
	}
	m.sink.Telemetry(m.agg.Snapshot())
}

// Close disconnects and waits for the reader goroutine to exit.
func (m *Manager) Close() {
	m.Disconnect()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wg.Wait()
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Snapshot returns a deep copy of the aggregated telemetry.
func (m *Manager) Snapshot() telemetry.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.agg.Snapshot()
}

// Ready reports whether the vehicle is connected with fresh heartbeats.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status.State == Connected
}

func (m *Manager) connectLocked() {
	m.gen++
	gen := m.gen
	target := m.status.Target
	m.status.Session = uuid.NewString()
	m.status.Error = ""
	m.parser.Reset()
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelDial = cancel
	m.setStateLocked(Connecting)
	m.log.Info("link_connecting", "target", target, "session", m.status.Session)

	m.wg.Add(1)
	go m.run(ctx, gen, target)
}

// run owns one connection attempt from dial to close.
func (m *Manager) run(ctx context.Context, gen uint64, target string) {
	defer m.wg.Done()
	conn, err := m.dialer.Dial(ctx, target)
	if err != nil {
		m.handleError(gen, metrics.ErrLinkDial, err)
		m.handleClose(gen)
		return
	}
	if !m.handleOpen(gen, conn) {
		_ = conn.Close()
		return
	}
	for {
		chunk, err := conn.ReadChunk()
		if len(chunk) > 0 {
			m.handleData(gen, chunk)
		}
		if err != nil {
			if !transport.IsClosed(err) {
				m.handleError(gen, metrics.ErrLinkRead, err)
			}
			m.handleClose(gen)
			return
		}
	}
}

func (m *Manager) handleOpen(gen uint64, conn transport.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.manual || m.closed {
		return false
	}
	m.conn = conn
	m.status.LastHeartbeat = m.now()
	m.setStateLocked(Connected)
	m.armLivenessLocked(gen)
	m.log.Info("link_connected", "target", m.status.Target, "session", m.status.Session)
	return true
}

func (m *Manager) handleData(gen uint64, chunk []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	metrics.AddRxBytes(len(chunk))
	frames := m.parser.Ingest(chunk)
	if len(frames) == 0 {
		return
	}
	for _, f := range frames {
		eff := m.agg.Apply(f)
		m.status.Messages++
		m.status.Protocol = f.Header.Version()
		switch m.status.State {
		case Connected, Weak:
			if eff.Heartbeat {
				m.status.LastHeartbeat = m.now()
				if m.setStateLocked(Connected) {
					m.log.Info("link_recovered", "session", m.status.Session)
				}
			}
			if eff.PoorGPS && m.setStateLocked(Weak) {
				m.log.Warn("link_weak", "reason", "gps_hdop", "session", m.status.Session)
			}
		}
	}
	m.sink.Telemetry(m.agg.Snapshot())
}

func (m *Manager) handleError(gen uint64, where string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.manual {
		return
	}
	metrics.IncError(where)
	m.status.Error = err.Error()
	m.setStateLocked(Error)
	m.log.Warn("link_error", "where", where, "error", err, "target", m.status.Target, "session", m.status.Session)
}

func (m *Manager) handleClose(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.manual || m.closed {
		return
	}
	if m.liveness != nil {
		m.liveness.Stop()
		m.liveness = nil
	}
	m.conn = nil
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.agg.SetConnected(false)
	m.setStateLocked(Disconnected)
	m.log.Info("link_disconnected", "target", m.status.Target, "session", m.status.Session, "reason", "closed")
	m.sink.Telemetry(m.agg.Snapshot())
	m.scheduleReconnectLocked()
}

// scheduleReconnectLocked replaces any pending reconnect with a new one.
func (m *Manager) scheduleReconnectLocked() {
	if m.reconnect != nil {
		m.reconnect.Stop()
	}
	gen := m.gen
	m.timerSeq++
	seq := m.timerSeq
	m.reconnect = m.afterFunc(m.reconnectAfter, func() { m.reconnectNow(gen, seq) })
	m.reconnectSeq = seq
	m.log.Info("reconnect_scheduled", "in", m.reconnectAfter, "target", m.status.Target)
}

func (m *Manager) reconnectNow(gen, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.manual || m.closed || m.reconnect == nil || m.reconnectSeq != seq {
		return
	}
	m.reconnect = nil
	metrics.IncReconnect()
	m.connectLocked()
}

func (m *Manager) armLivenessLocked(gen uint64) {
	m.timerSeq++
	seq := m.timerSeq
	m.liveness = m.afterFunc(m.livenessEvery, func() { m.checkLiveness(gen, seq) })
	m.livenessSeq = seq
}

// checkLiveness downgrades a silent link to weak and re-arms itself until
// the connection closes.
func (m *Manager) checkLiveness(gen, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.liveness == nil || m.livenessSeq != seq {
		return
	}
	age := m.now().Sub(m.status.LastHeartbeat)
	metrics.SetHeartbeatAge(age.Seconds())
	if age > m.hbTimeout && (m.status.State == Connected || m.status.State == Weak) {
		m.agg.SetConnected(false)
		if m.setStateLocked(Weak) {
			m.log.Warn("link_weak", "reason", "heartbeat_timeout", "age", age, "session", m.status.Session)
			m.sink.Telemetry(m.agg.Snapshot())
		}
	}
	m.armLivenessLocked(gen)
}

func (m *Manager) stopTimersLocked() {
	if m.liveness != nil {
		m.liveness.Stop()
		m.liveness = nil
	}
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
}

// dropConnLocked abandons the current attempt; its goroutine sees a stale
// generation and exits.
func (m *Manager) dropConnLocked() {
	m.gen++
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			m.log.Debug("link_close_error", "error", err)
		}
		m.conn = nil
	}
}

// setStateLocked publishes a status update when the state changes.
func (m *Manager) setStateLocked(s State) bool {
	if m.status.State == s && s != Connecting {
		return false
	}
	m.status.State = s
	metrics.SetLinkState(int(s))
	m.sink.Status(m.status)
	return true
}

package hub

import (
	"sync"
	"time"

	"github.com/kstaniek/go-mavlink-telemetry/internal/link"
	"github.com/kstaniek/go-mavlink-telemetry/internal/logging"
	"github.com/kstaniek/go-mavlink-telemetry/internal/metrics"
	"github.com/kstaniek/go-mavlink-telemetry/internal/telemetry"
)

type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

// ParsePolicy maps "drop" or "kick" to a policy.
func ParsePolicy(s string) (BackpressurePolicy, bool) {
	switch s {
	case "drop":
		return PolicyDrop, true
	case "kick":
		return PolicyKick, true
	}
	return PolicyDrop, false
}

const (
	TypeTelemetry = "telemetry"
	TypeStatus    = "status"
	TypeError     = "error"
)

// Update is one message fanned out to subscribers. Exactly one of
// Telemetry, Status and Error is set.
type Update struct {
	Type      string              `json:"type"`
	Time      time.Time           `json:"time"`
	Telemetry *telemetry.Snapshot `json:"telemetry,omitempty"`
	Status    *link.Status        `json:"status,omitempty"`
	Error     string              `json:"error,omitempty"`
}

type Client struct {
	Out       chan Update
	Closed    chan struct{}
	closeOnce sync.Once
}

// NewClient returns a client with an outbound buffer of size buf.
func NewClient(buf int) *Client {
	if buf <= 0 {
		buf = 1
	}
	return &Client{Out: make(chan Update, buf), Closed: make(chan struct{})}
}

// Close signals the client is closed (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Closed)
	})
}

type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	OutBufSize int
	Policy     BackpressurePolicy

	latestMu  sync.RWMutex
	telemetry *telemetry.Snapshot
	status    *link.Status
	now       func() time.Time
}

// New creates a Hub with default settings.
func New() *Hub { return &Hub{clients: make(map[*Client]struct{}), now: time.Now} }

// Add registers a client with the hub and queues the latest status and
// telemetry so a new subscriber does not start blank.
func (h *Hub) Add(c *Client) {
	for _, u := range h.Latest() {
		select {
		case c.Out <- u:
		default:
		}
	}
	h.mu.Lock()
	prev := len(h.clients)
	h.clients[c] = struct{}{}
	cur := len(h.clients)
	h.mu.Unlock()
	metrics.SetHubClients(cur)
	if prev == 0 && cur == 1 {
		logging.L().Info("clients_first_connected")
	}
}

// Remove unregisters a client and updates metrics; safe to call multiple times.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	if existed {
		delete(h.clients, c)
	}
	cur := len(h.clients)
	h.mu.Unlock()
	select {
	case <-c.Closed:
	default:
		c.Close()
	}
	metrics.SetHubClients(cur)
	if existed && cur == 0 {
		logging.L().Info("clients_last_disconnected")
	}
}

// Telemetry implements link.Sink.
func (h *Hub) Telemetry(s telemetry.Snapshot) {
	h.latestMu.Lock()
	h.telemetry = &s
	h.latestMu.Unlock()
	h.Broadcast(Update{Type: TypeTelemetry, Time: h.now(), Telemetry: &s})
}

// Status implements link.Sink.
func (h *Hub) Status(s link.Status) {
	h.latestMu.Lock()
	h.status = &s
	h.latestMu.Unlock()
	h.Broadcast(Update{Type: TypeStatus, Time: h.now(), Status: &s})
}

// Latest returns the last status and telemetry updates seen, status first.
func (h *Hub) Latest() []Update {
	h.latestMu.RLock()
	defer h.latestMu.RUnlock()
	var out []Update
	if h.status != nil {
		out = append(out, Update{Type: TypeStatus, Time: h.now(), Status: h.status})
	}
	if h.telemetry != nil {
		out = append(out, Update{Type: TypeTelemetry, Time: h.now(), Telemetry: h.telemetry})
	}
	return out
}

// Broadcast sends an update to all connected clients honoring the
// backpressure policy. Updates are shared between clients and must be
// treated as read-only.
func (h *Hub) Broadcast(u Update) {
	clients := h.Snapshot()
	metrics.SetBroadcastFanout(len(clients))
	// queue depth sampling
	if len(clients) > 0 {
		max := 0
		for _, c := range clients {
			if l := len(c.Out); l > max {
				max = l
			}
		}
		metrics.SetQueueDepthMax(max)
	}
	for _, c := range clients {
		select {
		case c.Out <- u:
		default:
			if h.Policy == PolicyKick {
				metrics.IncHubKick()
				c.Close() // signal writer to exit; server will Remove on disconnect
			} else {
				metrics.IncHubDrop()
			}
		}
	}
}

// Snapshot returns a slice copy of current clients (read-only use).
func (h *Hub) Snapshot() []*Client {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	return clients
}

// Count returns the number of active clients.
func (h *Hub) Count() int { h.mu.RLock(); n := len(h.clients); h.mu.RUnlock(); return n }

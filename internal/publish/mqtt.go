// Package publish mirrors hub updates to an MQTT broker: throttled
// telemetry snapshots and retained link status.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kstaniek/go-mavlink-telemetry/internal/hub"
	"github.com/kstaniek/go-mavlink-telemetry/internal/logging"
	"github.com/kstaniek/go-mavlink-telemetry/internal/metrics"
)

const (
	DefaultTopic    = "mavtel"
	DefaultInterval = time.Second

	connectTimeout  = 10 * time.Second
	publishTimeout  = 5 * time.Second
	backoffMin      = 500 * time.Millisecond
	backoffMax      = 30 * time.Second
	subscriberQueue = 32
)

// ErrNoBroker is returned by New when no broker URL is configured.
var ErrNoBroker = errors.New("publish: no broker")

// Config selects the broker and topic layout.
type Config struct {
	Broker   string        // tcp://host:1883
	Topic    string        // prefix; telemetry goes to <Topic>/telemetry
	ClientID string        // defaults to mavtel-<random>
	Interval time.Duration // minimum spacing between telemetry publishes
	QoS      byte
}

// client is the slice of mqtt.Client the publisher uses.
type client interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// newClient is a hook for tests.
var newClient = func(o *mqtt.ClientOptions) client { return mqtt.NewClient(o) }

// Publisher consumes hub updates and publishes them.
type Publisher struct {
	cfg    Config
	log    *slog.Logger
	client client
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) bool
}

// Option configures a Publisher.
type Option func(*Publisher)

func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.log = l
		}
	}
}

// New validates cfg and prepares an unconnected client. The client's will
// marks the status topic offline if the process dies.
func New(cfg Config, opts ...Option) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, ErrNoBroker
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "mavtel-" + uuid.NewString()[:8]
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("publish: invalid qos %d", cfg.QoS)
	}
	p := &Publisher{cfg: cfg, log: logging.L(), now: time.Now, sleep: sleepCtx}
	for _, o := range opts {
		o(p)
	}
	mqtt.ERROR = pahoLogger{l: p.log, level: slog.LevelError}
	mqtt.CRITICAL = pahoLogger{l: p.log, level: slog.LevelError}
	mqtt.WARN = pahoLogger{l: p.log, level: slog.LevelWarn}

	o := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(30*time.Second).
		SetWill(p.StatusTopic(), `{"state":"offline"}`, cfg.QoS, true).
		SetOnConnectHandler(func(mqtt.Client) { p.log.Info("mqtt_connected", "broker", cfg.Broker) }).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			metrics.IncError(metrics.ErrMQTTConnect)
			p.log.Warn("mqtt_connection_lost", "broker", cfg.Broker, "error", err)
		})
	p.client = newClient(o)
	return p, nil
}

func (p *Publisher) TelemetryTopic() string { return p.cfg.Topic + "/telemetry" }
func (p *Publisher) StatusTopic() string    { return p.cfg.Topic + "/status" }

// Run connects (retrying with backoff) and publishes until ctx is done.
// Status updates go out immediately and retained; telemetry is coalesced to
// at most one publish per Interval.
func (p *Publisher) Run(ctx context.Context, h *hub.Hub) error {
	if err := p.connect(ctx); err != nil {
		return err
	}
	defer p.client.Disconnect(250)

	cl := hub.NewClient(subscriberQueue)
	h.Add(cl)
	defer func() { h.Remove(cl) }()

	t := time.NewTicker(p.cfg.Interval)
	defer t.Stop()
	var pending *hub.Update
	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-cl.Closed:
			// Kicked by the hub for falling behind; the latest state is
			// replayed on the new subscription.
			p.log.Warn("mqtt_subscriber_kicked", "queue", subscriberQueue)
			h.Remove(cl)
			cl = hub.NewClient(subscriberQueue)
			h.Add(cl)
		case u := <-cl.Out:
			switch u.Type {
			case hub.TypeStatus:
				p.publish(p.StatusTopic(), true, u.Status)
			case hub.TypeTelemetry:
				if p.now().Sub(last) >= p.cfg.Interval {
					p.publish(p.TelemetryTopic(), false, u.Telemetry)
					last = p.now()
					pending = nil
				} else {
					pending = &u
				}
			}
		case <-t.C:
			if pending != nil && p.now().Sub(last) >= p.cfg.Interval {
				p.publish(p.TelemetryTopic(), false, pending.Telemetry)
				last = p.now()
				pending = nil
			}
		}
	}
}

func (p *Publisher) connect(ctx context.Context) error {
	backoff := backoffMin
	for {
		tok := p.client.Connect()
		if !tok.WaitTimeout(connectTimeout) {
			metrics.IncError(metrics.ErrMQTTConnect)
			p.log.Warn("mqtt_connect_timeout", "broker", p.cfg.Broker)
		} else if err := tok.Error(); err != nil {
			metrics.IncError(metrics.ErrMQTTConnect)
			p.log.Warn("mqtt_connect_error", "broker", p.cfg.Broker, "error", err, "backoff", backoff)
		} else {
			return nil
		}
		if !p.sleep(ctx, backoff) {
			return ctx.Err()
		}
		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

func (p *Publisher) publish(topic string, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		metrics.IncError(metrics.ErrMQTTPublish)
		p.log.Error("mqtt_encode_error", "topic", topic, "error", err)
		return
	}
	tok := p.client.Publish(topic, p.cfg.QoS, retained, payload)
	if p.cfg.QoS > 0 && !tok.WaitTimeout(publishTimeout) {
		metrics.IncError(metrics.ErrMQTTPublish)
		p.log.Warn("mqtt_publish_timeout", "topic", topic)
		return
	}
	if err := tok.Error(); err != nil {
		metrics.IncError(metrics.ErrMQTTPublish)
		p.log.Warn("mqtt_publish_error", "topic", topic, "error", err)
		return
	}
	metrics.IncMQTTPublish()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// pahoLogger routes the client library's internal logging into slog.
type pahoLogger struct {
	l     *slog.Logger
	level slog.Level
}

func (p pahoLogger) Println(v ...interface{}) {
	p.l.Log(context.Background(), p.level, "mqtt_client", "detail", fmt.Sprint(v...))
}

func (p pahoLogger) Printf(format string, v ...interface{}) {
	p.l.Log(context.Background(), p.level, "mqtt_client", "detail", fmt.Sprintf(format, v...))
}

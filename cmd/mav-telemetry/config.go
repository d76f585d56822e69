package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/kstaniek/go-mavlink-telemetry/internal/link"
	"github.com/kstaniek/go-mavlink-telemetry/internal/publish"
)

const envPrefix = "MAVTEL_"

type appConfig struct {
	configFile      string
	target          string
	vehicleID       int
	heartbeatTO     time.Duration
	livenessEvery   time.Duration
	reconnectEvery  time.Duration
	serialReadTO    time.Duration
	listenAddr      string
	feedCommands    bool
	maxClients      int
	hubBuffer       int
	hubPolicy       string
	metricsAddr     string
	logFormat       string
	logLevel        string
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
	mqttBroker      string
	mqttTopic       string
	mqttClientID    string
	mqttInterval    time.Duration
}

// bindFlags registers every option on fs with its default.
func bindFlags(fs *flag.FlagSet, c *appConfig) *bool {
	fs.StringVar(&c.configFile, "config", "", "Optional TOML config file (flags and env take precedence)")
	fs.StringVar(&c.target, "target", "udp://:14550", "Telemetry link: udp://[host]:port, tcp://host:port, ws(s)://..., serial:///dev/ttyUSB0?baud=57600, pcap:///file.pcap?speed=1")
	fs.IntVar(&c.vehicleID, "vehicle-id", 1, "MAVLink system id of the tracked vehicle")
	fs.DurationVar(&c.heartbeatTO, "heartbeat-timeout", link.DefaultHeartbeatTimeout, "Heartbeat age after which the link is weak")
	fs.DurationVar(&c.livenessEvery, "liveness-interval", link.DefaultLivenessInterval, "Heartbeat age check interval")
	fs.DurationVar(&c.reconnectEvery, "reconnect-interval", link.DefaultReconnectInterval, "Delay before reconnecting a dropped link")
	fs.DurationVar(&c.serialReadTO, "serial-read-timeout", 100*time.Millisecond, "Serial read timeout")
	fs.StringVar(&c.listenAddr, "listen", ":5770", "JSON feed TCP listen address; empty disables")
	fs.BoolVar(&c.feedCommands, "feed-commands", false, "Accept connect/disconnect commands from feed clients (lets any client retarget the link)")
	fs.IntVar(&c.maxClients, "max-clients", 0, "Maximum simultaneous feed clients (0 = unlimited)")
	fs.IntVar(&c.hubBuffer, "hub-buffer", 64, "Per-client hub buffer (updates)")
	fs.StringVar(&c.hubPolicy, "hub-policy", "drop", "Backpressure policy: drop|kick")
	fs.StringVar(&c.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	fs.StringVar(&c.logFormat, "log-format", "text", "Log format: text|json")
	fs.StringVar(&c.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.DurationVar(&c.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	fs.BoolVar(&c.mdnsEnable, "mdns-enable", false, "Advertise the JSON feed via mDNS")
	fs.StringVar(&c.mdnsName, "mdns-name", "", "mDNS instance name (default mavtel-<hostname>)")
	fs.StringVar(&c.mqttBroker, "mqtt-broker", "", "MQTT broker URL (e.g., tcp://localhost:1883); empty disables")
	fs.StringVar(&c.mqttTopic, "mqtt-topic", publish.DefaultTopic, "MQTT topic prefix")
	fs.StringVar(&c.mqttClientID, "mqtt-client-id", "", "MQTT client id (default mavtel-<random>)")
	fs.DurationVar(&c.mqttInterval, "mqtt-interval", publish.DefaultInterval, "Minimum spacing of MQTT telemetry publishes")
	return fs.Bool("version", false, "Print version and exit")
}

// parseArgs resolves configuration with precedence flag > env > file > default.
func parseArgs(args []string, stderr io.Writer) (*appConfig, bool, error) {
	fs := flag.NewFlagSet("mav-telemetry", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfg := &appConfig{}
	showVersion := bindFlags(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}
	if *showVersion {
		return cfg, true, nil
	}
	// Track which flags were explicitly set to give them precedence over env and file.
	setFlags := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	if cfg.configFile != "" {
		if err := applyFile(cfg, cfg.configFile, setFlags); err != nil {
			return nil, false, err
		}
	}
	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		return nil, false, fmt.Errorf("environment override error: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, false, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, false, nil
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open links or listeners, only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if c.target == "" {
		return errors.New("target must be set")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.hubPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid hub-policy: %s", c.hubPolicy)
	}
	if c.vehicleID < 1 || c.vehicleID > 255 {
		return fmt.Errorf("vehicle-id must be 1..255 (got %d)", c.vehicleID)
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.heartbeatTO <= 0 {
		return fmt.Errorf("heartbeat-timeout must be > 0")
	}
	if c.livenessEvery <= 0 {
		return fmt.Errorf("liveness-interval must be > 0")
	}
	if c.reconnectEvery <= 0 {
		return fmt.Errorf("reconnect-interval must be > 0")
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return fmt.Errorf("max-clients must be >= 0")
	}
	if c.mqttBroker != "" && c.mqttInterval <= 0 {
		return fmt.Errorf("mqtt-interval must be > 0")
	}
	return nil
}

// fileConfig mirrors the flags; keys are the flag names with underscores.
type fileConfig struct {
	Target             string        `toml:"target"`
	VehicleID          int           `toml:"vehicle_id"`
	HeartbeatTimeout   time.Duration `toml:"heartbeat_timeout"`
	LivenessInterval   time.Duration `toml:"liveness_interval"`
	ReconnectInterval  time.Duration `toml:"reconnect_interval"`
	SerialReadTimeout  time.Duration `toml:"serial_read_timeout"`
	Listen             string        `toml:"listen"`
	FeedCommands       bool          `toml:"feed_commands"`
	MaxClients         int           `toml:"max_clients"`
	HubBuffer          int           `toml:"hub_buffer"`
	HubPolicy          string        `toml:"hub_policy"`
	MetricsAddr        string        `toml:"metrics_addr"`
	LogFormat          string        `toml:"log_format"`
	LogLevel           string        `toml:"log_level"`
	LogMetricsInterval time.Duration `toml:"log_metrics_interval"`
	MDNSEnable         bool          `toml:"mdns_enable"`
	MDNSName           string        `toml:"mdns_name"`
	MQTTBroker         string        `toml:"mqtt_broker"`
	MQTTTopic          string        `toml:"mqtt_topic"`
	MQTTClientID       string        `toml:"mqtt_client_id"`
	MQTTInterval       time.Duration `toml:"mqtt_interval"`
}

// applyFile loads a TOML file and copies every key it defines unless the
// matching flag was set explicitly. Unknown keys are rejected.
func applyFile(c *appConfig, path string, set map[string]struct{}) error {
	var fc fileConfig
	md, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	if und := md.Undecoded(); len(und) > 0 {
		return fmt.Errorf("config file %s: unknown keys %v", path, und)
	}
	use := func(flagName string) bool {
		if _, explicit := set[flagName]; explicit {
			return false
		}
		return md.IsDefined(strings.ReplaceAll(flagName, "-", "_"))
	}
	if use("target") {
		c.target = fc.Target
	}
	if use("vehicle-id") {
		c.vehicleID = fc.VehicleID
	}
	if use("heartbeat-timeout") {
		c.heartbeatTO = fc.HeartbeatTimeout
	}
	if use("liveness-interval") {
		c.livenessEvery = fc.LivenessInterval
	}
	if use("reconnect-interval") {
		c.reconnectEvery = fc.ReconnectInterval
	}
	if use("serial-read-timeout") {
		c.serialReadTO = fc.SerialReadTimeout
	}
	if use("listen") {
		c.listenAddr = fc.Listen
	}
	if use("feed-commands") {
		c.feedCommands = fc.FeedCommands
	}
	if use("max-clients") {
		c.maxClients = fc.MaxClients
	}
	if use("hub-buffer") {
		c.hubBuffer = fc.HubBuffer
	}
	if use("hub-policy") {
		c.hubPolicy = fc.HubPolicy
	}
	if use("metrics-addr") {
		c.metricsAddr = fc.MetricsAddr
	}
	if use("log-format") {
		c.logFormat = fc.LogFormat
	}
	if use("log-level") {
		c.logLevel = fc.LogLevel
	}
	if use("log-metrics-interval") {
		c.logMetricsEvery = fc.LogMetricsInterval
	}
	if use("mdns-enable") {
		c.mdnsEnable = fc.MDNSEnable
	}
	if use("mdns-name") {
		c.mdnsName = fc.MDNSName
	}
	if use("mqtt-broker") {
		c.mqttBroker = fc.MQTTBroker
	}
	if use("mqtt-topic") {
		c.mqttTopic = fc.MQTTTopic
	}
	if use("mqtt-client-id") {
		c.mqttClientID = fc.MQTTClientID
	}
	if use("mqtt-interval") {
		c.mqttInterval = fc.MQTTInterval
	}
	return nil
}

// envName maps a flag name to its MAVTEL_* variable.
func envName(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// applyEnvOverrides maps MAVTEL_* environment variables to config fields
// unless a corresponding flag was explicitly set. Empty values are ignored.
// Durations accept Go time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	fail := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}
	lookup := func(flagName string) (string, bool) {
		if _, explicit := set[flagName]; explicit {
			return "", false
		}
		v, ok := os.LookupEnv(envName(flagName))
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	str := func(flagName string, dst *string) {
		if v, ok := lookup(flagName); ok {
			*dst = v
		}
	}
	num := func(flagName string, min int, dst *int) {
		if v, ok := lookup(flagName); ok {
			n, err := strconv.Atoi(v)
			switch {
			case err != nil:
				fail(fmt.Errorf("invalid %s: %w", envName(flagName), err))
			case n < min:
				fail(fmt.Errorf("invalid %s: %d < %d", envName(flagName), n, min))
			default:
				*dst = n
			}
		}
	}
	dur := func(flagName string, dst *time.Duration) {
		if v, ok := lookup(flagName); ok {
			d, err := time.ParseDuration(v)
			switch {
			case err != nil:
				fail(fmt.Errorf("invalid %s: %w", envName(flagName), err))
			case d < 0:
				fail(fmt.Errorf("invalid %s: negative duration", envName(flagName)))
			default:
				*dst = d
			}
		}
	}
	boolean := func(flagName string, dst *bool) {
		if v, ok := lookup(flagName); ok {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off":
				*dst = false
			default:
				fail(fmt.Errorf("invalid %s: %q", envName(flagName), v))
			}
		}
	}

	str("target", &c.target)
	num("vehicle-id", 1, &c.vehicleID)
	dur("heartbeat-timeout", &c.heartbeatTO)
	dur("liveness-interval", &c.livenessEvery)
	dur("reconnect-interval", &c.reconnectEvery)
	dur("serial-read-timeout", &c.serialReadTO)
	str("listen", &c.listenAddr)
	boolean("feed-commands", &c.feedCommands)
	num("max-clients", 0, &c.maxClients)
	num("hub-buffer", 1, &c.hubBuffer)
	str("hub-policy", &c.hubPolicy)
	str("log-format", &c.logFormat)
	str("log-level", &c.logLevel)
	dur("log-metrics-interval", &c.logMetricsEvery)
	boolean("mdns-enable", &c.mdnsEnable)
	str("mdns-name", &c.mdnsName)
	str("mqtt-broker", &c.mqttBroker)
	str("mqtt-topic", &c.mqttTopic)
	str("mqtt-client-id", &c.mqttClientID)
	dur("mqtt-interval", &c.mqttInterval)
	// An empty MAVTEL_METRICS_ADDR disables metrics, so it is not skipped.
	if _, explicit := set["metrics-addr"]; !explicit {
		if v, ok := os.LookupEnv(envName("metrics-addr")); ok {
			c.metricsAddr = strings.TrimSpace(v)
		}
	}
	return firstErr
}

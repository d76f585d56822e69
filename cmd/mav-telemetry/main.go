package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/go-mavlink-telemetry/internal/link"
	"github.com/kstaniek/go-mavlink-telemetry/internal/metrics"
	"github.com/kstaniek/go-mavlink-telemetry/internal/publish"
	"github.com/kstaniek/go-mavlink-telemetry/internal/server"
	"github.com/kstaniek/go-mavlink-telemetry/internal/telemetry"
	"github.com/kstaniek/go-mavlink-telemetry/internal/transport"
)

func main() {
	cfg, showVersion, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if showVersion {
		fmt.Printf("mav-telemetry %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	h := initHub(cfg, l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	registry := transport.NewRegistry(
		transport.WithSerialReadTimeout(cfg.serialReadTO),
		transport.WithLogger(l),
	)
	mgr := link.New(registry, h,
		link.WithHeartbeatTimeout(cfg.heartbeatTO),
		link.WithLivenessInterval(cfg.livenessEvery),
		link.WithReconnectInterval(cfg.reconnectEvery),
		link.WithVehicleID(uint8(cfg.vehicleID)),
		link.WithDiagnostics(telemetry.LogDiagnostics{Logger: l}),
		link.WithLogger(l),
	)
	defer mgr.Close()

	var srv *server.Server
	if cfg.listenAddr != "" {
		srv = server.NewServer(
			server.WithHub(h),
			server.WithController(mgr),
			server.WithCommands(cfg.feedCommands),
			server.WithLogger(l),
			server.WithMaxClients(cfg.maxClients),
		)
		srv.SetListenAddr(cfg.listenAddr)
		go func() {
			if err := srv.Serve(ctx); err != nil {
				l.Error("feed_server_error", "error", err)
				cancel()
			}
		}()
		if cfg.feedCommands {
			l.Warn("feed_commands_enabled", "listen", cfg.listenAddr)
		}
		go advertise(ctx, cfg, srv, l)
	}

	if cfg.mqttBroker != "" {
		pub, err := publish.New(publish.Config{
			Broker:   cfg.mqttBroker,
			Topic:    cfg.mqttTopic,
			ClientID: cfg.mqttClientID,
			Interval: cfg.mqttInterval,
		}, publish.WithLogger(l))
		if err != nil {
			l.Error("mqtt_init_error", "error", err)
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pub.Run(ctx, h); err != nil && !errors.Is(err, context.Canceled) {
				l.Error("mqtt_error", "error", err)
			}
		}()
	}

	// Ready once a vehicle heartbeat arrived and, when enabled, the feed listener is bound.
	metrics.SetReadinessFunc(func() bool {
		if srv != nil {
			select {
			case <-srv.Ready():
			default:
				return false
			}
		}
		return ctx.Err() == nil && mgr.Ready()
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr, mountTelemetry(mgr))
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	if err := mgr.Connect(cfg.target); err != nil {
		l.Error("link_connect_error", "target", cfg.target, "error", err)
		return
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case <-ctx.Done():
	}
	cancel()
	mgr.Close()
	if srv != nil {
		sctx, scancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := srv.Shutdown(sctx); err != nil {
			l.Warn("feed_shutdown_error", "error", err)
		}
		scancel()
	}
	wg.Wait()
}

// advertise registers the feed via mDNS once its listener is bound.
func advertise(ctx context.Context, cfg *appConfig, srv *server.Server, l *slog.Logger) {
	if !cfg.mdnsEnable {
		return
	}
	select {
	case <-srv.Ready():
	case <-ctx.Done():
		return
	}
	port := listenPort(srv.Addr())
	cleanup, err := startMDNS(ctx, cfg, port)
	if err != nil {
		l.Warn("mdns_start_failed", "error", err)
		return
	}
	l.Info("mdns_started", "service", mdnsServiceType, "name", mdnsInstance(cfg), "port", port)
	go func() { <-ctx.Done(); cleanup() }()
}

// listenPort extracts the port from host:port or :port; 0 if unparsable.
func listenPort(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return 0
	}
	return n
}

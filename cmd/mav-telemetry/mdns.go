package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
)

const mdnsServiceType = "_mavtel._tcp"

// startMDNS advertises the JSON feed and returns a cleanup function.
// It is a no-op when disabled.
func startMDNS(ctx context.Context, cfg *appConfig, port int) (func(), error) {
	if !cfg.mdnsEnable {
		return func() {}, nil
	}
	svc, err := zeroconf.Register(mdnsInstance(cfg), mdnsServiceType, "local.", port, mdnsMeta(cfg), nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); svc.Shutdown(); time.Sleep(50 * time.Millisecond) }, nil
}

func mdnsInstance(cfg *appConfig) string {
	if cfg.mdnsName != "" {
		return cfg.mdnsName
	}
	host, _ := os.Hostname()
	return fmt.Sprintf("mavtel-%s", host)
}

// mdnsMeta builds the TXT records. Only the link scheme is published, never
// the full target.
func mdnsMeta(cfg *appConfig) []string {
	scheme := "unknown"
	if u, err := url.Parse(cfg.target); err == nil && u.Scheme != "" {
		scheme = u.Scheme
	}
	return []string{
		"link=" + scheme,
		fmt.Sprintf("vehicle=%d", cfg.vehicleID),
		"version=" + version,
		"commit=" + commit,
	}
}

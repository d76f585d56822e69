package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-mavlink-telemetry/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"rx_bytes", snap.RxBytes,
					"frames_v1", snap.FramesV1,
					"frames_v2", snap.FramesV2,
					"discarded", snap.Discarded,
					"decoded", snap.Decoded,
					"skipped", snap.Skipped,
					"unknown", snap.Unknown,
					"frame_errors", snap.FrameErrs,
					"link_state", snap.LinkState,
					"reconnects", snap.Reconnects,
					"hub_clients", snap.HubClients,
					"hub_drops", snap.HubDrops,
					"hub_kicks", snap.HubKicks,
					"feed_tx", snap.FeedTx,
					"mqtt_published", snap.MQTT,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}

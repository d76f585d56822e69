package main

import (
	"log/slog"
	"os"

	"github.com/kstaniek/go-mavlink-telemetry/internal/logging"
)

func setupLogger(format, level string) *slog.Logger {
	l := logging.New(format, logging.ParseLevel(level), os.Stderr).With("app", "mav-telemetry")
	logging.Set(l)
	return l
}

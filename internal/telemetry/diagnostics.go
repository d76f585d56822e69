package telemetry

import (
	"context"
	"log/slog"

	"github.com/kstaniek/go-mavlink-telemetry/internal/logging"
	"github.com/kstaniek/go-mavlink-telemetry/internal/mavlink"
	"github.com/kstaniek/go-mavlink-telemetry/internal/message"
)

// Diagnostics receives events that are useful when bringing up a new
// vehicle or firmware but are not errors of the link itself.
type Diagnostics interface {
	// UnknownMessage is called once per message id outside the catalog.
	UnknownMessage(h mavlink.Header, payload []byte)
	// FirstSeen is called the first time a watched message decodes.
	FirstSeen(h mavlink.Header, decoded any, payload []byte)
	// FrameError is called when decoding or applying a frame panicked.
	FrameError(h mavlink.Header, err error)
	// StatusText forwards STATUSTEXT messages from the vehicle.
	StatusText(h mavlink.Header, severity uint8, text string)
}

// LogDiagnostics writes diagnostics to a slog logger.
type LogDiagnostics struct {
	Logger *slog.Logger // nil means logging.L()
}

func (d LogDiagnostics) l() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return logging.L()
}

func (d LogDiagnostics) UnknownMessage(h mavlink.Header, payload []byte) {
	d.l().Debug("unknown_message", "msgid", h.MsgID, "sysid", h.SysID, "compid", h.CompID,
		"dump", message.Dump(h.MsgID, payload))
}

func (d LogDiagnostics) FirstSeen(h mavlink.Header, decoded any, payload []byte) {
	d.l().Info("first_message", "msg", message.Name(h.MsgID), "sysid", h.SysID, "compid", h.CompID,
		"decoded", decoded, "dump", message.Dump(h.MsgID, payload))
}

func (d LogDiagnostics) FrameError(h mavlink.Header, err error) {
	d.l().Warn("frame_error", "msg", message.Name(h.MsgID), "sysid", h.SysID, "error", err)
}

// StatusText maps MAV_SEVERITY onto slog levels: EMERGENCY..ERROR are
// errors, WARNING is a warning, the rest is info.
func (d LogDiagnostics) StatusText(h mavlink.Header, severity uint8, text string) {
	level := slog.LevelInfo
	switch {
	case severity <= 3:
		level = slog.LevelError
	case severity == 4:
		level = slog.LevelWarn
	}
	d.l().Log(context.Background(), level, "vehicle_text", "sysid", h.SysID, "severity", severity, "text", text)
}

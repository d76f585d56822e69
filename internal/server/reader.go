package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/kstaniek/go-mavlink-telemetry/internal/hub"
	"github.com/kstaniek/go-mavlink-telemetry/internal/metrics"
)

const maxCommandLine = 4096

// Command is a control request sent by a feed client, one JSON object per line:
//
//	{"cmd":"connect","target":"udp://:14550"}
//	{"cmd":"disconnect"}
type Command struct {
	Cmd    string `json:"cmd"`
	Target string `json:"target,omitempty"`
}

// startReader consumes client commands until the connection closes.
func (s *Server) startReader(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cl.Close()
		sc := bufio.NewScanner(conn)
		sc.Buffer(make([]byte, 0, 256), maxCommandLine)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			if err := s.handleCommand(line, logger); err != nil {
				metrics.IncError(mapErrToMetric(err))
				logger.Warn("client_command_error", "error", err)
				reply(cl, err)
			}
			select {
			case <-ctxDone:
				return
			default:
			}
		}
		if err := sc.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
			wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
			metrics.IncError(mapErrToMetric(wrap))
			s.setError(wrap)
		}
	}()
}

func (s *Server) handleCommand(line string, logger *slog.Logger) error {
	var c Command
	if err := json.Unmarshal([]byte(line), &c); err != nil {
		return fmt.Errorf("%w: %v", ErrCommand, err)
	}
	if s.Ctl == nil || !s.commands {
		return fmt.Errorf("%w: link control disabled", ErrCommand)
	}
	s.totalCommands.Add(1)
	switch c.Cmd {
	case "connect":
		logger.Info("client_command", "cmd", c.Cmd, "target", c.Target)
		if err := s.Ctl.Connect(c.Target); err != nil {
			return fmt.Errorf("%w: connect: %v", ErrCommand, err)
		}
	case "disconnect":
		logger.Info("client_command", "cmd", c.Cmd)
		s.Ctl.Disconnect()
	default:
		return fmt.Errorf("%w: unknown command %q", ErrCommand, c.Cmd)
	}
	return nil
}

// reply queues an error update for one client without blocking.
func reply(cl *hub.Client, err error) {
	select {
	case cl.Out <- hub.Update{Type: hub.TypeError, Time: time.Now(), Error: err.Error()}:
	default:
	}
}

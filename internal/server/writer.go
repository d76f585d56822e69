package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-mavlink-telemetry/internal/hub"
	"github.com/kstaniek/go-mavlink-telemetry/internal/metrics"
)

// startWriter launches the goroutine pushing hub updates to a single client
// connection, one JSON object per line.
func (s *Server) startWriter(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			s.forget(cl)
			s.totalDisconnected.Add(1)
			logger.Info("client_disconnected")
		}()
		t := time.NewTicker(s.flushInterval)
		defer t.Stop()
		bw := bufio.NewWriter(conn)
		pending := 0
		flush := func() error {
			if pending == 0 {
				return nil
			}
			n := pending
			pending = 0
			if err := bw.Flush(); err != nil {
				wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
				metrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				return wrap
			}
			metrics.AddFeedTx(n)
			return nil
		}
		write := func(u hub.Update) error {
			line, err := json.Marshal(u)
			if err != nil {
				// Unencodable update: skip it, the connection is fine.
				metrics.IncError(mapErrToMetric(fmt.Errorf("%w: %v", ErrEncode, err)))
				logger.Warn("client_encode_error", "type", u.Type, "error", err)
				return nil
			}
			line = append(line, '\n')
			if _, err := bw.Write(line); err != nil {
				wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
				metrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				return wrap
			}
			pending++
			if pending >= s.batchSize {
				return flush()
			}
			return nil
		}
		for {
			select {
			case u := <-cl.Out:
				if err := write(u); err != nil {
					return
				}
			case <-t.C:
				if err := flush(); err != nil {
					return
				}
			case <-cl.Closed:
				_ = flush()
				return
			case <-ctxDone:
				_ = flush()
				return
			}
		}
	}()
}

package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_UnsupportedScheme(t *testing.T) {
	r := NewRegistry()
	_, err := r.Dial(context.Background(), "carrier-pigeon://loft")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedScheme))
	assert.ElementsMatch(t, []string{"ws", "wss", "tcp", "udp", "serial", "pcap"}, r.Schemes())
}

type nopConn struct{}

func (nopConn) ReadChunk() ([]byte, error) { return nil, io.EOF }
func (nopConn) Close() error               { return nil }

func TestRegistry_RegisterIsCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	var got *url.URL
	r.Register("SIM", func(_ context.Context, u *url.URL) (Conn, error) {
		got = u
		return nopConn{}, nil
	})
	c, err := r.Dial(context.Background(), "sim://vehicle-1?rate=4")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "vehicle-1", got.Host)
	assert.Equal(t, "4", got.Query().Get("rate"))
}

func TestIsClosed(t *testing.T) {
	assert.False(t, IsClosed(nil))
	assert.True(t, IsClosed(io.EOF))
	assert.True(t, IsClosed(ErrClosed))
	assert.True(t, IsClosed(net.ErrClosed))
	assert.True(t, IsClosed(&websocket.CloseError{Code: websocket.CloseNormalClosure}))
	assert.False(t, IsClosed(&websocket.CloseError{Code: websocket.CloseAbnormalClosure}))
	assert.False(t, IsClosed(errors.New("connection reset by peer")))
}

func TestTCP_ReadChunks(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		_, _ = c.Write([]byte{0xFD, 0x09, 0x00})
		_ = c.Close()
	}()

	conn, err := NewRegistry().Dial(context.Background(), "tcp://"+ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	var got []byte
	for {
		chunk, err := conn.ReadChunk()
		got = append(got, chunk...)
		if err != nil {
			assert.True(t, IsClosed(err), "unexpected error %v", err)
			break
		}
	}
	assert.Equal(t, []byte{0xFD, 0x09, 0x00}, got)
}

func TestTCP_DialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = NewRegistry().Dial(context.Background(), "tcp://"+addr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial tcp")
}

func TestUDP_DatagramPerChunk(t *testing.T) {
	conn, err := NewRegistry().Dial(context.Background(), "udp://127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()
	uc := conn.(*udpConn)

	sender, err := net.Dial("udp", uc.LocalAddr().String())
	require.NoError(t, err)
	defer sender.Close()
	_, err = sender.Write([]byte{0xFE, 0x01})
	require.NoError(t, err)
	_, err = sender.Write([]byte{0xFD})
	require.NoError(t, err)

	a, err := conn.ReadChunk()
	require.NoError(t, err)
	b, err := conn.ReadChunk()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFE, 0x01}, a)
	assert.Equal(t, []byte{0xFD}, b)

	require.NoError(t, conn.Close())
	_, err = conn.ReadChunk()
	assert.True(t, IsClosed(err))
}

func TestWebSocket_BinaryMessages(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_ = ws.WriteMessage(websocket.BinaryMessage, []byte{0xFD, 0x01})
		_ = ws.WriteMessage(websocket.PingMessage, nil)
		_ = ws.WriteMessage(websocket.BinaryMessage, []byte{0x02, 0x03})
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	}))
	defer srv.Close()

	target := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := NewRegistry().Dial(context.Background(), target)
	require.NoError(t, err)
	defer conn.Close()

	a, err := conn.ReadChunk()
	require.NoError(t, err)
	b, err := conn.ReadChunk()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFD, 0x01}, a)
	assert.Equal(t, []byte{0x02, 0x03}, b)

	_, err = conn.ReadChunk()
	require.Error(t, err)
	assert.True(t, IsClosed(err), "close frame should read as orderly close: %v", err)
}

func TestWebSocket_DialContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRegistry().Dial(ctx, "ws://127.0.0.1:1/")
	require.Error(t, err)
}

package transport

import (
	"fmt"
	"log/slog"
	"net"
	"time"
)

// SocketConfig points at a TCP RS485 bridge.
type SocketConfig struct {
	Address string // host:port
}

type socketTransport struct {
	conn net.Conn
	head []byte // byte captured by the open-time probe, served first
}

func openSocket(cfg SocketConfig, logger *slog.Logger) (*socketTransport, error) {
	conn, err := net.DialTimeout("tcp", cfg.Address, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("socket: dial %s: %w", cfg.Address, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(30 * time.Second)
		_ = tc.SetNoDelay(true)
	}

	t := &socketTransport{conn: conn}

	// One short probe read tells a live bus apart from a bridge with its
	// RS485 side unplugged. The bus chatters constantly, so silence here
	// almost always means a wiring problem worth logging up front.
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 1)
	n, err := conn.Read(buf)
	_ = conn.SetReadDeadline(time.Time{})
	if err != nil {
		logger.Warn("no bus traffic on socket", "address", cfg.Address, "err", err)
	} else {
		t.head = buf[:n]
	}

	logger.Info("socket connected", "address", cfg.Address)
	return t, nil
}

func (t *socketTransport) Read(p []byte) (int, error) {
	if len(t.head) > 0 {
		n := copy(p, t.head)
		t.head = t.head[n:]
		return n, nil
	}
	return t.conn.Read(p)
}

func (t *socketTransport) Write(p []byte) (int, error) { return t.conn.Write(p) }
func (t *socketTransport) Close() error                { return t.conn.Close() }
func (t *socketTransport) Kind() string                { return KindSocket }

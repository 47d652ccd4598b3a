// Package transport provides the byte pipes the wallpad bus speaks over: a
// local RS485 serial adapter, a TCP bridge in the style of the Elfin EW11,
// or a pair of raw MQTT topics fed by a remote bridge. All three present the
// same blocking read/write stream; framing lives one layer up.
package transport

import (
	"fmt"
	"io"
	"log/slog"
)

// Transport kinds accepted in configuration.
const (
	KindSerial = "serial"
	KindSocket = "socket"
	KindMQTT   = "mqtt"
)

// Transport is a raw byte stream to the bus. Read blocks until data
// arrives or the transport closes.
type Transport interface {
	io.ReadWriteCloser
	// Kind names the transport for logs.
	Kind() string
}

// Config selects and parameterizes one transport.
type Config struct {
	Kind   string
	Serial SerialConfig
	Socket SocketConfig
	MQTT   MQTTConfig
}

// Open connects the configured transport. Callers reopen through Open
// again after a persistent stream error.
func Open(cfg Config, logger *slog.Logger) (Transport, error) {
	switch cfg.Kind {
	case KindSerial:
		return openSerial(cfg.Serial, logger)
	case KindSocket:
		return openSocket(cfg.Socket, logger)
	case KindMQTT:
		return openMQTT(cfg.MQTT, logger)
	default:
		return nil, fmt.Errorf("transport: unknown kind %q", cfg.Kind)
	}
}

package transport

import (
	"fmt"
	"log/slog"

	"go.bug.st/serial"
)

// SerialConfig points at a local RS485 adapter. Wallpads run 9600 8N1.
type SerialConfig struct {
	Port string
	Baud int
}

type serialTransport struct {
	port serial.Port
	name string
}

func openSerial(cfg SerialConfig, logger *slog.Logger) (*serialTransport, error) {
	baud := cfg.Baud
	if baud == 0 {
		baud = 9600
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Port, err)
	}
	logger.Info("serial port open", "port", cfg.Port, "baud", baud)
	return &serialTransport{port: port, name: cfg.Port}, nil
}

func (t *serialTransport) Read(p []byte) (int, error)  { return t.port.Read(p) }
func (t *serialTransport) Write(p []byte) (int, error) { return t.port.Write(p) }
func (t *serialTransport) Close() error                { return t.port.Close() }
func (t *serialTransport) Kind() string                { return KindSerial }

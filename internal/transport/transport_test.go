package transport

import (
	"bytes"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenUnknownKind(t *testing.T) {
	_, err := Open(Config{Kind: "carrier-pigeon"}, discardLogger())
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestSocketTransportKeepsProbeByte(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	payload := []byte{0xF7, 0x0E, 0x11, 0x81}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Write(payload)
		time.Sleep(200 * time.Millisecond)
		conn.Close()
	}()

	tr, err := openSocket(SocketConfig{Address: ln.Addr().String()}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	got := make([]byte, 0, len(payload))
	buf := make([]byte, 16)
	for len(got) < len(payload) {
		n, err := tr.Read(buf)
		if err != nil {
			t.Fatalf("read after %X: %v", got, err)
		}
		got = append(got, buf[:n]...)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("got %X, want %X", got, payload)
	}
}

func TestSocketTransportWrite(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		// Feed the probe so open returns promptly.
		conn.Write([]byte{0x00})
		buf := make([]byte, 16)
		n, _ := conn.Read(buf)
		received <- buf[:n]
	}()

	tr, err := openSocket(SocketConfig{Address: ln.Addr().String()}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	cmd := []byte{0xF7, 0x12, 0x01, 0x41, 0x01, 0x00, 0xA4, 0xF0}
	if _, err := tr.Write(cmd); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-received:
		if !bytes.Equal(got, cmd) {
			t.Errorf("got %X, want %X", got, cmd)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("write never reached the listener")
	}
}

func TestDecodeBusPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []byte
	}{
		{"plain hex", "f70e1181", []byte{0xF7, 0x0E, 0x11, 0x81}},
		{"uppercase commas", "F7,0E,11,81", []byte{0xF7, 0x0E, 0x11, 0x81}},
		{"spaces and newline", "F7 0E 11 81\n", []byte{0xF7, 0x0E, 0x11, 0x81}},
		{"raw passthrough", "\xf7\x0e\x11\x81", []byte{0xF7, 0x0E, 0x11, 0x81}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodeBusPayload([]byte(tt.payload))
			if !bytes.Equal(got, tt.want) {
				t.Errorf("got %X, want %X", got, tt.want)
			}
		})
	}
}

func TestDecodeBusPayloadNotHex(t *testing.T) {
	raw := []byte{0xF7, 0x0E, 0x11} // odd length, not hex text
	if got := decodeBusPayload(raw); !bytes.Equal(got, raw) {
		t.Errorf("got %X, want raw passthrough %X", got, raw)
	}
}

func TestFormatBusPayload(t *testing.T) {
	got := formatBusPayload([]byte{0xF7, 0x12, 0x01, 0x41})
	if got != "F7,12,01,41" {
		t.Errorf("got %q, want F7,12,01,41", got)
	}
}

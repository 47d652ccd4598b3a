package transport

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig points at a broker relaying raw bus bytes. RecvTopic carries
// bus-to-bridge traffic, SendTopic bridge-to-bus.
type MQTTConfig struct {
	Broker    string // e.g. tcp://192.168.1.10:1883
	Username  string
	Password  string
	ClientID  string
	RecvTopic string
	SendTopic string
	QoS       byte
}

type mqttTransport struct {
	client    pahomqtt.Client
	sendTopic string
	qos       byte
	logger    *slog.Logger

	in        chan []byte
	leftover  []byte
	done      chan struct{}
	closeOnce sync.Once
}

func openMQTT(cfg MQTTConfig, logger *slog.Logger) (*mqttTransport, error) {
	if cfg.RecvTopic == "" || cfg.SendTopic == "" {
		return nil, fmt.Errorf("mqtt transport: recv and send topics are required")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "ezville-home-bus"
	}

	t := &mqttTransport{
		sendTopic: cfg.SendTopic,
		qos:       cfg.QoS,
		logger:    logger,
		in:        make(chan []byte, 64),
		done:      make(chan struct{}),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(c pahomqtt.Client) {
			token := c.Subscribe(cfg.RecvTopic, cfg.QoS, t.onMessage)
			token.Wait()
			if err := token.Error(); err != nil {
				logger.Error("mqtt transport subscribe failed", "topic", cfg.RecvTopic, "err", err)
				return
			}
			logger.Info("mqtt transport subscribed", "topic", cfg.RecvTopic, "qos", cfg.QoS)
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			logger.Warn("mqtt transport connection lost", "err", err)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt transport: connect timeout to %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt transport: connect %s: %w", cfg.Broker, err)
	}

	t.client = client
	return t, nil
}

func (t *mqttTransport) onMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	data := decodeBusPayload(msg.Payload())
	if len(data) == 0 {
		return
	}
	select {
	case t.in <- data:
	case <-t.done:
	default:
		t.logger.Warn("mqtt transport inbound buffer full, dropping", "bytes", len(data))
	}
}

func (t *mqttTransport) Read(p []byte) (int, error) {
	if len(t.leftover) == 0 {
		select {
		case b := <-t.in:
			t.leftover = b
		case <-t.done:
			return 0, net.ErrClosed
		}
	}
	n := copy(p, t.leftover)
	t.leftover = t.leftover[n:]
	return n, nil
}

func (t *mqttTransport) Write(p []byte) (int, error) {
	token := t.client.Publish(t.sendTopic, t.qos, false, formatBusPayload(p))
	if !token.WaitTimeout(5 * time.Second) {
		return 0, fmt.Errorf("mqtt transport: publish timeout")
	}
	if err := token.Error(); err != nil {
		return 0, fmt.Errorf("mqtt transport: publish: %w", err)
	}
	return len(p), nil
}

func (t *mqttTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.client.Disconnect(1000)
	})
	return nil
}

func (t *mqttTransport) Kind() string { return KindMQTT }

// decodeBusPayload accepts both encodings seen from bridge firmwares: a hex
// string with optional space, comma or newline separators, or plain raw
// bytes when the payload is not valid hex. Stripping works on bytes, not
// runes, so raw binary falls through untouched.
func decodeBusPayload(payload []byte) []byte {
	stripped := make([]byte, 0, len(payload))
	for _, b := range payload {
		switch b {
		case ' ', ',', '\t', '\n', '\r':
			continue
		}
		stripped = append(stripped, b)
	}
	if b, err := hex.DecodeString(string(stripped)); err == nil && len(b) > 0 {
		return b
	}
	return payload
}

// formatBusPayload renders outgoing bytes the way bridge firmwares expect
// them: uppercase hex pairs joined by commas.
func formatBusPayload(p []byte) string {
	s := strings.ToUpper(hex.EncodeToString(p))
	pairs := make([]string, 0, len(p))
	for i := 0; i < len(s); i += 2 {
		pairs = append(pairs, s[i:i+2])
	}
	return strings.Join(pairs, ",")
}

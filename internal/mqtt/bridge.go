//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"ezville-go-home/internal/coordinator"
	"ezville-go-home/internal/protocol"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker          string
	Username        string
	Password        string
	TopicPrefix     string // default "ezville"
	DiscoveryPrefix string // default "homeassistant"
	Discovery       bool
}

// Bridge connects the wallpad coordinator to MQTT with HA autodiscovery.
// State flows one way: commands go to the bus, states come back from it.
// Nothing is published optimistically.
type Bridge struct {
	client     pahomqtt.Client
	coord      *coordinator.Coordinator
	prefix     string
	discPrefix string
	discovery  bool
	logger     *slog.Logger
	unsub      func()

	// Entities announced to HA this connection.
	mu        sync.Mutex
	announced map[string]bool
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(coord *coordinator.Coordinator, cfg Config, logger *slog.Logger) (*Bridge, error) {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "ezville"
	}
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = "homeassistant"
	}
	b := &Bridge{
		coord:      coord,
		prefix:     cfg.TopicPrefix,
		discPrefix: cfg.DiscoveryPrefix,
		discovery:  cfg.Discovery,
		logger:     logger.With("component", "mqtt"),
		announced:  make(map[string]bool),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("ezville-go-home").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.publishAllDevices()
			b.subscribeCommands()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	b.client = client
	return b, nil
}

// Start subscribes to coordinator events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.coord.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event coordinator.Event) {
	switch event.Type {
	case coordinator.EventDeviceDiscovered:
		b.ensureDiscovery(event.Key, event.State)
		b.publishState(event.Key, event.State)
	case coordinator.EventStateUpdate:
		b.ensureDiscovery(event.Key, event.State)
		b.publishState(event.Key, event.State)
	case coordinator.EventUnknownFrame:
		b.publishUnknown(event)
	case coordinator.EventDeviceRemoved:
		b.handleDeviceRemoved(event)
	}
}

// publishState publishes one attribute topic per decoded field, retained so
// HA picks up the last state after its own restarts.
func (b *Bridge) publishState(key string, ev protocol.Event) {
	attrs := stateAttributes(ev)
	if len(attrs) == 0 {
		return
	}
	base := baseTopic(b.prefix, key, ev.Family())
	for attr, value := range attrs {
		b.publish(base+"/"+attr+"/state", []byte(value), true)
	}
}

func (b *Bridge) publishUnknown(event coordinator.Event) {
	b.publish(b.prefix+"/bridge/unknown", mustJSON(event.State), false)
}

func (b *Bridge) handleDeviceRemoved(event coordinator.Event) {
	for _, msg := range buildRemoveDiscovery(event.Key, event.Family, b.discPrefix) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.mu.Lock()
	delete(b.announced, event.Key)
	b.mu.Unlock()
}

// ensureDiscovery announces a device's entities once per connection.
func (b *Bridge) ensureDiscovery(key string, ev protocol.Event) {
	if !b.discovery {
		return
	}
	b.mu.Lock()
	done := b.announced[key]
	if !done {
		b.announced[key] = true
	}
	b.mu.Unlock()
	if done {
		return
	}

	msgs := buildDiscovery(key, ev, b.prefix, b.discPrefix)
	if len(msgs) == 0 {
		return
	}
	for _, msg := range msgs {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.logger.Info("published HA discovery", "key", key, "entities", len(msgs))
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.prefix+"/bridge/state", []byte(state), true)
}

// publishAllDevices re-announces every known device and its last state.
// Runs on every (re)connect, so the broker ends up fully repopulated even
// after it lost its retained messages.
func (b *Bridge) publishAllDevices() {
	b.mu.Lock()
	b.announced = make(map[string]bool)
	b.mu.Unlock()

	for _, rec := range b.coord.States().List() {
		if rec.Family == protocol.FamilyUnknown {
			continue
		}
		b.ensureDiscovery(rec.Key, rec.State)
		b.publishState(rec.Key, rec.State)
	}
}

func (b *Bridge) subscribeCommands() {
	commands := b.prefix + "/+/+/+/command"
	b.client.Subscribe(commands, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleCommand(msg.Topic(), string(msg.Payload()))
	})
	b.client.Subscribe(b.prefix+"/bridge/send", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if err := b.coord.SendRaw(string(msg.Payload())); err != nil {
			b.logger.Warn("raw send failed", "err", err)
		}
	})
}

func (b *Bridge) handleCommand(topic, payload string) {
	rest, ok := strings.CutPrefix(topic, b.prefix+"/")
	if !ok {
		return
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 4 || parts[3] != "command" {
		return
	}
	family := protocol.Family(parts[0])
	if _, known := protocol.FamilyID(family); !known {
		b.logger.Warn("command for unknown family", "topic", topic)
		return
	}

	if err := b.dispatchCommand(family, parts[1], parts[2], payload); err != nil {
		b.logger.Warn("command failed", "family", family, "id", parts[1],
			"attr", parts[2], "payload", payload, "err", err)
	}
}

// dispatchCommand translates one MQTT command into a bus command.
func (b *Bridge) dispatchCommand(family protocol.Family, id, attr, payload string) error {
	switch family {
	case protocol.FamilyLight:
		room, num, err := parseDualID(id)
		if err != nil {
			return err
		}
		on, err := parseOnOff(payload)
		if err != nil {
			return err
		}
		return b.coord.SetLight(room, num, on)

	case protocol.FamilyPlug:
		room, num, err := parseDualID(id)
		if err != nil {
			return err
		}
		on, err := parseOnOff(payload)
		if err != nil {
			return err
		}
		return b.coord.SetPlug(room, num, on)

	case protocol.FamilyThermostat:
		room, err := strconv.Atoi(id)
		if err != nil {
			return fmt.Errorf("thermostat id %q: %w", id, err)
		}
		switch attr {
		case "mode":
			return b.coord.SetThermostatMode(room, payload == "heat")
		case "target":
			temp, err := strconv.ParseFloat(payload, 64)
			if err != nil {
				return fmt.Errorf("target temperature %q: %w", payload, err)
			}
			return b.coord.SetThermostatTarget(room, int(temp))
		case "away":
			away, err := parseOnOff(payload)
			if err != nil {
				return err
			}
			return b.coord.SetThermostatAway(room, away)
		case "preset":
			return b.coord.SetThermostatAway(room, payload == "away")
		}

	case protocol.FamilyFan:
		switch attr {
		case "power":
			on, err := parseOnOff(payload)
			if err != nil {
				return err
			}
			return b.coord.SetFanPower(on)
		case "speed":
			speed, err := parseFanSpeed(payload)
			if err != nil {
				return err
			}
			if speed == 0 {
				return b.coord.SetFanPower(false)
			}
			return b.coord.SetFanSpeed(speed)
		case "mode":
			return b.coord.SetFanPreset(payload)
		}

	case protocol.FamilyGas:
		if attr == "valve" {
			switch strings.ToUpper(payload) {
			case "CLOSE", "OFF":
				return b.coord.CloseGasValve()
			case "OPEN":
				return fmt.Errorf("gas valve cannot be opened remotely")
			}
			return fmt.Errorf("gas valve payload %q not recognized", payload)
		}

	case protocol.FamilyElevator:
		if attr == "power" {
			return b.coord.CallElevator()
		}

	case protocol.FamilyDoorbell:
		return b.coord.Doorbell(attr)
	}

	return fmt.Errorf("attribute %q is read-only", attr)
}

// parseDualID splits "room_num" topic ids like "1_2".
func parseDualID(id string) (room, num int, err error) {
	a, b, found := strings.Cut(id, "_")
	if !found {
		return 0, 0, fmt.Errorf("device id %q: want room_num", id)
	}
	if room, err = strconv.Atoi(a); err != nil {
		return 0, 0, fmt.Errorf("device id %q: %w", id, err)
	}
	if num, err = strconv.Atoi(b); err != nil {
		return 0, 0, fmt.Errorf("device id %q: %w", id, err)
	}
	return room, num, nil
}

func parseOnOff(payload string) (bool, error) {
	switch strings.ToUpper(payload) {
	case "ON", "1", "TRUE":
		return true, nil
	case "OFF", "0", "FALSE":
		return false, nil
	}
	return false, fmt.Errorf("payload %q: want ON or OFF", payload)
}

// parseFanSpeed accepts the numeric levels HA sends for a 1..3 speed range
// plus the named levels some frontends still publish.
func parseFanSpeed(payload string) (int, error) {
	switch strings.ToLower(payload) {
	case "low":
		return 1, nil
	case "medium":
		return 2, nil
	case "high":
		return 3, nil
	}
	speed, err := strconv.Atoi(payload)
	if err != nil {
		return 0, fmt.Errorf("fan speed %q: %w", payload, err)
	}
	return speed, nil
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}

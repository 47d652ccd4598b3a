package coordinator

import (
	"encoding/json"
	"errors"
	"fmt"

	"ezville-go-home/internal/protocol"
	"ezville-go-home/internal/store"
)

// persistChange mirrors a durable state change into the store so device
// history survives restarts. Friendly names set through the web API live
// on the same record and are left untouched.
func (c *Coordinator) persistChange(ch Change) {
	raw, err := json.Marshal(ch.State)
	if err != nil {
		c.logger.Error("marshal device state", "key", ch.Key, "error", err)
		return
	}

	err = c.store.UpdateDevice(ch.Key, func(dev *store.Device) error {
		dev.State = raw
		dev.LastSeen = ch.At
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		err = c.store.SaveDevice(&store.Device{
			Key:       ch.Key,
			Family:    string(ch.Family),
			State:     raw,
			FirstSeen: ch.At,
			LastSeen:  ch.At,
		})
	}
	if err != nil {
		c.logger.Error("persist device state", "key", ch.Key, "error", err)
	}
}

// loadPersisted seeds the state store from disk so consumers see known
// devices immediately instead of waiting for the bus to repeat itself.
func (c *Coordinator) loadPersisted() {
	devices, err := c.store.ListDevices()
	if err != nil {
		c.logger.Warn("load persisted devices", "error", err)
		return
	}
	loaded := 0
	for _, dev := range devices {
		family := protocol.Family(dev.Family)
		if family != protocol.FamilyUnknown && !c.enabled[family] {
			continue
		}
		ev, err := rehydrateState(dev.Family, dev.State)
		if err != nil {
			c.logger.Debug("skipping persisted device", "key", dev.Key, "error", err)
			continue
		}
		if ev.Key() != dev.Key {
			c.logger.Debug("persisted device key mismatch", "stored", dev.Key, "derived", ev.Key())
			continue
		}
		c.states.Seed(ev, dev.FirstSeen, dev.LastSeen)
		loaded++
	}
	if loaded > 0 {
		c.logger.Info("device state restored", "devices", loaded)
	}
}

// rehydrateState decodes a stored state blob back into its typed event.
func rehydrateState(family string, raw json.RawMessage) (protocol.Event, error) {
	var ev protocol.Event
	var err error
	switch protocol.Family(family) {
	case protocol.FamilyLight:
		var s protocol.LightState
		err = json.Unmarshal(raw, &s)
		ev = s
	case protocol.FamilyPlug:
		var s protocol.PlugState
		err = json.Unmarshal(raw, &s)
		ev = s
	case protocol.FamilyThermostat:
		var s protocol.ThermostatState
		err = json.Unmarshal(raw, &s)
		ev = s
	case protocol.FamilyFan:
		var s protocol.FanState
		err = json.Unmarshal(raw, &s)
		ev = s
	case protocol.FamilyGas:
		var s protocol.GasState
		err = json.Unmarshal(raw, &s)
		ev = s
	case protocol.FamilyEnergy:
		var s protocol.EnergyState
		err = json.Unmarshal(raw, &s)
		ev = s
	case protocol.FamilyElevator:
		var s protocol.ElevatorState
		err = json.Unmarshal(raw, &s)
		ev = s
	case protocol.FamilyDoorbell:
		var s protocol.DoorbellState
		err = json.Unmarshal(raw, &s)
		ev = s
	case protocol.FamilyUnknown:
		var s protocol.UnknownFrame
		err = json.Unmarshal(raw, &s)
		ev = s
	default:
		return nil, fmt.Errorf("device family %q not recognized", family)
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

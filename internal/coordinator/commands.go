package coordinator

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"ezville-go-home/internal/protocol"
)

// ErrFamilyDisabled is returned for commands aimed at a family that was
// left out of the configured capabilities.
var ErrFamilyDisabled = errors.New("device family disabled by configuration")

// Doorbell actions accepted by Doorbell.
const (
	DoorbellRing   = "ring"
	DoorbellTalk   = "talk"
	DoorbellOpen   = "open"
	DoorbellCancel = "cancel"
)

func (c *Coordinator) send(family protocol.Family, f protocol.Frame) error {
	if !c.enabled[family] {
		return fmt.Errorf("%s: %w", family, ErrFamilyDisabled)
	}
	if err := c.sender.Enqueue(f); err != nil {
		return fmt.Errorf("queue %s command: %w", family, err)
	}
	c.logger.Debug("command queued", "family", family, "frame", f.Hex())
	return nil
}

// SetLight switches one light on or off.
func (c *Coordinator) SetLight(room, num int, on bool) error {
	f, err := protocol.LightCommand(room, num, on)
	if err != nil {
		return err
	}
	return c.send(protocol.FamilyLight, f)
}

// SetPlug switches one outlet relay on or off.
func (c *Coordinator) SetPlug(room, num int, on bool) error {
	f, err := protocol.PlugCommand(room, num, on)
	if err != nil {
		return err
	}
	return c.send(protocol.FamilyPlug, f)
}

// SetThermostatMode switches a room between heat and off.
func (c *Coordinator) SetThermostatMode(room int, heat bool) error {
	f, err := protocol.ThermostatModeCommand(room, heat)
	if err != nil {
		return err
	}
	return c.send(protocol.FamilyThermostat, f)
}

// SetThermostatTarget sets a room's target temperature in °C.
func (c *Coordinator) SetThermostatTarget(room, temp int) error {
	f, err := protocol.ThermostatTargetCommand(room, temp)
	if err != nil {
		return err
	}
	return c.send(protocol.FamilyThermostat, f)
}

// SetThermostatAway toggles a room's away mode.
func (c *Coordinator) SetThermostatAway(room int, away bool) error {
	f, err := protocol.ThermostatAwayCommand(room, away)
	if err != nil {
		return err
	}
	return c.send(protocol.FamilyThermostat, f)
}

// SetFanPower switches the ventilation fan.
func (c *Coordinator) SetFanPower(on bool) error {
	return c.send(protocol.FamilyFan, protocol.FanPowerCommand(on))
}

// SetFanSpeed selects fan speed 1 to 3.
func (c *Coordinator) SetFanSpeed(speed int) error {
	f, err := protocol.FanSpeedCommand(speed)
	if err != nil {
		return err
	}
	return c.send(protocol.FamilyFan, f)
}

// SetFanPreset selects the fan air path.
func (c *Coordinator) SetFanPreset(preset string) error {
	f, err := protocol.FanPresetCommand(preset)
	if err != nil {
		return err
	}
	return c.send(protocol.FamilyFan, f)
}

// CloseGasValve shuts the gas valve. There is no remote open.
func (c *Coordinator) CloseGasValve() error {
	return c.send(protocol.FamilyGas, protocol.GasCloseCommand())
}

// CallElevator calls the elevator to the apartment floor.
func (c *Coordinator) CallElevator() error {
	return c.send(protocol.FamilyElevator, protocol.ElevatorCallCommand())
}

// Doorbell performs an entrance panel action: DoorbellRing, DoorbellTalk,
// DoorbellOpen or DoorbellCancel.
func (c *Coordinator) Doorbell(action string) error {
	var cmd byte
	switch action {
	case DoorbellRing:
		cmd = protocol.CmdDoorbellRing
	case DoorbellTalk:
		cmd = protocol.CmdDoorbellTalk
	case DoorbellOpen:
		cmd = protocol.CmdDoorbellOpen
	case DoorbellCancel:
		cmd = protocol.CmdDoorbellCancel
	default:
		return fmt.Errorf("doorbell action %q: %w", action, protocol.ErrValueRange)
	}
	f, err := protocol.DoorbellCommand(cmd)
	if err != nil {
		return err
	}
	return c.send(protocol.FamilyDoorbell, f)
}

// RequestState queues a state query for a family. Queries are never
// acknowledged; the answer arrives as a regular state broadcast.
func (c *Coordinator) RequestState(family protocol.Family, sub byte) error {
	f, err := protocol.StateRequest(family, sub)
	if err != nil {
		return err
	}
	return c.send(family, f)
}

// SendRaw queues hand-typed frame bytes, given as hex with optional
// space, comma or colon separators. The checksum is recomputed, the
// capability filter is bypassed. Debugging aid for unknown devices.
func (c *Coordinator) SendRaw(s string) error {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', ',', ':', '\t':
			return -1
		}
		return r
	}, s)
	data, err := hex.DecodeString(clean)
	if err != nil {
		return fmt.Errorf("parse raw command: %w", err)
	}
	f, err := protocol.RawCommand(data)
	if err != nil {
		return err
	}
	if err := c.sender.Enqueue(f); err != nil {
		return fmt.Errorf("queue raw command: %w", err)
	}
	c.logger.Info("raw command queued", "frame", f.Hex())
	return nil
}

package protocol

import (
	"errors"
	"fmt"
)

// Encoding failure modes. Invalid commands are reported to the caller and
// never reach the wire.
var (
	ErrUnknownFamily = errors.New("family not on the bus")
	ErrRoomRange     = errors.New("room out of range")
	ErrValueRange    = errors.New("value out of range")
)

// build assembles a command frame from the body bytes, appending and filling
// the checksum pair.
func build(body ...byte) Frame {
	f := make(Frame, len(body)+2)
	copy(f, body)
	fillChecksum(f)
	return f
}

// LightCommand switches one light. Lights use the wider ten-byte command
// form naming the switch in the payload rather than the sub-address.
func LightCommand(room, num int, on bool) (Frame, error) {
	if room < 0 || room > 0x0F {
		return nil, fmt.Errorf("light room %d: %w", room, ErrRoomRange)
	}
	if num < 1 || num > 3 {
		return nil, fmt.Errorf("light switch %d: %w", num, ErrValueRange)
	}
	v := byte(0x00)
	if on {
		v = 0x01
	}
	return build(Marker, 0x0E, byte(room), CmdPower, 0x03, byte(num), v, 0x00), nil
}

// PlugCommand switches one outlet relay.
func PlugCommand(room, num int, on bool) (Frame, error) {
	if room < 0 || room > 0x0F {
		return nil, fmt.Errorf("plug room %d: %w", room, ErrRoomRange)
	}
	if num < 1 || num > 0x0F {
		return nil, fmt.Errorf("plug outlet %d: %w", num, ErrValueRange)
	}
	v := byte(0x10)
	if on {
		v = 0x11
	}
	return build(Marker, 0x39, byte(room<<4|num), CmdPower, 0x01, v), nil
}

func thermostatCommand(room int, cmd, value byte) (Frame, error) {
	if room < 0 || room > 0x0F {
		return nil, fmt.Errorf("thermostat room %d: %w", room, ErrRoomRange)
	}
	return build(Marker, 0x36, byte(room<<4), cmd, 0x01, value), nil
}

// ThermostatModeCommand switches a room between heat and off.
func ThermostatModeCommand(room int, heat bool) (Frame, error) {
	v := byte(0x00)
	if heat {
		v = 0x01
	}
	return thermostatCommand(room, CmdMode, v)
}

// ThermostatTargetCommand sets a room's target temperature in °C.
func ThermostatTargetCommand(room, temp int) (Frame, error) {
	if temp < 0 || temp > 0xFF {
		return nil, fmt.Errorf("thermostat target %d: %w", temp, ErrValueRange)
	}
	return thermostatCommand(room, CmdTarget, byte(temp))
}

// ThermostatAwayCommand toggles a room's away (antifreeze) mode.
func ThermostatAwayCommand(room int, away bool) (Frame, error) {
	v := byte(0x00)
	if away {
		v = 0x01
	}
	return thermostatCommand(room, CmdAway, v)
}

// FanPowerCommand switches the ventilation fan.
func FanPowerCommand(on bool) Frame {
	v := byte(0x00)
	if on {
		v = 0x01
	}
	return build(Marker, 0x32, 0x01, CmdPower, 0x01, v)
}

// FanSpeedCommand selects fan speed 1 to 3.
func FanSpeedCommand(speed int) (Frame, error) {
	if speed < 1 || speed > 3 {
		return nil, fmt.Errorf("fan speed %d: %w", speed, ErrValueRange)
	}
	return build(Marker, 0x32, 0x01, CmdSpeed, 0x01, byte(speed)), nil
}

// FanPresetCommand selects the air path, FanPresetBypass or FanPresetHeat.
func FanPresetCommand(preset string) (Frame, error) {
	var v byte
	switch preset {
	case FanPresetBypass:
		v = 0x01
	case FanPresetHeat:
		v = 0x03
	default:
		return nil, fmt.Errorf("fan preset %q: %w", preset, ErrValueRange)
	}
	return build(Marker, 0x32, 0x01, CmdMode, 0x01, v), nil
}

// GasCloseCommand shuts the gas valve. The bus has no remote open.
func GasCloseCommand() Frame {
	return build(Marker, 0x12, 0x01, CmdPower, 0x01, 0x00)
}

// ElevatorCallCommand calls the elevator to the apartment floor.
func ElevatorCallCommand() Frame {
	return build(Marker, 0x33, 0x01, CmdMode, 0x01, 0x10)
}

// DoorbellCommand answers the entrance panel with one of the doorbell
// command codes (talk, open, cancel, or a synthetic ring).
func DoorbellCommand(cmd byte) (Frame, error) {
	switch cmd {
	case CmdDoorbellTalk, CmdDoorbellOpen, CmdDoorbellCancel:
		return build(Marker, 0x40, 0x01, cmd, 0x00, 0x00), nil
	case CmdDoorbellRing:
		// The ring code carries its flag in the length slot.
		return build(Marker, 0x40, 0x01, cmd, 0x01, 0x00), nil
	default:
		return nil, fmt.Errorf("doorbell command 0x%02X: %w", cmd, ErrValueRange)
	}
}

// StateRequest builds the query frame asking a family to report its state.
func StateRequest(f Family, sub byte) (Frame, error) {
	spec, ok := familyTable[f]
	if !ok {
		return nil, fmt.Errorf("state request %q: %w", f, ErrUnknownFamily)
	}
	return build(Marker, spec.id, sub, cmdStateRequest, 0x00, 0x00), nil
}

// RawCommand wraps caller-supplied frame bytes for direct injection onto
// the bus. The trailing checksum pair is recomputed, so hand-typed packets
// need not carry a valid one.
func RawCommand(data []byte) (Frame, error) {
	if len(data) < 7 {
		return nil, fmt.Errorf("raw command %d bytes: %w", len(data), ErrValueRange)
	}
	if data[0] != Marker {
		return nil, fmt.Errorf("raw command starts 0x%02X: %w", data[0], ErrValueRange)
	}
	f := append(Frame(nil), data...)
	fillChecksum(f)
	return f, nil
}

package protocol

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
)

// ErrBadPayload reports a state frame whose payload does not fit its
// family's layout. The frame is dropped; decoding continues with the next.
var ErrBadPayload = errors.New("payload does not match family layout")

// Decode maps one validated frame to its events. State frames yield one
// event per sub-device instance, command and ACK frames a single echo, and
// unrecognized device ids an UnknownFrame. The state-request command yields
// nothing for any family: polling traffic must not manufacture state
// history.
func Decode(f Frame) ([]Event, error) {
	if len(f) < 5 {
		return nil, fmt.Errorf("frame %s: %w", f.Hex(), ErrBadPayload)
	}
	spec, known := deviceTable[f.DeviceID()]
	if !known {
		return []Event{UnknownFrame{Signature: f.Signature(), Raw: f.Hex()}}, nil
	}
	if f.Command() == cmdStateRequest {
		return nil, nil
	}
	if f.Command() != spec.stateCmd {
		return []Event{newEcho(spec.family, f)}, nil
	}

	switch spec.family {
	case FamilyLight:
		return decodeLight(f)
	case FamilyPlug:
		return decodePlug(f)
	case FamilyThermostat:
		return decodeThermostat(f)
	case FamilyFan:
		return decodeFan(f)
	case FamilyGas:
		return decodeGas(f)
	case FamilyEnergy:
		return decodeEnergy(f)
	case FamilyElevator:
		return decodeElevator(f)
	default:
		return decodeDoorbell(f)
	}
}

func newEcho(fam Family, f Frame) CommandEcho {
	e := CommandEcho{From: fam, Command: f.Command(), Raw: f.Hex()}
	switch fam {
	case FamilyLight:
		e.Room = int(f.SubAddr() & 0x0F)
	case FamilyPlug:
		e.Room = int(f.SubAddr() >> 4)
	}
	return e
}

// decodeLight reads one on/off bit per switch. The length byte counts the
// status bytes plus one leading group byte, so a room of n switches reports
// length n+1 with switch i at frame offset 5+i.
func decodeLight(f Frame) ([]Event, error) {
	room := int(f.SubAddr() & 0x0F)
	count := int(f[4]) - 1
	if count < 1 {
		return nil, nil
	}
	if count > 3 {
		count = 3
	}
	if len(f) < 6+count {
		return nil, fmt.Errorf("light state %s: %w", f.Hex(), ErrBadPayload)
	}
	events := make([]Event, 0, count)
	for i := 1; i <= count; i++ {
		events = append(events, LightState{Room: room, Num: i, On: f[5+i]&0x01 != 0})
	}
	return events, nil
}

// decodePlug reads one three-byte block per outlet: a status byte whose bit 4
// is the relay, then a watt reading packed as literal decimal digits in hex
// nibbles (status low nibble, two digit bytes, final nibble after the point).
func decodePlug(f Frame) ([]Event, error) {
	room := int(f.SubAddr() >> 4)
	count := int(f[4]) / 3
	if count < 1 {
		return nil, nil
	}
	if count > 2 {
		count = 2
	}
	if len(f) < 3*count+6 {
		return nil, fmt.Errorf("plug state %s: %w", f.Hex(), ErrBadPayload)
	}
	events := make([]Event, 0, count)
	for n := 1; n <= count; n++ {
		base := n*3 + 3
		whole := int(f[base]&0x0F) | int(f[base+1])<<4 | int(f[base+2])>>4
		watts, err := strconv.ParseFloat(fmt.Sprintf("%x.%x", whole, f[base+2]&0x0F), 64)
		if err != nil {
			watts = 0 // nibbles above 9 do not form a decimal reading
		}
		events = append(events, PlugState{Room: room, Num: n, On: f[base]&0x10 != 0, Power: watts})
	}
	return events, nil
}

func decodeThermostat(f Frame) ([]Event, error) {
	room := int(f.SubAddr() >> 4)

	// Some wallpads report every room in a single frame addressed to room 1
	// with a fixed 0x0D length: five status bytes, then target/current pairs
	// from frame offset 10. The trigger is a heuristic learned from captured
	// traffic, not a documented protocol field.
	if room == 1 && f[4] == 0x0D {
		return decodeThermostatPacked(f)
	}

	count := 0
	if f[4] > 5 {
		count = (int(f[4]) - 5) / 2
	}
	if count > 15 {
		count = 15
	}
	events := make([]Event, 0, count)
	for idx := 0; idx < count; idx++ {
		if len(f) < 11+idx*2 {
			break
		}
		st := ThermostatState{
			Room:    idx + 1,
			Target:  int(f[8+idx*2]),
			Current: int(f[9+idx*2]),
		}
		// Mode and away flags are bit fields covering the first five rooms.
		if idx < 5 {
			if (f[6]&0x1F)>>idx&1 != 0 {
				st.Mode = ThermostatHeat
			}
			st.Away = (f[7]&0x1F)>>idx&1 != 0
		}
		events = append(events, st)
	}
	return events, nil
}

func decodeThermostatPacked(f Frame) ([]Event, error) {
	const start = 10
	count := 0
	for i := 0; i < 4; i++ {
		idx := start + i*2
		if idx+1 < len(f) && (f[idx] != 0 || f[idx+1] != 0) {
			count++
		}
	}
	events := make([]Event, 0, count)
	for i := 0; i < count; i++ {
		idx := start + i*2
		if idx+1 >= len(f) {
			break
		}
		target, current := int(f[idx]), int(f[idx+1])
		// Pairs read (target, current); swap when the readings only make
		// sense the other way around.
		if current > 50 && target < 50 {
			target, current = current, target
		}
		st := ThermostatState{Room: i + 1, Target: target, Current: current}
		if target > 5 {
			st.Mode = ThermostatHeat
		}
		events = append(events, st)
	}
	return events, nil
}

func decodeFan(f Frame) ([]Event, error) {
	if len(f) < 9 {
		return nil, fmt.Errorf("fan state %s: %w", f.Hex(), ErrBadPayload)
	}
	st := FanState{On: f[6]&0x01 != 0}
	if f[7] <= 3 {
		st.Speed = int(f[7])
	}
	switch f[8] & 0x03 {
	case 0x01:
		st.Preset = FanPresetBypass
	case 0x03:
		st.Preset = FanPresetHeat
	}
	return []Event{st}, nil
}

func decodeGas(f Frame) ([]Event, error) {
	if len(f) < 7 {
		return nil, fmt.Errorf("gas state %s: %w", f.Hex(), ErrBadPayload)
	}
	// Bit 4 of the status byte is the only position indicator the valve
	// actually reports.
	return []Event{GasState{Closed: f[6]&0x10 == 0}}, nil
}

func decodeEnergy(f Frame) ([]Event, error) {
	if len(f) < 13 {
		return nil, fmt.Errorf("energy state %s: %w", f.Hex(), ErrBadPayload)
	}
	st := EnergyState{}
	if n, err := strconv.Atoi(hex.EncodeToString(f[6:9])); err == nil {
		st.Power = n
	}
	if n, err := strconv.Atoi(hex.EncodeToString(f[10:13])); err == nil {
		st.Usage = float64(n) * 0.1
	}
	st.CurrentPower = float64(int(f[6])<<16|int(f[7])<<8|int(f[8])) / 100
	return []Event{st}, nil
}

func decodeElevator(f Frame) ([]Event, error) {
	if len(f) < 7 {
		return nil, fmt.Errorf("elevator state %s: %w", f.Hex(), ErrBadPayload)
	}
	return []Event{ElevatorState{Status: int(f[6] >> 4), Floor: int(f[6] & 0x0F)}}, nil
}

func decodeDoorbell(f Frame) ([]Event, error) {
	ring := f[4] == 0x01
	ringing := ring || (len(f) > 5 && f[5] == 0x01)
	return []Event{DoorbellState{Ring: ring, Ringing: ringing}}, nil
}

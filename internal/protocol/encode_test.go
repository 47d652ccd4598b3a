package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestCommandFramesValidate(t *testing.T) {
	mustFrame := func(f Frame, err error) Frame {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
		return f
	}

	tests := []struct {
		name  string
		frame Frame
		id    byte
		cmd   byte
	}{
		{"light", mustFrame(LightCommand(1, 2, true)), 0x0E, CmdPower},
		{"plug", mustFrame(PlugCommand(1, 1, true)), 0x39, CmdPower},
		{"thermostat mode", mustFrame(ThermostatModeCommand(2, true)), 0x36, CmdMode},
		{"thermostat target", mustFrame(ThermostatTargetCommand(1, 24)), 0x36, CmdTarget},
		{"thermostat away", mustFrame(ThermostatAwayCommand(1, true)), 0x36, CmdAway},
		{"fan power", FanPowerCommand(true), 0x32, CmdPower},
		{"fan speed", mustFrame(FanSpeedCommand(2)), 0x32, CmdSpeed},
		{"fan preset", mustFrame(FanPresetCommand(FanPresetBypass)), 0x32, CmdMode},
		{"gas close", GasCloseCommand(), 0x12, CmdPower},
		{"elevator call", ElevatorCallCommand(), 0x33, CmdMode},
		{"doorbell open", mustFrame(DoorbellCommand(CmdDoorbellOpen)), 0x40, CmdDoorbellOpen},
		{"query", mustFrame(StateRequest(FamilyLight, 0x01)), 0x0E, cmdStateRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.frame[0] != Marker {
				t.Errorf("no marker: %X", tt.frame)
			}
			if !checksumOK(tt.frame) {
				t.Errorf("checksum invalid: %X", tt.frame)
			}
			if tt.frame.DeviceID() != tt.id {
				t.Errorf("device id = 0x%02X, want 0x%02X", tt.frame.DeviceID(), tt.id)
			}
			if tt.frame.Command() != tt.cmd {
				t.Errorf("command = 0x%02X, want 0x%02X", tt.frame.Command(), tt.cmd)
			}
		})
	}
}

func TestLightCommandLayout(t *testing.T) {
	f, err := LightCommand(1, 2, true)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0xF7, 0x0E, 0x01, 0x41, 0x03, 0x02, 0x01, 0x00, 0xB9, 0x06}
	if !bytes.Equal(f, want) {
		t.Errorf("got %X, want %X", f, want)
	}
}

func TestPlugCommandLayout(t *testing.T) {
	f, err := PlugCommand(1, 1, true)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0xF7, 0x39, 0x11, 0x41, 0x01, 0x11, 0x8E, 0x22}
	if !bytes.Equal(f, want) {
		t.Errorf("got %X, want %X", f, want)
	}

	f, err = PlugCommand(1, 1, false)
	if err != nil {
		t.Fatal(err)
	}
	if f[5] != 0x10 {
		t.Errorf("off value = 0x%02X, want 0x10", f[5])
	}
}

func TestThermostatCommandLayout(t *testing.T) {
	f, err := ThermostatTargetCommand(1, 24)
	if err != nil {
		t.Fatal(err)
	}
	// The room rides the high nibble of the sub-address.
	want := []byte{0xF7, 0x36, 0x10, 0x44, 0x01, 0x18, 0x8C, 0x26}
	if !bytes.Equal(f, want) {
		t.Errorf("got %X, want %X", f, want)
	}
}

func TestElevatorCallLayout(t *testing.T) {
	want := []byte{0xF7, 0x33, 0x01, 0x43, 0x01, 0x10, 0x97, 0x16}
	if f := ElevatorCallCommand(); !bytes.Equal(f, want) {
		t.Errorf("got %X, want %X", f, want)
	}
}

func TestDoorbellRingFlag(t *testing.T) {
	f, err := DoorbellCommand(CmdDoorbellRing)
	if err != nil {
		t.Fatal(err)
	}
	if f[4] != 0x01 {
		t.Errorf("ring flag byte = 0x%02X, want 0x01", f[4])
	}
	f, err = DoorbellCommand(CmdDoorbellTalk)
	if err != nil {
		t.Fatal(err)
	}
	if f[4] != 0x00 {
		t.Errorf("talk flag byte = 0x%02X, want 0x00", f[4])
	}
}

func TestEncodeRangeErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"light room", errOf(LightCommand(16, 1, true)), ErrRoomRange},
		{"light switch", errOf(LightCommand(1, 4, true)), ErrValueRange},
		{"plug outlet", errOf(PlugCommand(1, 0, true)), ErrValueRange},
		{"thermostat room", errOf(ThermostatModeCommand(-1, true)), ErrRoomRange},
		{"thermostat target", errOf(ThermostatTargetCommand(1, 300)), ErrValueRange},
		{"fan speed", errOf(FanSpeedCommand(0)), ErrValueRange},
		{"fan preset", errOf(FanPresetCommand("turbo")), ErrValueRange},
		{"doorbell command", errOf(DoorbellCommand(0x99)), ErrValueRange},
		{"unknown family", errOf(StateRequest(Family("toaster"), 0x01)), ErrUnknownFamily},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("err = %v, want %v", tt.err, tt.want)
			}
		})
	}
}

func errOf(_ Frame, err error) error { return err }

// Eight-byte command frames written to the bus read back intact.
func TestEncodedCommandsExtract(t *testing.T) {
	fan, err := FanSpeedCommand(2)
	if err != nil {
		t.Fatal(err)
	}
	cmds := []Frame{GasCloseCommand(), fan, ElevatorCallCommand()}

	var buf []byte
	for _, c := range cmds {
		buf = append(buf, c...)
	}
	frames, rest, dropped := Extract(buf)
	if len(frames) != len(cmds) || dropped != 0 {
		t.Fatalf("got %d frames %d dropped, want %d and 0", len(frames), dropped, len(cmds))
	}
	for i := range cmds {
		if !bytes.Equal(frames[i], cmds[i]) {
			t.Errorf("frame[%d] = %X, want %X", i, frames[i], cmds[i])
		}
	}
	if len(rest) != 0 {
		t.Errorf("rest = %X, want empty", rest)
	}
}

func TestExpectedAck(t *testing.T) {
	f, err := PlugCommand(1, 1, true)
	if err != nil {
		t.Fatal(err)
	}
	hdr, ok := ExpectedAck(f)
	if !ok {
		t.Fatal("plug power command must expect an ACK")
	}
	if want := [4]byte{0xF7, 0x39, 0x11, 0xC1}; hdr != want {
		t.Errorf("ack = %X, want %X", hdr, want)
	}

	f, err = ThermostatTargetCommand(1, 24)
	if err != nil {
		t.Fatal(err)
	}
	hdr, ok = ExpectedAck(f)
	if !ok || hdr != [4]byte{0xF7, 0x36, 0x10, 0xC4} {
		t.Errorf("ack = %X ok=%v, want F7 36 10 C4", hdr, ok)
	}
}

// State queries are fire and forget: nothing on the bus acknowledges them.
func TestExpectedAckNone(t *testing.T) {
	f, err := StateRequest(FamilyEnergy, 0x0F)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ExpectedAck(f); ok {
		t.Error("state request must not expect an ACK")
	}
	if _, ok := ExpectedAck(Frame{0xF7, 0x60, 0x01, 0x41}); ok {
		t.Error("unknown device must not expect an ACK")
	}
}

func TestRawCommand(t *testing.T) {
	f, err := RawCommand([]byte{0xF7, 0x12, 0x01, 0x41, 0x01, 0x00, 0x00, 0x00})
	if err != nil {
		t.Fatal(err)
	}
	if want := GasCloseCommand(); f.Hex() != want.Hex() {
		t.Fatalf("got %s, want %s", f.Hex(), want.Hex())
	}

	if _, err := RawCommand([]byte{0xF7, 0x12}); !errors.Is(err, ErrValueRange) {
		t.Fatalf("short input: got %v, want ErrValueRange", err)
	}
	if _, err := RawCommand([]byte{0x00, 0x12, 0x01, 0x41, 0x01, 0x00, 0x00, 0x00}); !errors.Is(err, ErrValueRange) {
		t.Fatalf("bad marker: got %v, want ErrValueRange", err)
	}
}

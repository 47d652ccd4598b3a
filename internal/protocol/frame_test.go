package protocol

import (
	"bytes"
	"testing"
)

// Room 1 light group, three switches all off. Captured from a live bus.
var lightFrame = []byte{0xF7, 0x0E, 0x11, 0x81, 0x04, 0x00, 0x00, 0x00, 0x00, 0x6D, 0x08}

// Room 1 plugs, both relays on, 190.1 W and 137.3 W.
var plugFrame = []byte{0xF7, 0x39, 0x1F, 0x81, 0x07, 0x00, 0x10, 0x19, 0x01, 0x10, 0x13, 0x73, 0x2F, 0xC6}

// Elevator called, cabin at floor 5.
var elevatorFrame = []byte{0xF7, 0x33, 0x01, 0x81, 0x03, 0x00, 0x25, 0x00, 0x62, 0x36}

func TestFillChecksum(t *testing.T) {
	body := []byte{0xF7, 0x0E, 0x11, 0x81, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	fillChecksum(body)
	if !bytes.Equal(body, lightFrame) {
		t.Errorf("got %X, want %X", body, lightFrame)
	}
	if !checksumOK(body) {
		t.Error("filled frame must validate")
	}
}

func TestChecksumRejectsCorruption(t *testing.T) {
	for i := range lightFrame {
		f := bytes.Clone(lightFrame)
		f[i] ^= 0x04
		if checksumOK(f) {
			t.Errorf("flipped byte %d not detected", i)
		}
	}
	if checksumOK([]byte{0xF7, 0x0E, 0x11, 0x81}) {
		t.Error("short frame must not validate")
	}
}

func TestExtractSingleFrame(t *testing.T) {
	frames, rest, dropped := Extract(bytes.Clone(lightFrame))
	if len(frames) != 1 || dropped != 0 {
		t.Fatalf("got %d frames %d dropped, want 1 and 0", len(frames), dropped)
	}
	if !bytes.Equal(frames[0], lightFrame) {
		t.Errorf("frame = %X, want %X", frames[0], lightFrame)
	}
	if len(rest) != 0 {
		t.Errorf("rest = %X, want empty", rest)
	}
}

func TestExtractBackToBack(t *testing.T) {
	var buf []byte
	buf = append(buf, lightFrame...)
	buf = append(buf, plugFrame...)
	buf = append(buf, elevatorFrame...)

	frames, rest, dropped := Extract(buf)
	if len(frames) != 3 || dropped != 0 {
		t.Fatalf("got %d frames %d dropped, want 3 and 0", len(frames), dropped)
	}
	for i, want := range [][]byte{lightFrame, plugFrame, elevatorFrame} {
		if !bytes.Equal(frames[i], want) {
			t.Errorf("frame[%d] = %X, want %X", i, frames[i], want)
		}
	}
	if len(rest) != 0 {
		t.Errorf("rest = %X, want empty", rest)
	}
}

func TestExtractLeadingGarbage(t *testing.T) {
	buf := append([]byte{0x00, 0x13, 0xA9}, lightFrame...)
	frames, _, dropped := Extract(buf)
	if len(frames) != 1 || dropped != 0 {
		t.Fatalf("got %d frames %d dropped, want 1 and 0", len(frames), dropped)
	}
}

func TestExtractNoMarker(t *testing.T) {
	frames, rest, dropped := Extract([]byte{0x00, 0x01, 0x02, 0x03})
	if len(frames) != 0 || len(rest) != 0 || dropped != 0 {
		t.Errorf("got %d frames rest %X dropped %d, want nothing", len(frames), rest, dropped)
	}
}

// A frame split across two reads is held back until the remainder arrives.
func TestExtractSplitRead(t *testing.T) {
	buf := append([]byte{}, lightFrame...)
	buf = append(buf, plugFrame[:6]...)

	frames, rest, dropped := Extract(buf)
	if len(frames) != 1 || dropped != 0 {
		t.Fatalf("first read: got %d frames %d dropped, want 1 and 0", len(frames), dropped)
	}
	if !bytes.Equal(rest, plugFrame[:6]) {
		t.Fatalf("rest = %X, want %X", rest, plugFrame[:6])
	}

	buf = append(bytes.Clone(rest), plugFrame[6:]...)
	frames, rest, dropped = Extract(buf)
	if len(frames) != 1 || dropped != 0 {
		t.Fatalf("second read: got %d frames %d dropped, want 1 and 0", len(frames), dropped)
	}
	if !bytes.Equal(frames[0], plugFrame) {
		t.Errorf("frame = %X, want %X", frames[0], plugFrame)
	}
	if len(rest) != 0 {
		t.Errorf("rest = %X, want empty", rest)
	}
}

// A corrupt candidate costs one byte of scan position, never the valid
// frame behind it.
func TestExtractResyncAfterCorruption(t *testing.T) {
	bad := bytes.Clone(lightFrame)
	bad[6] ^= 0xFF

	buf := append(bad, plugFrame...)
	frames, rest, dropped := Extract(buf)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if !bytes.Equal(frames[0], plugFrame) {
		t.Errorf("frame = %X, want %X", frames[0], plugFrame)
	}
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	if len(rest) != 0 {
		t.Errorf("rest = %X, want empty", rest)
	}
}

// A state frame cut short by the next frame's marker is abandoned at the
// marker rather than swallowing the frame that follows.
func TestExtractTruncatedByNextMarker(t *testing.T) {
	buf := append(bytes.Clone(lightFrame[:8]), plugFrame...)
	frames, _, dropped := Extract(buf)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if !bytes.Equal(frames[0], plugFrame) {
		t.Errorf("frame = %X, want %X", frames[0], plugFrame)
	}
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
}

// Command, ACK and query frames are eight bytes no matter what their fifth
// byte says. Device 0x60 is not in the table, so its frame reads as fixed
// length even though byte 4 would imply ten.
func TestExtractFixedLengthFrames(t *testing.T) {
	unknown := []byte{0xF7, 0x60, 0x2F, 0x81, 0x03, 0x00, 0x3A, 0x44}
	query := []byte{0xF7, 0x36, 0x1F, 0x01, 0x00, 0x00, 0xDF, 0x2C}
	ack := []byte{0xF7, 0x39, 0x11, 0xC1, 0x01, 0x00, 0x1F, 0x22}

	var buf []byte
	buf = append(buf, unknown...)
	buf = append(buf, query...)
	buf = append(buf, ack...)

	frames, rest, dropped := Extract(buf)
	if len(frames) != 3 || dropped != 0 {
		t.Fatalf("got %d frames %d dropped, want 3 and 0", len(frames), dropped)
	}
	for i, want := range [][]byte{unknown, query, ack} {
		if !bytes.Equal(frames[i], want) {
			t.Errorf("frame[%d] = %X, want %X", i, frames[i], want)
		}
	}
	if len(rest) != 0 {
		t.Errorf("rest = %X, want empty", rest)
	}
}

func TestExtractDoesNotAliasBuffer(t *testing.T) {
	buf := bytes.Clone(lightFrame)
	frames, _, _ := Extract(buf)
	if len(frames) != 1 {
		t.Fatal("no frame")
	}
	buf[5] = 0xEE
	if frames[0][5] == 0xEE {
		t.Error("extracted frame shares storage with the input buffer")
	}
}

func TestFrameAccessors(t *testing.T) {
	f := Frame(lightFrame)
	if f.DeviceID() != 0x0E || f.SubAddr() != 0x11 || f.Command() != 0x81 {
		t.Errorf("header = %02X %02X %02X, want 0E 11 81", f.DeviceID(), f.SubAddr(), f.Command())
	}
	if f.Hex() != "f70e118104000000006d08" {
		t.Errorf("Hex() = %q, want f70e118104000000006d08", f.Hex())
	}
	if f.Signature() != "f70e1181" {
		t.Errorf("Signature() = %q, want f70e1181", f.Signature())
	}
}

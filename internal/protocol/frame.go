// Package protocol implements the EzVille RS485 wallpad frame grammar:
// extraction and validation of marker-delimited frames, decoding into typed
// per-family events, and encoding of outgoing command frames.
package protocol

import (
	"bytes"
	"encoding/hex"
)

// Marker starts every frame on the bus.
const Marker = 0xF7

// Frame layout: [marker, device_id, sub_addr, command, length, payload..., xor, add].
// State frames declare their payload size in the length byte; command, ACK and
// query frames are always eight bytes total regardless of it.
type Frame []byte

func (f Frame) DeviceID() byte { return f[1] }
func (f Frame) SubAddr() byte  { return f[2] }
func (f Frame) Command() byte  { return f[3] }

// Hex returns the frame as a lowercase hex string.
func (f Frame) Hex() string { return hex.EncodeToString(f) }

// Signature groups frames from unrecognized device ids by their first four bytes.
func (f Frame) Signature() string { return hex.EncodeToString(f[:4]) }

const (
	// minFrameLen is a zero-payload state frame: header(5) + xor + add.
	minFrameLen = 7
	// fixedFrameLen covers command, ACK and query frames.
	fixedFrameLen = 8
)

// fillChecksum writes the XOR/ADD pair into the last two bytes of p,
// overwriting whatever is there. XOR covers every byte before its slot; ADD
// is the low byte of the sum of every byte before its slot, the XOR byte
// included.
func fillChecksum(p []byte) {
	var x byte
	for _, b := range p[:len(p)-2] {
		x ^= b
	}
	p[len(p)-2] = x
	var s uint
	for _, b := range p[:len(p)-1] {
		s += uint(b)
	}
	p[len(p)-1] = byte(s)
}

// checksumOK reports whether the trailing XOR/ADD pair matches the frame body.
func checksumOK(p []byte) bool {
	if len(p) < minFrameLen {
		return false
	}
	var x byte
	for _, b := range p[:len(p)-2] {
		x ^= b
	}
	if p[len(p)-2] != x {
		return false
	}
	var s uint
	for _, b := range p[:len(p)-1] {
		s += uint(b)
	}
	return p[len(p)-1] == byte(s)
}

// Extract splits buf into checksum-validated frames and returns the
// unconsumed tail for the caller to prepend to its next read. Bytes before
// the first marker are discarded. A candidate that fails validation costs
// only itself: scanning resumes at the following marker, so one corrupt
// frame never desynchronizes the frames behind it. dropped counts rejected
// candidates. Extract keeps no state between calls and the returned frames
// do not alias buf.
func Extract(buf []byte) (frames []Frame, rest []byte, dropped int) {
	for {
		i := bytes.IndexByte(buf, Marker)
		if i < 0 {
			return frames, nil, dropped
		}
		buf = buf[i:]
		if len(buf) < 5 {
			// Header incomplete, wait for more bytes.
			return frames, buf, dropped
		}

		flen := fixedFrameLen
		if spec, ok := deviceTable[buf[1]]; ok && buf[3] == spec.stateCmd {
			flen = 5 + int(buf[4]) + 2
		}
		// Frames arrive back to back with no gap. A marker before the
		// declared end wins over the length byte.
		if j := bytes.IndexByte(buf[1:], Marker); j >= 0 && j+1 < flen {
			flen = j + 1
		}
		if len(buf) < flen {
			return frames, buf, dropped
		}

		if cand := buf[:flen]; checksumOK(cand) {
			frames = append(frames, Frame(bytes.Clone(cand)))
			buf = buf[flen:]
		} else {
			dropped++
			buf = buf[1:]
		}
	}
}

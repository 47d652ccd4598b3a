package coordinator

import "sync/atomic"

// Stats counts pipeline activity. All fields are updated atomically from
// the ingestion goroutines and read by the web layer.
type Stats struct {
	BytesIn        atomic.Uint64
	Frames         atomic.Uint64
	FramesDropped  atomic.Uint64 // checksum or framing rejects
	DecodeErrors   atomic.Uint64
	UnknownFrames  atomic.Uint64
	EventsDropped  atomic.Uint64 // notification channel overflow
	Sends          atomic.Uint64
	Acks           atomic.Uint64
	SendDrops      atomic.Uint64 // retry window exceeded
	WriteErrors    atomic.Uint64
	Reconnects     atomic.Uint64
}

// Snapshot returns the current counters keyed for JSON output.
func (s *Stats) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"bytes_in":       s.BytesIn.Load(),
		"frames":         s.Frames.Load(),
		"frames_dropped": s.FramesDropped.Load(),
		"decode_errors":  s.DecodeErrors.Load(),
		"unknown_frames": s.UnknownFrames.Load(),
		"events_dropped": s.EventsDropped.Load(),
		"sends":          s.Sends.Load(),
		"acks":           s.Acks.Load(),
		"send_drops":     s.SendDrops.Load(),
		"write_errors":   s.WriteErrors.Load(),
		"reconnects":     s.Reconnects.Load(),
	}
}

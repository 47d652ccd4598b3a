package coordinator

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ezville-go-home/internal/protocol"
)

// maxTailBytes caps the partial-frame buffer. A tail this long means the
// stream is garbage, not a frame still in flight.
const maxTailBytes = 4096

// readLoop pulls raw bytes off the transport and hands them to the
// process loop. Transport failures trigger a reconnect with backoff.
func (c *Coordinator) readLoop() {
	defer c.wg.Done()
	buf := make([]byte, 512)
	for {
		if c.ctx.Err() != nil {
			return
		}
		tr := c.transport()
		if tr == nil {
			if !c.reopen() {
				return
			}
			continue
		}
		n, err := tr.Read(buf)
		if n > 0 {
			c.stats.BytesIn.Add(uint64(n))
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case c.raw <- chunk:
			case <-c.ctx.Done():
				return
			}
		}
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Warn("bus read failed, reconnecting", "error", err)
			if !c.reopen() {
				return
			}
		}
	}
}

// processLoop frames the byte stream and drives the sender. Commands go
// out only when the inbound side is drained, so writes land in the gaps
// between wallpad polling rounds.
func (c *Coordinator) processLoop() {
	defer c.wg.Done()

	var dump *dumpWriter
	var dumpUntil time.Time
	if c.config.DumpTime > 0 {
		dump = &dumpWriter{logger: c.logger}
		dumpUntil = time.Now().Add(c.config.DumpTime)
		c.logger.Warn("dumping raw bus traffic", "for", c.config.DumpTime)
	}

	tail := make([]byte, 0, 512)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return

		case chunk := <-c.raw:
			if dump != nil {
				if time.Now().Before(dumpUntil) {
					dump.Write(chunk)
					continue
				}
				dump.Close()
				dump = nil
				c.logger.Warn("dump done")
			}

			tail = append(tail, chunk...)
			frames, rest, dropped := protocol.Extract(tail)
			if dropped > 0 {
				c.stats.FramesDropped.Add(uint64(dropped))
			}
			for _, f := range frames {
				c.handleFrame(f)
			}
			tail = append(tail[:0], rest...)
			if len(tail) > maxTailBytes {
				c.logger.Warn("discarding oversized partial frame", "len", len(tail))
				tail = tail[:0]
			}

		case <-ticker.C:
			if dump != nil {
				if time.Now().Before(dumpUntil) {
					continue
				}
				dump.Close()
				dump = nil
				c.logger.Warn("dump done")
			}
			if len(c.raw) == 0 && len(tail) == 0 {
				c.sender.Flush(time.Now())
			}
		}
	}
}

// handleFrame runs one framed packet through ack matching, decode, and
// the state store.
func (c *Coordinator) handleFrame(f protocol.Frame) {
	c.stats.Frames.Add(1)
	c.sender.NoteFrame(f)

	events, err := protocol.Decode(f)
	if err != nil {
		c.stats.DecodeErrors.Add(1)
		c.logger.Debug("frame decode failed", "frame", f.Hex(), "error", err)
		return
	}

	now := time.Now()
	for _, ev := range events {
		if _, unknown := ev.(protocol.UnknownFrame); unknown {
			c.stats.UnknownFrames.Add(1)
		} else if !c.enabled[ev.Family()] {
			continue
		}
		change, ok := c.states.Observe(ev, now)
		if !ok {
			continue
		}
		select {
		case c.notifications <- change:
		default:
			c.stats.EventsDropped.Add(1)
			c.logger.Warn("notification queue full, dropping change", "key", change.Key)
		}
	}
}

// dispatchLoop fans state changes out to persistence and the event bus,
// off the hot ingest path.
func (c *Coordinator) dispatchLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case ch := <-c.notifications:
			c.dispatch(ch)
		}
	}
}

func (c *Coordinator) dispatch(ch Change) {
	if !ch.Transient {
		c.persistChange(ch)
	}

	typ := EventStateUpdate
	switch ch.State.(type) {
	case protocol.CommandEcho:
		typ = EventCommandEcho
	case protocol.UnknownFrame:
		typ = EventUnknownFrame
	default:
		if ch.New {
			c.logger.Info("device discovered", "family", ch.Family, "key", ch.Key)
			c.events.Emit(Event{
				Type:   EventDeviceDiscovered,
				Family: ch.Family,
				Key:    ch.Key,
				New:    true,
				State:  ch.State,
				At:     ch.At,
			})
		}
	}

	c.events.Emit(Event{
		Type:      typ,
		Family:    ch.Family,
		Key:       ch.Key,
		New:       ch.New,
		Transient: ch.Transient,
		State:     ch.State,
		At:        ch.At,
	})
}

// dumpWriter renders raw traffic one frame per log line, split on the
// frame marker, for protocol archaeology on unknown installations.
type dumpWriter struct {
	logger *slog.Logger
	line   []byte
}

func (d *dumpWriter) Write(chunk []byte) {
	for _, b := range chunk {
		if b == protocol.Marker && len(d.line) > 0 {
			d.flush()
		}
		d.line = append(d.line, b)
		if len(d.line) > 500 {
			d.flush()
		}
	}
}

func (d *dumpWriter) flush() {
	if len(d.line) == 0 {
		return
	}
	var sb strings.Builder
	for i, b := range d.line {
		if i == 0 {
			fmt.Fprintf(&sb, "%02X", b)
		} else {
			fmt.Fprintf(&sb, ",  %02X", b)
		}
	}
	d.logger.Info("bus dump", "bytes", sb.String())
	d.line = d.line[:0]
}

func (d *dumpWriter) Close() {
	d.flush()
}

package coordinator

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"ezville-go-home/internal/protocol"
)

const (
	// DefaultMaxRetry bounds how long a queued command is retried before
	// it is dropped.
	DefaultMaxRetry = 10 * time.Second

	// warnAfter is how long a command may stay unacknowledged before
	// retries are logged at warning level.
	warnAfter = 3 * time.Second

	// resendEvery paces repeat transmissions of the head command.
	resendEvery = 100 * time.Millisecond

	maxQueuedCommands = 64
)

// ErrQueueFull is returned by Enqueue when the command queue is saturated,
// usually because the bus is down and nothing is being acknowledged.
var ErrQueueFull = errors.New("command queue full")

type queuedCommand struct {
	frame    protocol.Frame
	ack      [4]byte
	hasAck   bool
	queuedAt time.Time
	sent     bool
	lastSend time.Time
}

// Sender owns the outbound half of the bus. Commands are queued and the
// head of the queue is retransmitted until the matching acknowledgement
// frame is observed on the bus or the retry window runs out. Flush is
// driven by the coordinator loop during bus idle gaps so writes never
// collide with an in-progress inbound frame.
type Sender struct {
	write    func([]byte) (int, error)
	logger   *slog.Logger
	stats    *Stats
	maxRetry time.Duration

	mu    sync.Mutex
	queue []*queuedCommand
}

// NewSender creates a sender that writes through the given function.
// maxRetry <= 0 selects DefaultMaxRetry.
func NewSender(write func([]byte) (int, error), maxRetry time.Duration, stats *Stats, logger *slog.Logger) *Sender {
	if maxRetry <= 0 {
		maxRetry = DefaultMaxRetry
	}
	return &Sender{
		write:    write,
		logger:   logger,
		stats:    stats,
		maxRetry: maxRetry,
	}
}

// Enqueue adds a command frame to the send queue. The frame is copied so
// the caller may reuse its buffer. Frames whose device does not send
// acknowledgements are transmitted once and dropped from the queue.
func (s *Sender) Enqueue(f protocol.Frame) error {
	c := &queuedCommand{
		frame:    append(protocol.Frame(nil), f...),
		queuedAt: time.Now(),
	}
	c.ack, c.hasAck = protocol.ExpectedAck(f)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) >= maxQueuedCommands {
		return ErrQueueFull
	}
	s.queue = append(s.queue, c)
	return nil
}

// Pending reports how many commands are waiting for acknowledgement.
func (s *Sender) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// NoteFrame inspects an inbound frame and resolves any queued command that
// was waiting for it as an acknowledgement. Returns true when a command
// was confirmed.
func (s *Sender) NoteFrame(f protocol.Frame) bool {
	if len(f) < 4 {
		return false
	}
	hdr := [4]byte{f[0], f[1], f[2], f[3]}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.queue {
		if !c.hasAck || c.ack != hdr {
			continue
		}
		s.logger.Info("ack from device",
			"frame", c.frame.Hex(),
			"elapsed", time.Since(c.queuedAt).Round(time.Millisecond))
		s.queue = append(s.queue[:i], s.queue[i+1:]...)
		s.stats.Acks.Add(1)
		return true
	}
	return false
}

// Flush transmits the head of the queue if it is due. Called from the
// coordinator loop whenever the bus has gone quiet.
func (s *Sender) Flush(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return
	}
	c := s.queue[0]

	elapsed := now.Sub(c.queuedAt)
	if elapsed > s.maxRetry {
		s.logger.Error("max retry time exceeded, dropping command",
			"frame", c.frame.Hex())
		s.queue = s.queue[1:]
		s.stats.SendDrops.Add(1)
		return
	}
	if c.sent && now.Sub(c.lastSend) < resendEvery {
		return
	}

	if _, err := s.write(c.frame); err != nil {
		s.logger.Error("bus write failed", "frame", c.frame.Hex(), "error", err)
		s.stats.WriteErrors.Add(1)
		return
	}
	c.sent = true
	c.lastSend = now
	s.stats.Sends.Add(1)

	switch {
	case !c.hasAck:
		s.logger.Info("waive ack from device", "frame", c.frame.Hex())
		s.queue = s.queue[1:]
	case elapsed > warnAfter:
		s.logger.Warn("command not acknowledged, retrying",
			"frame", c.frame.Hex(),
			"remaining", (s.maxRetry - elapsed).Round(100*time.Millisecond))
	default:
		s.logger.Info("send to device", "frame", c.frame.Hex())
	}
}

// Clear drops all queued commands. Used on shutdown.
func (s *Sender) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
}

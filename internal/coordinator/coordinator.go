package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ezville-go-home/internal/protocol"
	"ezville-go-home/internal/store"
	"ezville-go-home/internal/transport"
)

// Config holds coordinator configuration.
type Config struct {
	// PollInterval is how often state queries are put on the bus.
	// Zero disables background polling.
	PollInterval time.Duration
	// MaxRetry bounds command retransmission, DefaultMaxRetry when zero.
	MaxRetry time.Duration
	// TransientExpiry overrides how long command echoes stay visible.
	TransientExpiry time.Duration
	// DumpTime, when positive, logs raw bus traffic for that long at
	// startup instead of decoding it.
	DumpTime time.Duration
	// Capabilities names the enabled device families. Empty enables all.
	Capabilities []string
}

// Coordinator owns the wallpad bus. It reads and frames bus traffic,
// decodes it into device state, arbitrates outgoing commands against the
// inbound stream, and fans decoded changes out to the event bus. Consumers
// (MQTT bridge, web, automations) hang off the event bus and the command
// methods and never touch the transport.
type Coordinator struct {
	trCfg   transport.Config
	store   store.Store
	states  *StateStore
	events  *EventBus
	sender  *Sender
	stats   *Stats
	logger  *slog.Logger
	config  Config
	enabled map[protocol.Family]bool

	trMu sync.RWMutex
	tr   transport.Transport

	raw           chan []byte
	notifications chan Change

	startedAt  time.Time
	restarts   int
	baseFrames uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Coordinator. The transport is opened by Start, not here.
func New(trCfg transport.Config, st store.Store, events *EventBus, cfg Config, logger *slog.Logger) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		trCfg:         trCfg,
		store:         st,
		states:        NewStateStore(cfg.TransientExpiry),
		events:        events,
		stats:         &Stats{},
		logger:        logger,
		config:        cfg,
		enabled:       enabledFamilies(cfg.Capabilities, logger),
		raw:           make(chan []byte, 256),
		notifications: make(chan Change, 256),
		ctx:           ctx,
		cancel:        cancel,
	}
	c.sender = NewSender(c.writeBus, cfg.MaxRetry, c.stats, logger)
	return c
}

func enabledFamilies(names []string, logger *slog.Logger) map[protocol.Family]bool {
	m := make(map[protocol.Family]bool)
	if len(names) == 0 {
		for _, f := range protocol.Families() {
			m[f] = true
		}
		return m
	}
	known := make(map[protocol.Family]bool)
	for _, f := range protocol.Families() {
		known[f] = true
	}
	for _, n := range names {
		f := protocol.Family(n)
		if !known[f] {
			logger.Warn("unknown capability ignored", "name", n)
			continue
		}
		m[f] = true
	}
	return m
}

// Context returns the coordinator's context, cancelled on Stop().
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// Start connects the transport, reloads persisted device state, and runs
// the bus pipeline until Stop.
func (c *Coordinator) Start(ctx context.Context) error {
	c.logger.Info("connecting to wallpad bus", "transport", c.trCfg.Kind)
	tr, err := transport.Open(c.trCfg, c.logger)
	if err != nil {
		return fmt.Errorf("open bus transport: %w", err)
	}
	c.trMu.Lock()
	c.tr = tr
	c.trMu.Unlock()

	c.loadPersisted()
	c.loadRunInfo()

	c.wg.Add(3)
	go c.readLoop()
	go c.processLoop()
	go c.dispatchLoop()

	if c.config.PollInterval > 0 {
		c.wg.Add(1)
		go c.pollLoop()
	}

	c.logger.Info("bus pipeline started",
		"transport", tr.Kind(),
		"devices", c.states.Len(),
		"poll", c.config.PollInterval)
	return nil
}

// Stop shuts the pipeline down and persists run counters.
func (c *Coordinator) Stop() {
	c.cancel()
	c.trMu.Lock()
	if c.tr != nil {
		c.tr.Close()
		c.tr = nil
	}
	c.trMu.Unlock()
	c.wg.Wait()
	c.sender.Clear()
	c.states.Close()
	c.saveRunInfo()
	c.logger.Info("bus pipeline stopped", "frames", c.stats.Frames.Load())
}

// transport returns the current transport, nil while reconnecting.
func (c *Coordinator) transport() transport.Transport {
	c.trMu.RLock()
	defer c.trMu.RUnlock()
	return c.tr
}

// writeBus is the sender's write path. It always goes through the current
// transport so queued commands survive a reconnect.
func (c *Coordinator) writeBus(p []byte) (int, error) {
	tr := c.transport()
	if tr == nil {
		return 0, errors.New("bus not connected")
	}
	return tr.Write(p)
}

// reopen replaces a failed transport, backing off between attempts.
// Returns false when the coordinator is shutting down.
func (c *Coordinator) reopen() bool {
	c.trMu.Lock()
	if c.tr != nil {
		c.tr.Close()
		c.tr = nil
	}
	c.trMu.Unlock()

	backoff := 10 * time.Millisecond
	for {
		if c.ctx.Err() != nil {
			return false
		}
		tr, err := transport.Open(c.trCfg, c.logger)
		if err == nil {
			c.trMu.Lock()
			c.tr = tr
			c.trMu.Unlock()
			c.stats.Reconnects.Add(1)
			c.logger.Info("bus transport reconnected", "transport", tr.Kind())
			return true
		}
		c.logger.Warn("bus reconnect failed", "error", err, "backoff", backoff)
		select {
		case <-c.ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 5*time.Second {
			backoff = 5 * time.Second
		}
	}
}

func (c *Coordinator) loadRunInfo() {
	c.startedAt = time.Now()
	ri, err := c.store.GetRunInfo()
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("load run info", "error", err)
		}
		ri = &store.RunInfo{}
	}
	c.restarts = ri.Restarts + 1
	c.baseFrames = ri.FramesTotal
	c.saveRunInfo()
}

func (c *Coordinator) saveRunInfo() {
	err := c.store.SaveRunInfo(&store.RunInfo{
		Transport:   c.trCfg.Kind,
		StartedAt:   c.startedAt,
		Restarts:    c.restarts,
		FramesTotal: c.baseFrames + c.stats.Frames.Load(),
	})
	if err != nil {
		c.logger.Error("save run info", "error", err)
	}
}

// FamilyEnabled reports whether a device family is configured in.
func (c *Coordinator) FamilyEnabled(f protocol.Family) bool {
	return c.enabled[f]
}

// Capabilities lists the enabled families in table order.
func (c *Coordinator) Capabilities() []protocol.Family {
	var out []protocol.Family
	for _, f := range protocol.Families() {
		if c.enabled[f] {
			out = append(out, f)
		}
	}
	return out
}

// Store returns the persistence layer.
func (c *Coordinator) Store() store.Store {
	return c.store
}

// States returns the live device state store.
func (c *Coordinator) States() *StateStore {
	return c.states
}

// Events returns the event bus.
func (c *Coordinator) Events() *EventBus {
	return c.events
}

// Stats returns the pipeline counters.
func (c *Coordinator) Stats() *Stats {
	return c.stats
}

// PendingCommands reports commands queued for the bus.
func (c *Coordinator) PendingCommands() int {
	return c.sender.Pending()
}

// BusInfo summarizes the bus connection for display.
func (c *Coordinator) BusInfo() map[string]interface{} {
	info := map[string]interface{}{
		"transport":  c.trCfg.Kind,
		"started_at": c.startedAt.Format(time.RFC3339),
		"restarts":   c.restarts,
		"devices":    c.states.Len(),
		"pending":    c.sender.Pending(),
	}
	switch c.trCfg.Kind {
	case transport.KindSerial:
		info["port"] = c.trCfg.Serial.Port
		info["baud"] = c.trCfg.Serial.Baud
	case transport.KindSocket:
		info["address"] = c.trCfg.Socket.Address
	case transport.KindMQTT:
		info["broker"] = c.trCfg.MQTT.Broker
	}
	caps := make([]string, 0, len(c.enabled))
	for _, f := range protocol.Families() {
		if c.enabled[f] {
			caps = append(caps, string(f))
		}
	}
	info["capabilities"] = caps
	return info
}

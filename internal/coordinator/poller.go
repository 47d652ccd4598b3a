package coordinator

import (
	"time"

	"ezville-go-home/internal/protocol"
)

// pollTargets lists the state queries of one polling round, gas valve
// first. Sub-addresses follow the group conventions seen in wallpad
// traffic.
var pollTargets = []struct {
	family protocol.Family
	sub    byte
}{
	{protocol.FamilyGas, 0x01},
	{protocol.FamilyElevator, 0x01},
	{protocol.FamilyThermostat, 0x1F},
	{protocol.FamilyLight, 0x11},
	{protocol.FamilyPlug, 0x1F},
	{protocol.FamilyFan, 0x01},
	{protocol.FamilyEnergy, 0x11},
	{protocol.FamilyDoorbell, 0x01},
}

// pollLoop keeps state flowing on installations where the wallpad does
// not volunteer it on its own.
func (c *Coordinator) pollLoop() {
	defer c.wg.Done()

	initial := time.NewTimer(time.Second)
	defer initial.Stop()
	select {
	case <-c.ctx.Done():
		return
	case <-initial.C:
	}
	c.pollOnce()

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce()
		}
	}
}

// pollOnce queues one state query per enabled family. Rounds are skipped
// while real commands wait in the queue.
func (c *Coordinator) pollOnce() {
	if c.sender.Pending() > 0 {
		c.logger.Debug("skipping poll round, commands pending")
		return
	}
	for _, t := range pollTargets {
		if !c.enabled[t.family] {
			continue
		}
		if err := c.RequestState(t.family, t.sub); err != nil {
			c.logger.Debug("poll query not queued", "family", t.family, "error", err)
			return
		}
	}
}

// PollNow runs one polling round immediately.
func (c *Coordinator) PollNow() {
	c.pollOnce()
}

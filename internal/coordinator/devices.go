package coordinator

import (
	"errors"
	"fmt"
	"time"

	"ezville-go-home/internal/protocol"
	"ezville-go-home/internal/store"
)

// ForgetDevice drops a device from the live table and the database.
// The wallpad will re-announce anything still on the bus, so this is
// mainly for clearing stale unknown-device records.
func (c *Coordinator) ForgetDevice(key string) error {
	rec, live := c.states.Get(key)
	dropped := c.states.Delete(key)
	err := c.store.DeleteDevice(key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete device %s: %w", key, err)
	}
	if !dropped && err != nil {
		return fmt.Errorf("device %s: %w", key, store.ErrNotFound)
	}
	family := protocol.FamilyUnknown
	if live {
		family = rec.Family
	}
	c.logger.Info("device forgotten", "key", key, "family", family)
	c.events.Emit(Event{
		Type:   EventDeviceRemoved,
		Family: family,
		Key:    key,
		At:     time.Now(),
	})
	return nil
}

// RenameDevice sets the user-visible name stored alongside a device.
func (c *Coordinator) RenameDevice(key, name string) error {
	err := c.store.UpdateDevice(key, func(dev *store.Device) error {
		dev.Name = name
		return nil
	})
	if err != nil {
		return fmt.Errorf("rename device %s: %w", key, err)
	}
	c.logger.Info("device renamed", "key", key, "name", name)
	return nil
}

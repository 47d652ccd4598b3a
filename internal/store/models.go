package store

import (
	"encoding/json"
	"time"
)

// Device is one wallpad sub-device as last seen on the bus. State carries
// the family-typed snapshot serialized as JSON; the coordinator rehydrates
// it by family on startup.
type Device struct {
	Key       string          `json:"key"`
	Family    string          `json:"family"`
	Name      string          `json:"name,omitempty"`
	State     json.RawMessage `json:"state,omitempty"`
	FirstSeen time.Time       `json:"first_seen"`
	LastSeen  time.Time       `json:"last_seen"`
}

// RunInfo holds bridge runtime metadata persisted across restarts.
type RunInfo struct {
	Transport   string    `json:"transport"`
	StartedAt   time.Time `json:"started_at"`
	Restarts    int       `json:"restarts"`
	FramesTotal uint64    `json:"frames_total"`
}

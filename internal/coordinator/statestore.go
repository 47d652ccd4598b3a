package coordinator

import (
	"sync"
	"time"

	"ezville-go-home/internal/protocol"
)

// DefaultTransientExpiry is how long command echoes stay visible before the
// store forgets them.
const DefaultTransientExpiry = 500 * time.Millisecond

// Record is one tracked sub-device and its last observed state.
type Record struct {
	Key       string          `json:"key"`
	Family    protocol.Family `json:"family"`
	State     protocol.Event  `json:"state"`
	Transient bool            `json:"transient,omitempty"`
	FirstSeen time.Time       `json:"first_seen"`
	LastSeen  time.Time       `json:"last_seen"`
}

// Change reports that an observation altered the store.
type Change struct {
	Key       string
	Family    protocol.Family
	New       bool // first observation of this key
	Transient bool
	State     protocol.Event
	At        time.Time
}

type transientRecord struct {
	rec   Record
	gen   uint64
	timer *time.Timer
}

// StateStore keeps the last state per device key. Durable records (state
// snapshots and unknown-device sightings) live until shutdown and remember
// insertion order; command echoes are transient and expire on their own.
// The store owns its expiry timers and cancels them on Close.
type StateStore struct {
	mu        sync.Mutex
	durable   map[string]*Record
	order     []string // durable keys, insertion order
	transient map[string]*transientRecord
	expiry    time.Duration
	gen       uint64
	closed    bool
}

// NewStateStore creates a store with the given transient expiry;
// zero or negative means DefaultTransientExpiry.
func NewStateStore(expiry time.Duration) *StateStore {
	if expiry <= 0 {
		expiry = DefaultTransientExpiry
	}
	return &StateStore{
		durable:   make(map[string]*Record),
		transient: make(map[string]*transientRecord),
		expiry:    expiry,
	}
}

// Observe records one decoded event. The returned Change is valid only when
// ok is true: state snapshots and unknown sightings report a change when the
// key is new or the comparable state differs from the last one, command
// echoes always report one. LastSeen refreshes on every observation either
// way, so an unchanged but chatty device still reads as alive.
func (s *StateStore) Observe(ev protocol.Event, now time.Time) (Change, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Change{}, false
	}

	if echo, isEcho := ev.(protocol.CommandEcho); isEcho {
		return s.observeTransient(echo, now), true
	}

	key := ev.Key()
	r, exists := s.durable[key]
	if !exists {
		r = &Record{
			Key:       key,
			Family:    ev.Family(),
			State:     ev,
			FirstSeen: now,
			LastSeen:  now,
		}
		s.durable[key] = r
		s.order = append(s.order, key)
		return Change{Key: key, Family: r.Family, New: true, State: ev, At: now}, true
	}

	r.LastSeen = now
	if r.State == ev {
		return Change{}, false
	}
	r.State = ev
	return Change{Key: key, Family: r.Family, State: ev, At: now}, true
}

func (s *StateStore) observeTransient(echo protocol.CommandEcho, now time.Time) Change {
	key := echo.Key()
	tr, exists := s.transient[key]
	if exists {
		tr.timer.Stop()
	} else {
		tr = &transientRecord{rec: Record{
			Key:       key,
			Family:    echo.Family(),
			Transient: true,
			FirstSeen: now,
		}}
		s.transient[key] = tr
	}
	tr.rec.State = echo
	tr.rec.LastSeen = now
	s.gen++
	gen := s.gen
	tr.gen = gen
	tr.timer = time.AfterFunc(s.expiry, func() { s.expire(key, gen) })

	return Change{
		Key:       key,
		Family:    echo.Family(),
		New:       !exists,
		Transient: true,
		State:     echo,
		At:        now,
	}
}

// expire drops a transient record unless it was refreshed after this timer
// was armed.
func (s *StateStore) expire(key string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tr, ok := s.transient[key]; ok && tr.gen == gen {
		delete(s.transient, key)
	}
}

// Seed inserts a durable record without producing a change, used to restore
// persisted devices at startup. Existing keys are left alone.
func (s *StateStore) Seed(state protocol.Event, firstSeen, lastSeen time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := state.Key()
	if _, exists := s.durable[key]; exists || s.closed {
		return
	}
	s.durable[key] = &Record{
		Key:       key,
		Family:    state.Family(),
		State:     state,
		FirstSeen: firstSeen,
		LastSeen:  lastSeen,
	}
	s.order = append(s.order, key)
}

// Get returns a copy of one durable record.
func (s *StateStore) Get(key string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.durable[key]; ok {
		return *r, true
	}
	return Record{}, false
}

// List returns copies of all durable records in insertion order. Transient
// records never appear here.
func (s *StateStore) List() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, *s.durable[key])
	}
	return out
}

// Transients returns copies of the command echoes still visible, in no
// particular order.
func (s *StateStore) Transients() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.transient))
	for _, tr := range s.transient {
		out = append(out, tr.rec)
	}
	return out
}

// Delete removes a durable record. It reports whether the key existed.
func (s *StateStore) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.durable[key]; !ok {
		return false
	}
	delete(s.durable, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Len reports the number of durable records.
func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.durable)
}

// Close cancels all pending transient expirations. Observations after Close
// are dropped.
func (s *StateStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for key, tr := range s.transient {
		tr.timer.Stop()
		delete(s.transient, key)
	}
}

package exchange

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wippyai/fetch-bridge/errors"
)

// Record is one live exchange.
type Record struct {
	value   any
	created time.Time
	label   string
	key     Key
	state   atomic.Uint32
	removed atomic.Bool
}

// Key returns the record's table key.
func (r *Record) Key() Key { return r.key }

// ID returns the exchange ID.
func (r *Record) ID() uint64 { return r.key.ID }

// Direction returns the exchange direction.
func (r *Record) Direction() Direction { return r.key.Direction }

// State returns the current lifecycle state.
func (r *Record) State() State { return State(r.state.Load()) }

// Value returns the payload stored at insert time.
func (r *Record) Value() any { return r.value }

// Label returns the human-readable description given at insert time.
func (r *Record) Label() string { return r.label }

// Created returns the insertion time.
func (r *Record) Created() time.Time { return r.created }

// Removed reports whether the record has left the table.
func (r *Record) Removed() bool { return r.removed.Load() }

// Snapshot is a point-in-time copy of a record.
type Snapshot struct {
	Created time.Time
	Label   string
	Key     Key
	State   State
}

// Table tracks live exchanges by (direction, id) and allocates outbound
// IDs.
type Table struct {
	records   map[Key]*Record
	observers map[uint64]Observer
	seq       atomic.Uint64
	obsSeq    uint64
	mu        sync.RWMutex
	obsMu     sync.RWMutex
	closed    bool
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		records:   make(map[Key]*Record),
		observers: make(map[uint64]Observer),
	}
}

// NextID returns the next outbound exchange ID. IDs start at 1 and only
// grow.
func (t *Table) NextID() uint64 {
	return t.seq.Add(1)
}

// Insert registers a new exchange in the given initial state. A key that
// is still live cannot be inserted again.
func (t *Table) Insert(dir Direction, id uint64, state State, label string, value any) (*Record, error) {
	key := Key{Direction: dir, ID: id}
	rec := &Record{
		key:     key,
		label:   label,
		value:   value,
		created: time.Now(),
	}
	rec.state.Store(uint32(state))

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, errors.New(errors.PhaseDispatch, errors.KindClosed).
			Detail("exchange table closed").
			Build()
	}
	if _, exists := t.records[key]; exists {
		t.mu.Unlock()
		return nil, errors.DuplicateExchange(dir.String(), id)
	}
	t.records[key] = rec
	t.mu.Unlock()

	t.notify(Event{Type: EventCreated, Key: key, State: state, Label: label})
	return rec, nil
}

// Get returns the live record for (dir, id).
func (t *Table) Get(dir Direction, id uint64) (*Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[Key{Direction: dir, ID: id}]
	return rec, ok
}

// Lookup is Get with a not-found error.
func (t *Table) Lookup(dir Direction, id uint64) (*Record, error) {
	rec, ok := t.Get(dir, id)
	if !ok {
		return nil, errors.ExchangeNotFound(dir.String(), id)
	}
	return rec, nil
}

// Transition moves rec to state and notifies observers. Transitions on a
// removed record are ignored.
func (t *Table) Transition(rec *Record, state State) {
	if rec.Removed() {
		return
	}
	if State(rec.state.Swap(uint32(state))) == state {
		return
	}
	t.notify(Event{Type: EventStateChanged, Key: rec.key, State: state, Label: rec.label})
}

// TransitionFrom moves rec to state only if it is currently in from.
func (t *Table) TransitionFrom(rec *Record, from, state State) bool {
	if rec.Removed() || !rec.state.CompareAndSwap(uint32(from), uint32(state)) {
		return false
	}
	t.notify(Event{Type: EventStateChanged, Key: rec.key, State: state, Label: rec.label})
	return true
}

// Remove takes rec out of the table. Only the first call for a record has
// any effect; it drops the payload and notifies observers. It reports
// whether this call removed the record.
func (t *Table) Remove(rec *Record) bool {
	if !rec.removed.CompareAndSwap(false, true) {
		return false
	}

	t.mu.Lock()
	if cur, ok := t.records[rec.key]; ok && cur == rec {
		delete(t.records, rec.key)
	}
	t.mu.Unlock()

	if d, ok := rec.value.(Dropper); ok {
		d.Drop()
	}

	t.notify(Event{Type: EventRemoved, Key: rec.key, State: rec.State(), Label: rec.label})
	return true
}

// Len returns the number of live exchanges.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Snapshot returns copies of all live records ordered by creation time.
func (t *Table) Snapshot() []Snapshot {
	t.mu.RLock()
	out := make([]Snapshot, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, Snapshot{
			Key:     rec.key,
			State:   rec.State(),
			Label:   rec.label,
			Created: rec.created,
		})
	}
	t.mu.RUnlock()

	slices.SortFunc(out, func(a, b Snapshot) int {
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Key.Direction, b.Key.Direction); c != 0 {
			return c
		}
		return cmp.Compare(a.Key.ID, b.Key.ID)
	})
	return out
}

// Subscribe registers o and returns a function that unregisters it.
func (t *Table) Subscribe(o Observer) (unsubscribe func()) {
	t.obsMu.Lock()
	t.obsSeq++
	id := t.obsSeq
	t.observers[id] = o
	t.obsMu.Unlock()

	return func() {
		t.obsMu.Lock()
		delete(t.observers, id)
		t.obsMu.Unlock()
	}
}

// Close removes every live record and rejects further inserts.
func (t *Table) Close() error {
	t.mu.Lock()
	t.closed = true
	recs := make([]*Record, 0, len(t.records))
	for _, rec := range t.records {
		recs = append(recs, rec)
	}
	t.mu.Unlock()

	for _, rec := range recs {
		t.Remove(rec)
	}
	return nil
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnExchangeEvent(e)
	}
}

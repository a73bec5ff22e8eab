package exchange

import (
	"errors"
	"sync"
	"testing"

	bferrors "github.com/wippyai/fetch-bridge/errors"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnExchangeEvent(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type dropCounter struct{ n int }

func (d *dropCounter) Drop() { d.n++ }

func TestTable_Basic(t *testing.T) {
	table := NewTable()

	rec, err := table.Insert(Inbound, 7, HeadPending, "GET /", nil)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID() != 7 || rec.Direction() != Inbound || rec.State() != HeadPending {
		t.Fatalf("record = %v %v %v", rec.ID(), rec.Direction(), rec.State())
	}

	got, ok := table.Get(Inbound, 7)
	if !ok || got != rec {
		t.Fatal("Get failed")
	}
	if _, ok := table.Get(Outbound, 7); ok {
		t.Error("directions must not share a namespace")
	}

	if !table.Remove(rec) {
		t.Fatal("Remove failed")
	}
	if table.Len() != 0 {
		t.Fatalf("Len = %d after Remove", table.Len())
	}
	if _, err := table.Lookup(Inbound, 7); !errors.Is(err, &bferrors.Error{Phase: bferrors.PhaseDispatch, Kind: bferrors.KindNotFound}) {
		t.Errorf("Lookup err = %v", err)
	}
}

func TestTable_DuplicateLiveKey(t *testing.T) {
	table := NewTable()
	rec, err := table.Insert(Inbound, 1, HeadPending, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := table.Insert(Inbound, 1, HeadPending, "", nil); err == nil {
		t.Fatal("duplicate live key must be rejected")
	}
	if _, err := table.Insert(Outbound, 1, Requested, "", nil); err != nil {
		t.Errorf("same id in the other direction: %v", err)
	}

	table.Remove(rec)
	if _, err := table.Insert(Inbound, 1, HeadPending, "", nil); err != nil {
		t.Errorf("key should be reusable after removal: %v", err)
	}
}

func TestTable_RemoveExactlyOnce(t *testing.T) {
	table := NewTable()
	obs := &recorder{}
	table.Subscribe(obs)

	drop := &dropCounter{}
	rec, _ := table.Insert(Outbound, table.NextID(), Requested, "", drop)

	var wg sync.WaitGroup
	var removed sync.Map
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if table.Remove(rec) {
				removed.Store(i, true)
			}
		}()
	}
	wg.Wait()

	n := 0
	removed.Range(func(any, any) bool { n++; return true })
	if n != 1 {
		t.Errorf("Remove succeeded %d times", n)
	}
	if drop.n != 1 {
		t.Errorf("Drop called %d times", drop.n)
	}
	types := obs.types()
	if len(types) != 2 || types[0] != EventCreated || types[1] != EventRemoved {
		t.Errorf("events = %v", types)
	}
}

func TestTable_StaleRemoveKeepsNewRecord(t *testing.T) {
	table := NewTable()
	old, _ := table.Insert(Inbound, 3, HeadPending, "", nil)
	table.Remove(old)
	fresh, _ := table.Insert(Inbound, 3, HeadPending, "", nil)

	if table.Remove(old) {
		t.Error("second Remove of a record must be a no-op")
	}
	if got, ok := table.Get(Inbound, 3); !ok || got != fresh {
		t.Error("stale Remove evicted the new record")
	}
}

func TestTable_NextIDMonotonic(t *testing.T) {
	table := NewTable()
	var prev uint64
	for range 100 {
		id := table.NextID()
		if id <= prev {
			t.Fatalf("id %d after %d", id, prev)
		}
		prev = id
	}
	if first := NewTable().NextID(); first != 1 {
		t.Errorf("first id = %d, want 1", first)
	}
}

func TestTable_Transition(t *testing.T) {
	table := NewTable()
	obs := &recorder{}
	unsubscribe := table.Subscribe(obs)

	rec, _ := table.Insert(Inbound, 1, HeadPending, "", nil)
	table.Transition(rec, BodyStreaming)
	table.Transition(rec, BodyStreaming)
	table.Transition(rec, HandlerRunning)
	table.Remove(rec)
	table.Transition(rec, Closed)

	want := []EventType{EventCreated, EventStateChanged, EventStateChanged, EventRemoved}
	got := obs.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, got[i], want[i])
		}
	}

	unsubscribe()
	table.Insert(Inbound, 2, HeadPending, "", nil)
	if len(obs.types()) != len(want) {
		t.Error("unsubscribed observer still notified")
	}
}

func TestTable_TransitionFrom(t *testing.T) {
	table := NewTable()
	rec, _ := table.Insert(Outbound, 1, Requested, "", nil)

	if !table.TransitionFrom(rec, Requested, HeadersAwaited) {
		t.Fatal("expected transition from requested")
	}
	if table.TransitionFrom(rec, Requested, HeadersAwaited) {
		t.Error("transition from a stale state must fail")
	}
	if rec.State() != HeadersAwaited {
		t.Errorf("state = %v", rec.State())
	}
}

func TestTable_Close(t *testing.T) {
	table := NewTable()
	drop := &dropCounter{}
	table.Insert(Inbound, 1, HeadPending, "", drop)
	table.Insert(Outbound, 1, Requested, "", nil)

	if err := table.Close(); err != nil {
		t.Fatal(err)
	}
	if table.Len() != 0 || drop.n != 1 {
		t.Errorf("Len = %d, drops = %d", table.Len(), drop.n)
	}
	if _, err := table.Insert(Inbound, 5, HeadPending, "", nil); err == nil {
		t.Error("Insert after Close should fail")
	}
}

func TestTable_Snapshot(t *testing.T) {
	table := NewTable()
	table.Insert(Inbound, 9, HeadPending, "a", nil)
	table.Insert(Outbound, 1, Requested, "b", nil)

	snap := table.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot len = %d", len(snap))
	}
	labels := map[string]bool{}
	for _, s := range snap {
		labels[s.Label] = true
	}
	if !labels["a"] || !labels["b"] {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestState_String(t *testing.T) {
	if HeadPending.String() != "head-pending" || Errored.String() != "errored" {
		t.Error("unexpected state names")
	}
	if !ResponseComplete.Terminal() || HandlerRunning.Terminal() {
		t.Error("unexpected Terminal results")
	}
}

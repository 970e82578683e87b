package txn

import "testing"

func TestRegistry_BeginThenGet(t *testing.T) {
	r := NewRegistry()
	tx := r.Begin(RepeatableRead)

	got, err := r.Get(tx.ID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != tx {
		t.Errorf("expected Get to return the same transaction instance")
	}
}

func TestRegistry_GetUnknownReturnsError(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get(ID(999)); err == nil {
		t.Errorf("expected an error for an unknown transaction id")
	}
}

func TestRegistry_RemoveDropsFromRegistry(t *testing.T) {
	r := NewRegistry()
	tx := r.Begin(ReadCommitted)
	r.Remove(tx.ID())

	if _, err := r.Get(tx.ID()); err == nil {
		t.Errorf("expected removed transaction to no longer be found")
	}
}

func TestRegistry_ActiveFiltersByState(t *testing.T) {
	r := NewRegistry()
	growing := r.Begin(RepeatableRead)
	committed := r.Begin(RepeatableRead)
	committed.SetState(Committed)

	active := r.Active()
	if len(active) != 1 || active[0].ID() != growing.ID() {
		t.Errorf("expected only the growing transaction to be active, got %v", active)
	}
}

func TestRegistry_Count(t *testing.T) {
	r := NewRegistry()
	r.Begin(ReadCommitted)
	r.Begin(ReadCommitted)

	if r.Count() != 2 {
		t.Errorf("expected count 2, got %d", r.Count())
	}
}

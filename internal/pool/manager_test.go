package pool

import "testing"

func TestManagerPoolLookupMiss(t *testing.T) {
	m := NewManager()
	if _, ok := m.Pool("warehouse"); ok {
		t.Error("expected no pool registered on a fresh Manager")
	}
}

func TestManagerDetachUnregisteredIsNoop(t *testing.T) {
	m := NewManager()
	if err := m.Detach("warehouse"); err != nil {
		t.Errorf("Detach on an unregistered context: %v", err)
	}
}

func TestManagerStatsEmpty(t *testing.T) {
	m := NewManager()
	stats := m.Stats()
	if len(stats) != 0 {
		t.Errorf("got %d stats entries, want 0", len(stats))
	}
}

func TestManagerCloseEmpty(t *testing.T) {
	m := NewManager()
	if err := m.Close(); err != nil {
		t.Errorf("Close on an empty Manager: %v", err)
	}
}

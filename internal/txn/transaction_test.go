package txn

import "testing"

func TestNewTransactionIsUnbound(t *testing.T) {
	tx := New(nil)
	if tx.InTransaction() {
		t.Error("expected a freshly created Transaction to not be bound")
	}
}

func TestCommitWithoutDataAccessIsNoop(t *testing.T) {
	tx := New(nil)
	if err := tx.Commit(nil); err != nil {
		t.Errorf("Commit on an unbound Transaction: %v", err)
	}
	if tx.InTransaction() {
		t.Error("expected Transaction to remain unbound after a no-op Commit")
	}
}

func TestRollbackWithoutDataAccessIsNoop(t *testing.T) {
	tx := New(nil)
	if err := tx.Rollback(nil); err != nil {
		t.Errorf("Rollback on an unbound Transaction: %v", err)
	}
	if tx.InTransaction() {
		t.Error("expected Transaction to remain unbound after a no-op Rollback")
	}
}

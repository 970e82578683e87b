package lock

import (
	"errors"
	"sync"
	"testing"
	"time"

	"coredb/pkg/concurrency/txn"
	"coredb/pkg/storage/page"
)

func newTestManager() (*Manager, *txn.Registry) {
	reg := txn.NewRegistry()
	return New(reg, nil), reg
}

func TestLockShared_GrantedWhenQueueEmpty(t *testing.T) {
	m, reg := newTestManager()
	tr := reg.Begin(txn.RepeatableRead)
	rid := page.RID{PageID: 1, Slot: 0}

	if err := m.LockShared(tr, rid); err != nil {
		t.Fatalf("LockShared: %v", err)
	}
	if !tr.HoldsShared(rid) {
		t.Errorf("expected transaction to hold shared lock on %s", rid)
	}
}

func TestLockShared_CompatibleWithOtherShared(t *testing.T) {
	m, reg := newTestManager()
	t1 := reg.Begin(txn.RepeatableRead)
	t2 := reg.Begin(txn.RepeatableRead)
	rid := page.RID{PageID: 1}

	if err := m.LockShared(t1, rid); err != nil {
		t.Fatalf("t1 LockShared: %v", err)
	}
	if err := m.LockShared(t2, rid); err != nil {
		t.Fatalf("t2 LockShared: %v", err)
	}
}

func TestLockShared_NoOpUnderReadUncommitted(t *testing.T) {
	m, reg := newTestManager()
	tr := reg.Begin(txn.ReadUncommitted)
	rid := page.RID{PageID: 1}

	if err := m.LockShared(tr, rid); err != nil {
		t.Errorf("expected LockShared to be a no-op success under READ_UNCOMMITTED, got %v", err)
	}
	if tr.HoldsShared(rid) {
		t.Errorf("expected no lock to actually be recorded for a READ_UNCOMMITTED no-op")
	}
}

func TestLockShared_RejectedWhenNotGrowing(t *testing.T) {
	m, reg := newTestManager()
	tr := reg.Begin(txn.RepeatableRead)
	tr.SetState(txn.Aborted)
	rid := page.RID{PageID: 1}

	if err := m.LockShared(tr, rid); err != ErrLockAborted {
		t.Errorf("expected ErrLockAborted for a non-Growing transaction, got %v", err)
	}
}

func TestWoundWait_OlderWoundsYoungerHolder(t *testing.T) {
	m, reg := newTestManager()
	young := reg.Begin(txn.RepeatableRead) // begins first but we want it younger, so flip below
	old := reg.Begin(txn.RepeatableRead)
	rid := page.RID{PageID: 7}

	// young actually has the smaller id since it was registered first; swap
	// roles so names match ages: "old" must have the smaller ID.
	if !old.ID().OlderThan(young.ID()) {
		old, young = young, old
	}

	if err := m.LockExclusive(young, rid); err != nil {
		t.Fatalf("young LockExclusive: %v", err)
	}

	if err := m.LockExclusive(old, rid); err != nil {
		t.Fatalf("old LockExclusive: %v", err)
	}

	if young.State() != txn.Aborted {
		t.Errorf("expected younger holder to be wounded, got state %s", young.State())
	}
	if !old.HoldsExclusive(rid) {
		t.Errorf("expected older transaction to hold the exclusive lock")
	}
}

func TestWoundWait_YoungerWaitsForOlderHolder(t *testing.T) {
	m, reg := newTestManager()
	old := reg.Begin(txn.RepeatableRead)
	young := reg.Begin(txn.RepeatableRead)
	rid := page.RID{PageID: 9}

	if err := m.LockExclusive(old, rid); err != nil {
		t.Fatalf("old LockExclusive: %v", err)
	}

	granted := make(chan error, 1)
	go func() {
		granted <- m.LockExclusive(young, rid)
	}()

	select {
	case err := <-granted:
		t.Fatalf("expected young to block, but LockExclusive returned %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	m.Unlock(old, rid)

	select {
	case err := <-granted:
		if err != nil {
			t.Fatalf("young LockExclusive after release: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("young never granted after old released")
	}

	if !young.HoldsExclusive(rid) {
		t.Errorf("expected young to hold the lock after old's release")
	}
}

func TestLockUpgrade(t *testing.T) {
	m, reg := newTestManager()
	tr := reg.Begin(txn.RepeatableRead)
	rid := page.RID{PageID: 3}

	if err := m.LockShared(tr, rid); err != nil {
		t.Fatalf("LockShared: %v", err)
	}
	if err := m.LockUpgrade(tr, rid); err != nil {
		t.Fatalf("LockUpgrade: %v", err)
	}
	if !tr.HoldsExclusive(rid) {
		t.Errorf("expected transaction to hold exclusive lock after upgrade")
	}
	if tr.HoldsShared(rid) {
		t.Errorf("expected shared lock to be cleared after upgrade")
	}
}

func TestLockUpgrade_ConflictWhenAlreadyUpgrading(t *testing.T) {
	m, reg := newTestManager()
	t1 := reg.Begin(txn.RepeatableRead)
	t2 := reg.Begin(txn.RepeatableRead)
	rid := page.RID{PageID: 4}

	if err := m.LockShared(t1, rid); err != nil {
		t.Fatalf("t1 LockShared: %v", err)
	}
	if err := m.LockShared(t2, rid); err != nil {
		t.Fatalf("t2 LockShared: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	// t2's upgrade starts first and blocks behind t1's shared lock, so it is
	// already in flight when t1 asks for its own.
	go func() { defer wg.Done(); results[1] = m.LockUpgrade(t2, rid) }()
	waitUntil(t, func() bool {
		g, _ := m.waitsForGraph()
		return len(g[t2.ID()]) > 0
	})
	go func() { defer wg.Done(); results[0] = m.LockUpgrade(t1, rid) }()
	wg.Wait()

	conflicts := 0
	for _, err := range results {
		if errors.Is(err, ErrUpgradeConflict) {
			conflicts++
		}
	}
	if conflicts == 0 {
		t.Errorf("expected at least one concurrent upgrade to be rejected with ErrUpgradeConflict")
	}
}

func TestUnlock_TransitionsToShrinkingUnderRepeatableRead(t *testing.T) {
	m, reg := newTestManager()
	tr := reg.Begin(txn.RepeatableRead)
	rid := page.RID{PageID: 5}

	if err := m.LockShared(tr, rid); err != nil {
		t.Fatalf("LockShared: %v", err)
	}
	m.Unlock(tr, rid)

	if tr.State() != txn.Shrinking {
		t.Errorf("expected Shrinking after release under REPEATABLE_READ, got %s", tr.State())
	}
}

func TestUnlock_ReadCommittedExclusiveReleaseTransitionsToShrinking(t *testing.T) {
	m, reg := newTestManager()
	tr := reg.Begin(txn.ReadCommitted)
	rid := page.RID{PageID: 6}

	if err := m.LockExclusive(tr, rid); err != nil {
		t.Fatalf("LockExclusive: %v", err)
	}
	tr.GrantShared(page.RID{PageID: 66}) // simulate a held shared lock elsewhere
	m.Unlock(tr, rid)

	if tr.State() != txn.Shrinking {
		t.Errorf("expected Shrinking after releasing an exclusive lock, got %s", tr.State())
	}
}

package lock

import (
	"testing"
	"time"

	"coredb/pkg/concurrency/txn"
	"coredb/pkg/storage/page"
)

func TestWaitsForGraph_NoCycleAfterNormalWait(t *testing.T) {
	m, reg := newTestManager()
	old := reg.Begin(txn.RepeatableRead)
	young := reg.Begin(txn.RepeatableRead)
	rid := page.RID{PageID: 1}

	if err := m.LockExclusive(old, rid); err != nil {
		t.Fatalf("old LockExclusive: %v", err)
	}

	go m.LockExclusive(young, rid) //nolint:errcheck

	waitUntil(t, func() bool {
		g, _ := m.waitsForGraph()
		return len(g[young.ID()]) > 0
	})

	g, _ := m.waitsForGraph()
	if cyc := g.findCycle(); cyc != nil {
		t.Errorf("expected no cycle, found %v", cyc)
	}

	m.Unlock(old, rid)
}

func TestDetector_AbortedVictimReportsErrDeadlock(t *testing.T) {
	m, reg := newTestManager()
	a := reg.Begin(txn.RepeatableRead)
	b := reg.Begin(txn.RepeatableRead)
	ridA := page.RID{PageID: 1}
	ridB := page.RID{PageID: 2}

	if err := m.LockExclusive(a, ridA); err != nil {
		t.Fatalf("a LockExclusive ridA: %v", err)
	}
	if err := m.LockExclusive(b, ridB); err != nil {
		t.Fatalf("b LockExclusive ridB: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- m.LockExclusive(b, ridA) }()

	waitUntil(t, func() bool {
		g, _ := m.waitsForGraph()
		return len(g[b.ID()]) > 0
	})

	// Exercise the same victim bookkeeping scanOnce performs on a detected
	// cycle, without needing a third transaction to manufacture a genuine
	// one here.
	m.mu.Lock()
	m.deadlockVictims[b.ID()] = true
	m.mu.Unlock()
	b.SetState(txn.Aborted)
	m.wakeEveryQueueWaitedOnBy(b.ID())

	if err := <-errCh; err != ErrDeadlock {
		t.Errorf("expected ErrDeadlock for a detector-marked victim, got %v", err)
	}
}

func TestFindCycle_DetectsSimpleCycle(t *testing.T) {
	g := waitsForGraph{
		1: {2},
		2: {1},
	}
	cyc := g.findCycle()
	if cyc == nil {
		t.Fatal("expected a cycle to be found")
	}
}

func TestFindCycle_AcyclicGraph(t *testing.T) {
	g := waitsForGraph{
		1: {2},
		2: {3},
	}
	if cyc := g.findCycle(); cyc != nil {
		t.Errorf("expected no cycle, found %v", cyc)
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	for i := 0; i < 200; i++ {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

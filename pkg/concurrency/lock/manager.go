package lock

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"coredb/pkg/concurrency/txn"
	"coredb/pkg/logging"
	"coredb/pkg/storage/page"
)

var (
	ErrLockAborted     = errors.New("lock: transaction aborted")
	ErrUpgradeConflict = errors.New("lock: another transaction is already upgrading this lock")

	// ErrDeadlock marks an abort caused by the background Detector finding
	// a wait-for cycle, as distinct from an ordinary wound-wait abort
	// (ErrLockAborted). A cycle can form when a requester waits behind an
	// older holder and a younger holder at once (see Manager).
	ErrDeadlock = errors.New("lock: transaction aborted to break a detected deadlock cycle")
)

// Manager grants and releases RID locks under wound-wait deadlock
// avoidance: when every conflicting granted holder of a RID is younger
// than the requester, the requester wounds (aborts) them instead of
// waiting. If any granted holder is older, the requester waits, and it
// then waits behind the younger holders as well; they are wounded only
// when a later Unlock re-grant finds every remaining holder younger than
// the waiter. A requester older than every granted holder never waits, but
// the wait-for graph is not guaranteed to stay acyclic.
//
// The acquisition order relative to the rest of the storage core is fixed:
// callers take RID locks before touching the buffer pool for the
// corresponding page; the lock manager itself never calls into the buffer
// pool.
type Manager struct {
	mu        sync.Mutex // protects queues and waitingOn
	queues    map[page.RID]*Queue
	waitingOn map[txn.ID]page.RID // txn -> RID it is currently blocked on, if any

	deadlockVictims map[txn.ID]bool // txn -> aborted by Detector rather than wound-wait

	registry *txn.Registry
	logger   *slog.Logger
}

// New creates a lock manager whose grant/abort decisions update
// transactions registered in registry. A nil logger discards log output.
func New(registry *txn.Registry, logger *slog.Logger) *Manager {
	return &Manager{
		queues:          make(map[page.RID]*Queue),
		waitingOn:       make(map[txn.ID]page.RID),
		deadlockVictims: make(map[txn.ID]bool),
		registry:        registry,
		logger:          logging.OrDiscard(logger),
	}
}

func (m *Manager) queueFor(rid page.RID) *Queue {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[rid]
	if !ok {
		q = newQueue()
		m.queues[rid] = q
	}
	return q
}

// LockShared acquires a shared lock on rid for t, blocking until granted,
// wounded, or aborted.
func (m *Manager) LockShared(t *txn.Transaction, rid page.RID) error {
	if t.IsolationLevel() == txn.ReadUncommitted {
		return nil
	}
	if t.HoldsShared(rid) || t.HoldsExclusive(rid) {
		return nil
	}
	if t.State() != txn.Growing {
		m.abort(t)
		return ErrLockAborted
	}

	if err := m.acquire(t, rid, Shared); err != nil {
		return err
	}
	t.GrantShared(rid)
	m.logger.Debug("shared lock granted", "txn", t.ID(), "rid", rid)
	return nil
}

// LockExclusive acquires an exclusive lock on rid for t.
func (m *Manager) LockExclusive(t *txn.Transaction, rid page.RID) error {
	if t.HoldsExclusive(rid) {
		return nil
	}
	if t.State() != txn.Growing {
		m.abort(t)
		return ErrLockAborted
	}

	if err := m.acquire(t, rid, Exclusive); err != nil {
		return err
	}
	t.GrantExclusive(rid)
	m.logger.Debug("exclusive lock granted", "txn", t.ID(), "rid", rid)
	return nil
}

// LockUpgrade upgrades t's shared lock on rid to exclusive. Only one
// upgrade may be in flight per RID at a time; a second concurrent upgrade
// request on the same RID fails with ErrUpgradeConflict rather than
// waiting, since waiting could deadlock two transactions against each
// other's upgrade. The rejected requester is aborted and its shared
// request is dropped from the queue, so the upgrade in flight can be
// granted.
func (m *Manager) LockUpgrade(t *txn.Transaction, rid page.RID) error {
	if t.HoldsExclusive(rid) {
		return nil
	}
	if !t.HoldsShared(rid) {
		return fmt.Errorf("lock: %s: cannot upgrade a lock it does not hold on %s", t.ID(), rid)
	}
	if t.State() != txn.Growing {
		m.abort(t)
		return ErrLockAborted
	}

	q := m.queueFor(rid)
	q.mu.Lock()
	if q.upgrading {
		// Abort this requester and drop its shared request, so the upgrade
		// already in flight is not left waiting on it.
		m.abort(t)
		q.removeRequest(t.ID())
		m.regrant(q)
		q.mu.Unlock()
		q.cond.Broadcast()
		return ErrUpgradeConflict
	}
	q.upgrading = true
	req := q.find(t.ID())
	req.Mode = Exclusive
	req.Granted = false

	switch {
	case !q.grantedConflicts(Exclusive):
		req.Granted = true
	case m.canWound(q, t.ID()):
		m.wound(q, t.ID())
		req.Granted = true
	}
	granted := req.Granted
	q.mu.Unlock()

	if !granted {
		if err := m.waitForGrant(t, rid, q); err != nil {
			q.mu.Lock()
			q.upgrading = false
			q.mu.Unlock()
			return err
		}
	}

	q.mu.Lock()
	q.upgrading = false
	q.mu.Unlock()

	t.GrantExclusive(rid)
	m.logger.Info("lock upgraded", "txn", t.ID(), "rid", rid)
	return nil
}

// acquire enqueues t's request for mode on rid, grants it immediately if
// the queue is empty or every granted holder is compatible, wounds
// conflicting younger holders if t is the oldest contender, or blocks
// until one of those becomes true.
func (m *Manager) acquire(t *txn.Transaction, rid page.RID, mode Mode) error {
	q := m.queueFor(rid)

	q.mu.Lock()
	q.requests = append(q.requests, &Request{TxnID: t.ID(), Mode: mode})

	if !q.grantedConflicts(mode) {
		q.find(t.ID()).Granted = true
		q.mu.Unlock()
		return nil
	}

	if m.canWound(q, t.ID()) {
		m.wound(q, t.ID())
		q.find(t.ID()).Granted = true
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()

	return m.waitForGrant(t, rid, q)
}

// canWound reports whether every granted holder in q is younger than
// requester — the wound-wait rule: an older transaction wounds younger
// holders instead of waiting for them.
func (m *Manager) canWound(q *Queue, requester txn.ID) bool {
	for _, r := range q.requests {
		if r.Granted && r.TxnID != requester && !requester.OlderThan(r.TxnID) {
			return false
		}
	}
	return true
}

// wound aborts every granted holder in q other than requester, removing
// them from the queue so requester's own grant (performed by the caller
// immediately after) sees a clean slate.
func (m *Manager) wound(q *Queue, requester txn.ID) {
	kept := make([]*Request, 0, len(q.requests))
	var victims []txn.ID
	for _, r := range q.requests {
		if r.Granted && r.TxnID != requester {
			m.abortByID(r.TxnID)
			victims = append(victims, r.TxnID)
			continue
		}
		kept = append(kept, r)
	}
	q.requests = kept
	q.cond.Broadcast()

	// A wounded transaction may simultaneously be blocked waiting on a
	// different RID; wake that queue too so it notices the abort right
	// away instead of only on that queue's next unrelated grant.
	for _, v := range victims {
		m.broadcastWaitingElsewhere(v)
	}
	m.broadcastWaitingElsewhere(requester)
}

// waitForGrant blocks the calling goroutine until t's request on rid is
// granted or t is aborted by a wounding elsewhere.
func (m *Manager) waitForGrant(t *txn.Transaction, rid page.RID, q *Queue) error {
	m.mu.Lock()
	m.waitingOn[t.ID()] = rid
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.waitingOn, t.ID())
		m.mu.Unlock()
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if t.State() == txn.Aborted {
			q.removeRequest(t.ID())
			return m.abortError(t.ID())
		}
		if req := q.find(t.ID()); req != nil && req.Granted {
			return nil
		}
		q.cond.Wait()
	}
}

// abortError reports which kind of abort put id into the Aborted state:
// ErrDeadlock if the background Detector marked it a cycle victim,
// ErrLockAborted for an ordinary wound.
func (m *Manager) abortError(id txn.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deadlockVictims[id] {
		delete(m.deadlockVictims, id)
		return ErrDeadlock
	}
	return ErrLockAborted
}

func (q *Queue) removeRequest(id txn.ID) {
	for i, r := range q.requests {
		if r.TxnID == id {
			q.removeAt(i)
			return
		}
	}
}

// broadcastWaitingElsewhere wakes id's goroutine if it is currently
// blocked waiting on a different RID's queue, so a wound discovered there
// propagates immediately instead of only on that queue's next grant.
func (m *Manager) broadcastWaitingElsewhere(id txn.ID) {
	m.mu.Lock()
	rid, ok := m.waitingOn[id]
	m.mu.Unlock()
	if !ok {
		return
	}

	m.mu.Lock()
	q := m.queues[rid]
	m.mu.Unlock()
	if q == nil {
		return
	}
	// Broadcast does not require holding q.mu, and avoiding it here sidesteps
	// a lock-ordering cycle between two queues wounding each other's waiters
	// at the same time.
	q.cond.Broadcast()
}

func (m *Manager) abort(t *txn.Transaction) {
	t.SetState(txn.Aborted)
}

func (m *Manager) abortByID(id txn.ID) {
	if m.registry == nil {
		return
	}
	if t, err := m.registry.Get(id); err == nil {
		t.SetState(txn.Aborted)
		m.logger.Info("transaction wounded", "txn", id)
	}
}

// Unlock releases t's lock on rid. If t's isolation level calls for strict
// two-phase locking on this release (REPEATABLE_READ always; READ_COMMITTED
// only on an exclusive release), t moves to the Shrinking state, after
// which it may never acquire another lock.
//
// Re-granting waiters walks the queue in order, wounding a granted holder
// only when the waiter being considered for the grant is older than that
// holder — the conservative rule: Unlock never wounds on behalf of a
// younger waiter.
func (m *Manager) Unlock(t *txn.Transaction, rid page.RID) {
	wasExclusive := t.HoldsExclusive(rid)
	t.Release(rid)

	if t.IsolationLevel() == txn.RepeatableRead || wasExclusive {
		if t.State() == txn.Growing {
			t.SetState(txn.Shrinking)
		}
	}

	q := m.queueFor(rid)
	q.mu.Lock()
	q.removeRequest(t.ID())
	m.regrant(q)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// UnlockAll releases every lock t holds, typically called once at commit
// or abort.
func (m *Manager) UnlockAll(t *txn.Transaction) {
	for _, rid := range t.ExclusiveRIDs() {
		m.Unlock(t, rid)
	}
	for _, rid := range t.SharedRIDs() {
		m.Unlock(t, rid)
	}
}

// regrant walks a snapshot of q's waiters in arrival order, granting every
// one whose mode is compatible with everything already granted, wounding a
// younger granted holder only when doing so unblocks an older waiter.
// It snapshots first because wound replaces q.requests (dropping the
// wounded holders) while the walk is still in progress.
func (m *Manager) regrant(q *Queue) {
	waiters := make([]*Request, 0, len(q.requests))
	for _, r := range q.requests {
		if !r.Granted {
			waiters = append(waiters, r)
		}
	}

	for _, w := range waiters {
		r := q.find(w.TxnID)
		if r == nil || r.Granted {
			continue
		}
		if !q.grantedConflicts(r.Mode) {
			r.Granted = true
			continue
		}
		if m.canWound(q, r.TxnID) {
			m.wound(q, r.TxnID)
			if r2 := q.find(r.TxnID); r2 != nil {
				r2.Granted = true
			}
		}
	}
}

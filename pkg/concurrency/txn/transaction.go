// Package txn defines the transaction identity and state the lock manager
// enforces strict two-phase locking against. It is a leaf package: it
// depends on storage/page for RID but never on the lock package itself, so
// that an injected registry (rather than a global singleton) can be handed
// to both the lock manager and the buffer pool without an import cycle.
package txn

import (
	"fmt"
	"sync"
	"sync/atomic"

	"coredb/pkg/storage/page"
)

// ID identifies a transaction. IDs are assigned in strictly increasing
// order as transactions begin, so comparing IDs numerically tells you
// which transaction is older — the fact wound-wait deadlock avoidance
// relies on.
type ID int64

func (id ID) String() string {
	return fmt.Sprintf("txn-%d", int64(id))
}

// OlderThan reports whether id was started before other.
func (id ID) OlderThan(other ID) bool {
	return id < other
}

var idCounter atomic.Int64

// NextID allocates a fresh, strictly increasing transaction id.
func NextID() ID {
	return ID(idCounter.Add(1))
}

// IsolationLevel controls which locks a transaction must acquire, per
// spec.md's isolation policy table.
type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
)

// State is a transaction's position in the strict two-phase locking
// protocol: once it releases any lock it moves to Shrinking and may never
// acquire another.
type State int

const (
	Growing State = iota
	Shrinking
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Growing:
		return "GROWING"
	case Shrinking:
		return "SHRINKING"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Transaction tracks a transaction's isolation level, 2PL phase, and the
// RIDs it currently holds locks on. The lock manager reads and mutates the
// lock sets directly; everything else about execution is out of scope.
type Transaction struct {
	mu sync.RWMutex

	id        ID
	isolation IsolationLevel
	state     State

	sharedLocks    map[page.RID]bool
	exclusiveLocks map[page.RID]bool
}

// New creates a transaction in the Growing state with a fresh id.
func New(isolation IsolationLevel) *Transaction {
	return &Transaction{
		id:             NextID(),
		isolation:      isolation,
		state:          Growing,
		sharedLocks:    make(map[page.RID]bool),
		exclusiveLocks: make(map[page.RID]bool),
	}
}

func (t *Transaction) ID() ID                       { return t.id }
func (t *Transaction) IsolationLevel() IsolationLevel { return t.isolationLevel() }

func (t *Transaction) isolationLevel() IsolationLevel {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.isolation
}

func (t *Transaction) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *Transaction) SetState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// GrantShared records that this transaction now holds a shared lock on rid.
func (t *Transaction) GrantShared(rid page.RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sharedLocks[rid] = true
}

// GrantExclusive records that this transaction now holds an exclusive lock
// on rid, removing any shared record for the same rid (an upgrade).
func (t *Transaction) GrantExclusive(rid page.RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sharedLocks, rid)
	t.exclusiveLocks[rid] = true
}

// Release removes rid from both lock sets.
func (t *Transaction) Release(rid page.RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sharedLocks, rid)
	delete(t.exclusiveLocks, rid)
}

func (t *Transaction) HoldsShared(rid page.RID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sharedLocks[rid]
}

func (t *Transaction) HoldsExclusive(rid page.RID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.exclusiveLocks[rid]
}

// SharedRIDs and ExclusiveRIDs snapshot the lock sets, for UnlockAll-style
// cleanup at commit/abort.
func (t *Transaction) SharedRIDs() []page.RID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]page.RID, 0, len(t.sharedLocks))
	for r := range t.sharedLocks {
		out = append(out, r)
	}
	return out
}

func (t *Transaction) ExclusiveRIDs() []page.RID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]page.RID, 0, len(t.exclusiveLocks))
	for r := range t.exclusiveLocks {
		out = append(out, r)
	}
	return out
}

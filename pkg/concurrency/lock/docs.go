// Package lock implements record-level locking under wound-wait deadlock
// avoidance for strict two-phase-locking transactions.
//
// # Overview
//
// Every lockable unit is a [coredb/pkg/storage/page.RID]. A transaction
// acquires locks during its Growing phase and, on its first release, moves
// to Shrinking — after which it may never acquire another lock. Two modes
// are supported, [Shared] and [Exclusive], with the usual compatibility
// rule: any number of transactions may hold Shared locks on a RID at once,
// but Exclusive excludes everything else.
//
// # Wound-wait
//
// When every conflicting granted holder of a RID is younger than the
// requester, [Manager.LockShared] and [Manager.LockExclusive] have the
// requester wound (abort) those holders, then take the lock itself. A
// requester that conflicts with any older holder instead waits on the
// RID's [Queue] condition variable, behind the younger holders too; the
// rule is all-or-nothing per request. A requester older than every granted
// holder therefore never waits, but a transaction can still wait on a
// younger one, so the wait-for graph can contain a cycle.
//
// [Manager.Unlock] re-grants queued waiters in arrival order once a lock
// is released, applying the same wound rule conservatively: it only wounds
// a granted holder on behalf of a waiter older than that holder, never the
// reverse.
//
// # Isolation levels
//
// [coredb/pkg/concurrency/txn.ReadUncommitted] transactions never take
// shared locks — [Manager.LockShared] is a no-op success for them, granting
// nothing and recording nothing. Under
// [coredb/pkg/concurrency/txn.ReadCommitted], releasing a shared lock does
// not transition the transaction to Shrinking, so it may keep acquiring
// further shared locks after an early release; releasing an exclusive lock
// always transitions it. Under
// [coredb/pkg/concurrency/txn.RepeatableRead], any release transitions.
//
// # Deadlock detector
//
// [Detector] is an optional background scan for the cycles the
// all-or-nothing wound rule above can leave. It periodically rebuilds the
// graph from the manager's queues and, if a cycle is found, aborts the
// youngest transaction in it.
package lock

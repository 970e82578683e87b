package lock

import (
	"log/slog"
	"time"

	"coredb/pkg/concurrency/txn"
	"coredb/pkg/logging"
)

// Detector periodically scans the lock manager's queues for cycles in the
// waits-for graph and aborts the youngest transaction in any cycle found.
// Wound-wait prevents most cycles, but a requester that waits behind both
// an older and a younger holder can still close one; this pass catches
// those.
type Detector struct {
	manager  *Manager
	interval time.Duration
	logger   *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// NewDetector creates a detector that scans m's queues every interval.
func NewDetector(m *Manager, interval time.Duration, logger *slog.Logger) *Detector {
	return &Detector{
		manager:  m,
		interval: interval,
		logger:   logging.OrDiscard(logger),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background scanning goroutine. Calling Start twice on
// the same Detector is not supported.
func (d *Detector) Start() {
	go d.run()
}

// Stop signals the background goroutine to exit and waits for it to do so.
func (d *Detector) Stop() {
	close(d.stop)
	<-d.done
}

func (d *Detector) run() {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.scanOnce()
		}
	}
}

// scanOnce builds the waits-for graph from the manager's current queues,
// checks it for a cycle, and if one exists aborts the youngest transaction
// in it.
func (d *Detector) scanOnce() {
	graph, txnsInCycle := d.manager.waitsForGraph()
	cycle := graph.findCycle()
	if cycle == nil {
		return
	}

	victim := youngest(cycle)
	d.logger.Info("deadlock detected, aborting victim", "victim", victim, "cycle", cycle, "error", ErrDeadlock)
	if t, err := d.manager.registry.Get(victim); err == nil {
		d.manager.mu.Lock()
		d.manager.deadlockVictims[victim] = true
		d.manager.mu.Unlock()

		t.SetState(txn.Aborted)
		d.manager.wakeEveryQueueWaitedOnBy(victim)
	}
	_ = txnsInCycle
}

func youngest(ids []txn.ID) txn.ID {
	max := ids[0]
	for _, id := range ids[1:] {
		if max.OlderThan(id) {
			max = id
		}
	}
	return max
}

// waitsForGraph is the adjacency list of a directed graph: an edge
// waiter -> holder means waiter cannot proceed until holder releases a
// conflicting lock.
type waitsForGraph map[txn.ID][]txn.ID

// waitsForGraph snapshots the current wait-for relationships across every
// queue the manager tracks.
func (m *Manager) waitsForGraph() (waitsForGraph, map[txn.ID]bool) {
	m.mu.Lock()
	queues := make([]*Queue, 0, len(m.queues))
	for _, q := range m.queues {
		queues = append(queues, q)
	}
	m.mu.Unlock()

	g := make(waitsForGraph)
	present := make(map[txn.ID]bool)

	for _, q := range queues {
		q.mu.Lock()
		for _, waiter := range q.requests {
			if waiter.Granted {
				continue
			}
			present[waiter.TxnID] = true
			for _, holder := range q.requests {
				if holder.Granted && !compatible(holder.Mode, waiter.Mode) {
					g[waiter.TxnID] = append(g[waiter.TxnID], holder.TxnID)
					present[holder.TxnID] = true
				}
			}
		}
		q.mu.Unlock()
	}
	return g, present
}

// findCycle runs DFS over g and returns the transaction ids on the first
// cycle found, or nil if the graph is acyclic.
func (g waitsForGraph) findCycle() []txn.ID {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[txn.ID]int)
	var path []txn.ID

	var dfs func(txn.ID) []txn.ID
	dfs = func(id txn.ID) []txn.ID {
		state[id] = visiting
		path = append(path, id)

		for _, next := range g[id] {
			switch state[next] {
			case unvisited:
				if cyc := dfs(next); cyc != nil {
					return cyc
				}
			case visiting:
				for i, p := range path {
					if p == next {
						return append([]txn.ID{}, path[i:]...)
					}
				}
			}
		}

		path = path[:len(path)-1]
		state[id] = done
		return nil
	}

	ids := make([]txn.ID, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	for _, id := range ids {
		if state[id] == unvisited {
			if cyc := dfs(id); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}

// wakeEveryQueueWaitedOnBy broadcasts the condition variable of every
// queue that holds a request by id, so a just-aborted transaction's
// blocked goroutine notices immediately
// instead of waiting for the next unrelated grant.
func (m *Manager) wakeEveryQueueWaitedOnBy(id txn.ID) {
	m.mu.Lock()
	queues := make([]*Queue, 0, len(m.queues))
	for _, q := range m.queues {
		queues = append(queues, q)
	}
	m.mu.Unlock()

	for _, q := range queues {
		q.mu.Lock()
		if q.find(id) != nil {
			q.cond.Broadcast()
		}
		q.mu.Unlock()
	}
}

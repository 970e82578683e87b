package buffer

import (
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"coredb/pkg/logging"
	"coredb/pkg/storage/disk"
	"coredb/pkg/storage/page"
)

// Pool is the sharded buffer pool: page id modulo the shard count selects
// which Instance owns a page, spreading latch contention across
// independent mutexes instead of funneling every request through one.
type Pool struct {
	instances []*Instance

	nextMu sync.Mutex
	next   int // round-robin cursor for NewPage
}

// NewPool creates numInstances Instances of poolSize frames each, all
// backed by d. A nil logger discards log output.
func NewPool(poolSize, numInstances int, d disk.Manager, logger *slog.Logger) *Pool {
	logger = logging.OrDiscard(logger)
	instances := make([]*Instance, numInstances)
	for i := range instances {
		instances[i] = NewInstance(poolSize, d, int32(i), int32(numInstances), logger)
	}
	return &Pool{instances: instances}
}

// instanceFor returns the shard responsible for id.
func (p *Pool) instanceFor(id page.ID) *Instance {
	idx := int32(id) % int32(len(p.instances))
	if idx < 0 {
		idx += int32(len(p.instances))
	}
	return p.instances[idx]
}

// NewPage allocates a fresh page, starting from the next instance in
// round-robin order and trying every other instance in turn before giving
// up, so a single exhausted shard doesn't fail the call while a sibling
// shard still has free frames.
func (p *Pool) NewPage() (page.ID, *Frame, error) {
	p.nextMu.Lock()
	start := p.next
	p.next = (p.next + 1) % len(p.instances)
	p.nextMu.Unlock()

	var firstErr error
	for i := 0; i < len(p.instances); i++ {
		inst := p.instances[(start+i)%len(p.instances)]
		id, frame, err := inst.NewPage()
		if err == nil {
			return id, frame, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return page.InvalidID, nil, firstErr
}

func (p *Pool) FetchPage(id page.ID) (*Frame, error) {
	return p.instanceFor(id).FetchPage(id)
}

func (p *Pool) UnpinPage(id page.ID, isDirty bool) bool {
	return p.instanceFor(id).UnpinPage(id, isDirty)
}

func (p *Pool) FlushPage(id page.ID) (bool, error) {
	return p.instanceFor(id).FlushPage(id)
}

func (p *Pool) DeletePage(id page.ID) error {
	return p.instanceFor(id).DeletePage(id)
}

// FlushAllPages flushes every instance concurrently, returning the first
// error encountered (if any) once all instances have finished.
func (p *Pool) FlushAllPages() error {
	var g errgroup.Group
	for _, inst := range p.instances {
		inst := inst
		g.Go(func() error {
			if err := inst.FlushAllPages(); err != nil {
				return fmt.Errorf("buffer: instance %d: %w", inst.instanceIndex, err)
			}
			return nil
		})
	}
	return g.Wait()
}

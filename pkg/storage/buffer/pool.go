// Package buffer implements the buffer pool: the fixed-size cache of page
// frames that sits between the extendible hash index (and any other
// client) and the disk manager. Instance is a single pool shard; Pool
// stripes pages across several Instances for the parallel variant.
package buffer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"coredb/pkg/logging"
	"coredb/pkg/storage/disk"
	"coredb/pkg/storage/page"
)

var (
	ErrPoolExhausted  = errors.New("buffer: no free frame and no evictable frame")
	ErrPageNotResident = errors.New("buffer: page is not resident in the pool")
	ErrPagePinned     = errors.New("buffer: page is still pinned")
)

// Instance is a single buffer pool shard: a fixed-size frame array, a page
// table mapping resident pages to frames, a free list of frames holding
// no page, and an LRUReplacer tracking which resident, unpinned frames may
// be evicted.
type Instance struct {
	mu sync.Mutex

	frames    []Frame
	pageTable map[page.ID]page.FrameID
	freeList  []page.FrameID
	replacer  *LRUReplacer
	disk      disk.Manager

	instanceIndex int32
	numInstances  int32
	nextPageSeq   atomic.Int32

	logger *slog.Logger
}

// NewInstance creates a pool of poolSize frames backed by d. instanceIndex
// and numInstances stripe this instance's page id space for the parallel
// variant; a standalone instance should pass (0, 1). A nil logger
// discards log output.
func NewInstance(poolSize int, d disk.Manager, instanceIndex, numInstances int32, logger *slog.Logger) *Instance {
	freeList := make([]page.FrameID, poolSize)
	for i := range freeList {
		freeList[i] = page.FrameID(i)
	}

	return &Instance{
		frames:        make([]Frame, poolSize),
		pageTable:     make(map[page.ID]page.FrameID),
		freeList:      freeList,
		replacer:      NewLRUReplacer(),
		disk:          d,
		instanceIndex: instanceIndex,
		numInstances:  numInstances,
		logger:        logging.OrDiscard(logger),
	}
}

// AllocatePage reserves the next page id owned by this instance:
// instanceIndex + k*numInstances for increasing k, so that no two
// instances in a Pool ever allocate the same id.
func (bp *Instance) AllocatePage() page.ID {
	k := bp.nextPageSeq.Add(1) - 1
	return page.ID(bp.instanceIndex + k*bp.numInstances)
}

// validatePageID reports whether id belongs to this instance's stripe.
func (bp *Instance) validatePageID(id page.ID) bool {
	return int32(id)%bp.numInstances == bp.instanceIndex
}

// NewPage allocates a fresh page, pins it, and returns its id along with
// the frame holding its (zeroed) contents. It evicts the replacer's victim
// frame if the free list is empty, flushing it first if dirty.
func (bp *Instance) NewPage() (page.ID, *Frame, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	frameID, ok := bp.takeFreeOrVictim()
	if !ok {
		return page.InvalidID, nil, ErrPoolExhausted
	}

	id := bp.AllocatePage()
	frame := &bp.frames[frameID]
	frame.reset()
	frame.PageID = id
	frame.PinCount = 1

	bp.pageTable[id] = frameID
	bp.replacer.Pin(frameID)

	bp.logger.Debug("new page", "page", id, "frame", frameID)
	return id, frame, nil
}

// FetchPage pins id, reading it from disk into a frame if it is not
// already resident.
func (bp *Instance) FetchPage(id page.ID) (*Frame, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if frameID, ok := bp.pageTable[id]; ok {
		frame := &bp.frames[frameID]
		if frame.PinCount == 0 {
			bp.replacer.Pin(frameID)
		}
		frame.PinCount++
		return frame, nil
	}

	frameID, ok := bp.takeFreeOrVictim()
	if !ok {
		return nil, ErrPoolExhausted
	}

	frame := &bp.frames[frameID]
	frame.reset()
	if err := bp.disk.ReadPage(id, frame.Data[:]); err != nil {
		bp.freeList = append(bp.freeList, frameID)
		return nil, fmt.Errorf("buffer: FetchPage(%s): %w", id, err)
	}

	frame.PageID = id
	frame.PinCount = 1
	bp.pageTable[id] = frameID
	bp.replacer.Pin(frameID)

	bp.logger.Debug("fetched page", "page", id, "frame", frameID)
	return frame, nil
}

// takeFreeOrVictim returns a frame id from the free list, or evicts the
// replacer's victim, flushing it to disk first if it is dirty. It must be
// called with bp.mu held.
func (bp *Instance) takeFreeOrVictim() (page.FrameID, bool) {
	if n := len(bp.freeList); n > 0 {
		id := bp.freeList[n-1]
		bp.freeList = bp.freeList[:n-1]
		return id, true
	}

	victim, ok := bp.replacer.Victim()
	if !ok {
		return 0, false
	}

	frame := &bp.frames[victim]
	if frame.IsDirty {
		if err := bp.disk.WritePage(frame.PageID, frame.Data[:]); err != nil {
			bp.logger.Warn("failed to flush victim before eviction", "page", frame.PageID, "error", err)
		}
	}
	delete(bp.pageTable, frame.PageID)
	return victim, true
}

// UnpinPage decrements id's pin count, marking it dirty if isDirty is
// true. When the pin count reaches 0 the frame becomes eligible for
// eviction. Returns false if id is not resident.
func (bp *Instance) UnpinPage(id page.ID, isDirty bool) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	frameID, ok := bp.pageTable[id]
	if !ok {
		return false
	}

	frame := &bp.frames[frameID]
	if frame.PinCount <= 0 {
		return false
	}

	if isDirty {
		frame.IsDirty = true
	}

	frame.PinCount--
	if frame.PinCount == 0 {
		bp.replacer.Unpin(frameID)
	}
	return true
}

// FlushPage writes id's frame to disk unconditionally and clears its dirty
// bit. Returns false if id is not resident.
func (bp *Instance) FlushPage(id page.ID) (bool, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.flushLocked(id)
}

func (bp *Instance) flushLocked(id page.ID) (bool, error) {
	frameID, ok := bp.pageTable[id]
	if !ok {
		return false, nil
	}

	frame := &bp.frames[frameID]
	if err := bp.disk.WritePage(id, frame.Data[:]); err != nil {
		return true, fmt.Errorf("buffer: FlushPage(%s): %w", id, err)
	}
	frame.IsDirty = false
	return true, nil
}

// FlushAllPages writes every resident page to disk.
func (bp *Instance) FlushAllPages() error {
	bp.mu.Lock()
	ids := make([]page.ID, 0, len(bp.pageTable))
	for id := range bp.pageTable {
		ids = append(ids, id)
	}
	bp.mu.Unlock()

	for _, id := range ids {
		if _, err := bp.FlushPage(id); err != nil {
			return err
		}
	}
	return nil
}

// DeletePage removes id from the pool and tells the disk manager to
// deallocate it. It refuses (returning ErrPagePinned) if the page is
// currently pinned. Deleting a page that is not resident is a no-op that
// returns nil.
func (bp *Instance) DeletePage(id page.ID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	frameID, ok := bp.pageTable[id]
	if !ok {
		return nil
	}

	frame := &bp.frames[frameID]
	if frame.PinCount > 0 {
		return ErrPagePinned
	}

	bp.replacer.Pin(frameID) // remove from evictable set before reuse
	delete(bp.pageTable, id)
	frame.reset()
	bp.freeList = append(bp.freeList, frameID)

	if err := bp.disk.DeallocatePage(id); err != nil {
		return fmt.Errorf("buffer: DeletePage(%s): %w", id, err)
	}
	return nil
}

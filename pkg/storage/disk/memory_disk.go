package disk

import (
	"sync"
	"sync/atomic"

	"coredb/pkg/storage/page"
)

// MemoryManager is an in-memory Manager, used by tests across the storage
// core that need a disk.Manager but should not touch the filesystem.
type MemoryManager struct {
	mu         sync.RWMutex
	pages      map[page.ID][page.Size]byte
	nextPageID atomic.Int32
}

// NewMemoryManager creates an empty in-memory disk.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{pages: make(map[page.ID][page.Size]byte)}
}

func (m *MemoryManager) ReadPage(id page.ID, dst []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.pages[id]
	if !ok {
		for i := range dst {
			dst[i] = 0
		}
		return nil
	}
	copy(dst, data[:])
	return nil
}

func (m *MemoryManager) WritePage(id page.ID, src []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var buf [page.Size]byte
	copy(buf[:], src)
	m.pages[id] = buf
	return nil
}

func (m *MemoryManager) AllocatePage() page.ID {
	return page.ID(m.nextPageID.Add(1) - 1)
}

func (m *MemoryManager) DeallocatePage(id page.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pages, id)
	return nil
}

func (m *MemoryManager) Close() error { return nil }

package buffer

import (
	"container/list"
	"sync"

	"coredb/pkg/storage/page"
)

// LRUReplacer tracks which frames are eligible for eviction and picks the
// least-recently-unpinned one as the victim, mirroring the reference
// buffer pool's replacer: Unpin marks a frame evictable by pushing it to
// the front of the list; Victim pops from the back; Pin removes a frame
// from consideration entirely.
type LRUReplacer struct {
	mu       sync.Mutex
	list     *list.List
	elements map[page.FrameID]*list.Element
}

// NewLRUReplacer creates an empty replacer.
func NewLRUReplacer() *LRUReplacer {
	return &LRUReplacer{
		list:     list.New(),
		elements: make(map[page.FrameID]*list.Element),
	}
}

// Victim removes and returns the least-recently-unpinned frame, or
// (0, false) if no frame is currently evictable.
func (r *LRUReplacer) Victim() (page.FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	back := r.list.Back()
	if back == nil {
		return 0, false
	}
	r.list.Remove(back)
	id := back.Value.(page.FrameID)
	delete(r.elements, id)
	return id, true
}

// Pin removes id from the evictable set, e.g. because it was just fetched
// and its pin count went from 0 to 1.
func (r *LRUReplacer) Pin(id page.FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if el, ok := r.elements[id]; ok {
		r.list.Remove(el)
		delete(r.elements, id)
	}
}

// Unpin marks id evictable, e.g. because its pin count just dropped to 0.
// Unpinning a frame that is already evictable is a no-op.
func (r *LRUReplacer) Unpin(id page.FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.elements[id]; ok {
		return
	}
	r.elements[id] = r.list.PushFront(id)
}

// Size returns the number of frames currently evictable.
func (r *LRUReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list.Len()
}

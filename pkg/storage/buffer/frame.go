package buffer

import "coredb/pkg/storage/page"

// Frame is one slot of a buffer pool's frame array: the page data resident
// in memory plus the bookkeeping the pool needs to decide when it is safe
// to evict.
type Frame struct {
	Data     [page.Size]byte
	PageID   page.ID
	PinCount int
	IsDirty  bool
}

func (f *Frame) reset() {
	f.PageID = page.InvalidID
	f.PinCount = 0
	f.IsDirty = false
	for i := range f.Data {
		f.Data[i] = 0
	}
}

package page

import "fmt"

// RID locates a single record: the page it lives on and its slot within
// that page. The lock manager locks RIDs, not whole pages, so that two
// transactions touching different slots of the same page never conflict.
type RID struct {
	PageID ID
	Slot   int32
}

func (r RID) String() string {
	return fmt.Sprintf("RID(%s, slot=%d)", r.PageID, r.Slot)
}

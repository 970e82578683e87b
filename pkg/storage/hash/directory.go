package hash

import (
	"fmt"
	"sync"

	"coredb/pkg/storage/page"
)

// directorySize bounds how many buckets a table can address: global depth
// can grow to at most 9 bits, giving 512 directory slots.
const directorySize = 512

// MaxDepth is the deepest a bucket's local depth (and so the directory's
// global depth) may grow: log2(directorySize). A split that would need to
// push a bucket's local depth past this fails with ErrIndexFull rather than
// doubling the directory past its fixed array size.
const MaxDepth = 9

// DirectoryPage maps a key's hash to the bucket page that owns it. Growing
// the table doubles the directory (IncrGlobalDepth) by mirroring each
// existing slot; splitting a single bucket only touches the slots that
// pointed at it (SplitBucketPageId), leaving the rest of the directory
// untouched.
type DirectoryPage struct {
	mu sync.RWMutex

	pageID        page.ID
	globalDepth   uint32
	localDepths   [directorySize]uint8
	bucketPageIDs [directorySize]page.ID
}

// NewDirectoryPage creates a directory with global depth 1 and its two
// slots pointing at bucket0 and bucket1, each with local depth 1.
func NewDirectoryPage(id page.ID, bucket0, bucket1 page.ID) *DirectoryPage {
	d := &DirectoryPage{pageID: id, globalDepth: 1}
	d.bucketPageIDs[0] = bucket0
	d.bucketPageIDs[1] = bucket1
	d.localDepths[0] = 1
	d.localDepths[1] = 1
	return d
}

func (d *DirectoryPage) PageID() page.ID { return d.pageID }

// GetGlobalDepth returns the number of low-order hash bits currently used
// to index the directory.
func (d *DirectoryPage) GetGlobalDepth() uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.globalDepth
}

// GetGlobalDepthMask returns a mask selecting the globalDepth low-order
// bits of a hash.
func (d *DirectoryPage) GetGlobalDepthMask() uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.globalDepthMaskLocked()
}

func (d *DirectoryPage) globalDepthMaskLocked() uint32 {
	if d.globalDepth == 0 {
		return 0
	}
	return 1<<d.globalDepth - 1
}

// GetLocalDepthMask returns a mask selecting the local-depth low-order bits
// used by the bucket at bucketIdx.
func (d *DirectoryPage) GetLocalDepthMask(bucketIdx uint32) uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.localDepthMaskLocked(bucketIdx)
}

func (d *DirectoryPage) localDepthMaskLocked(bucketIdx uint32) uint32 {
	if d.localDepths[bucketIdx] == 0 {
		return 0
	}
	return 1<<d.localDepths[bucketIdx] - 1
}

// Size returns the number of directory slots in use: 2^globalDepth.
func (d *DirectoryPage) Size() uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return 1 << d.globalDepth
}

func (d *DirectoryPage) GetBucketPageId(bucketIdx uint32) page.ID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.bucketPageIDs[bucketIdx]
}

func (d *DirectoryPage) SetBucketPageId(bucketIdx uint32, id page.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bucketPageIDs[bucketIdx] = id
}

func (d *DirectoryPage) GetLocalDepth(bucketIdx uint32) uint8 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.localDepths[bucketIdx]
}

func (d *DirectoryPage) SetLocalDepth(bucketIdx uint32, depth uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.localDepths[bucketIdx] = depth
}

func (d *DirectoryPage) IncrLocalDepth(bucketIdx uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.localDepths[bucketIdx]++
}

func (d *DirectoryPage) DecrLocalDepth(bucketIdx uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.localDepths[bucketIdx]--
}

// IncrLocalDepthByPageId bumps the local depth of every slot currently
// pointing at id.
func (d *DirectoryPage) IncrLocalDepthByPageId(id page.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := uint32(0); i < directorySize; i++ {
		if d.bucketPageIDs[i] == id {
			d.localDepths[i]++
		}
	}
}

// DecrLocalDepthByPageId drops the local depth of every slot currently
// pointing at id, the mirror image of IncrLocalDepthByPageId used when
// merging a bucket back into its split image.
func (d *DirectoryPage) DecrLocalDepthByPageId(id page.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := uint32(0); i < directorySize; i++ {
		if d.bucketPageIDs[i] == id {
			d.localDepths[i]--
		}
	}
}

// RepointBucketPageId retargets every slot pointing at oldID to newID
// instead. A single merge can leave more than one directory slot pointing
// at the bucket being removed whenever its local depth trails the global
// depth, so every alias needs to move together.
func (d *DirectoryPage) RepointBucketPageId(oldID, newID page.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := uint32(0); i < directorySize; i++ {
		if d.bucketPageIDs[i] == oldID {
			d.bucketPageIDs[i] = newID
		}
	}
}

// IncrGlobalDepth doubles the addressable directory. Indexing uses a
// low-order-bits mask (keyToDirectoryIndex: hash(k) & (1<<globalDepth-1)),
// so adding one more bit just appends a new copy of the whole existing
// directory above it: slot i keeps pointing at whatever it always did, and
// the new slot i+oldSize (which shares every low bit with i but sets the
// newly-significant one) starts out pointing at the same bucket too, until
// that bucket is actually split. It fails with ErrIndexFull rather than
// growing past MaxDepth.
func (d *DirectoryPage) IncrGlobalDepth() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.globalDepth >= MaxDepth {
		return ErrIndexFull
	}

	oldSize := uint32(1) << d.globalDepth
	d.globalDepth++
	for i := uint32(0); i < oldSize; i++ {
		d.localDepths[i+oldSize] = d.localDepths[i]
		d.bucketPageIDs[i+oldSize] = d.bucketPageIDs[i]
	}
	return nil
}

func (d *DirectoryPage) DecrGlobalDepth() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.globalDepth--
}

// SplitBucketPageId repoints newPageID onto exactly the slots that pointed
// at srcPageID and sit on the "new bit" side of the split. Since a bucket
// with local depth L owns every slot whose low L bits match its own (a
// stride of 2^L apart, not a contiguous block — the flip side of the
// low-order-bits indexing keyToDirectoryIndex uses), splitting it in two
// only needs to move the half of those slots with bit L set; the rest keep
// pointing at srcPageID.
func (d *DirectoryPage) SplitBucketPageId(srcPageID, newPageID page.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var bucketIdx uint32
	for bucketIdx = 0; bucketIdx < directorySize; bucketIdx++ {
		if d.bucketPageIDs[bucketIdx] == srcPageID {
			break
		}
	}

	localDepth := uint32(d.localDepths[bucketIdx])
	lowBits := bucketIdx & (1<<localDepth - 1)
	splitBit := uint32(1) << localDepth
	size := uint32(1) << d.globalDepth

	for i := uint32(0); i < size; i++ {
		if i&(1<<localDepth-1) == lowBits && i&splitBit != 0 {
			d.bucketPageIDs[i] = newPageID
		}
	}
}

// GetSplitImageIndex returns the directory slot that shares every hash bit
// with bucketIdx except the one that separates them — the sibling produced
// by (or merged back into, on a later Remove) the last time this bucket
// split. That bit is the highest one covered by the bucket's own
// local-depth mask, per spec.md's i XOR (1<<(localDepth-1)).
func (d *DirectoryPage) GetSplitImageIndex(bucketIdx uint32) uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	localDepth := d.localDepths[bucketIdx]
	if localDepth == 0 {
		return bucketIdx
	}
	return bucketIdx ^ (1 << (localDepth - 1))
}

// CanShrink reports whether every occupied bucket has a local depth below
// the global depth, meaning the directory could be halved without any
// bucket losing its last pointer.
func (d *DirectoryPage) CanShrink() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	size := uint32(1) << d.globalDepth
	for i := uint32(0); i < size; i++ {
		if uint32(d.localDepths[i]) == d.globalDepth {
			return false
		}
	}
	return true
}

// VerifyIntegrity checks the directory's core invariants: every local
// depth is at most the global depth, every slot sharing a bucket page id
// agrees on that bucket's local depth, and each bucket page id appears in
// exactly 2^(globalDepth-localDepth) slots. It returns the first violation
// found, or nil.
func (d *DirectoryPage) VerifyIntegrity() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	size := uint32(1) << d.globalDepth
	counts := make(map[page.ID]uint32)
	depths := make(map[page.ID]uint8)

	for idx := uint32(0); idx < size; idx++ {
		id := d.bucketPageIDs[idx]
		ld := d.localDepths[idx]
		if uint32(ld) > d.globalDepth {
			return fmt.Errorf("hash: bucket %d local depth %d exceeds global depth %d", idx, ld, d.globalDepth)
		}
		counts[id]++
		if prior, ok := depths[id]; ok && prior != ld {
			return fmt.Errorf("hash: bucket page %s has inconsistent local depth %d vs %d", id, ld, prior)
		}
		depths[id] = ld
	}

	for id, count := range counts {
		want := uint32(1) << (d.globalDepth - uint32(depths[id]))
		if count != want {
			return fmt.Errorf("hash: bucket page %s has %d directory pointers, want %d", id, count, want)
		}
	}
	return nil
}

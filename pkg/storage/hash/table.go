// Package hash implements an extendible hash index: a directory of
// 2^globalDepth slots, each pointing at a bucket page of key/value slots.
// A bucket splits in two once it fills, doubling the directory first if
// every slot still needs the split bucket's full precision; two sibling
// buckets merge back together once either empties.
package hash

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"coredb/pkg/logging"
	"coredb/pkg/storage/buffer"
	"coredb/pkg/storage/page"
)

var (
	// ErrDuplicateEntry marks a rejected exact key/value duplicate. Insert's
	// boolean return is sufficient for that rejection on its own (spec
	// parity with a plain false), so this is not currently returned from
	// Insert's error channel; it exists so callers and tests can name the
	// condition precisely rather than inferring it from a bare false.
	ErrDuplicateEntry = errors.New("hash: key/value pair already present")

	// ErrIndexFull is returned when a split would need to push a bucket's
	// local depth past MaxDepth.
	ErrIndexFull = errors.New("hash: index full, cannot split further")
)

// Hasher reduces a key to the 32-bit value used to index the directory.
type Hasher[K any] func(key K) uint32

// Table is an extendible hash index over keys of type K mapping to values
// of type V. The directory and bucket pages it allocates stay pinned in
// the backing buffer pool while the table uses them (a bucket page is
// unpinned and deleted when merge drops it), the same way a directory page
// is pinned permanently to avoid repeated disk I/O for metadata that
// changes on every insert.
type Table[K any, V comparable] struct {
	mu sync.RWMutex // guards directory structure changes (table_latch)

	pool *buffer.Pool
	cmp  Comparator[K]
	hash Hasher[K]

	directory   *DirectoryPage
	directoryID page.ID

	bucketsMu sync.RWMutex
	buckets   map[page.ID]*BucketPage[K, V]

	logger *slog.Logger
}

// New creates an empty table backed by pool, comparing keys with cmp and
// hashing them with hash. A nil logger discards log output. It starts with
// global depth 1 and two empty buckets, the usual extendible-hash initial
// state.
func New[K any, V comparable](pool *buffer.Pool, cmp Comparator[K], hash Hasher[K], logger *slog.Logger) (*Table[K, V], error) {
	dirID, _, err := pool.NewPage()
	if err != nil {
		return nil, fmt.Errorf("hash: allocate directory page: %w", err)
	}
	bucket0ID, _, err := pool.NewPage()
	if err != nil {
		return nil, fmt.Errorf("hash: allocate initial bucket page: %w", err)
	}
	bucket1ID, _, err := pool.NewPage()
	if err != nil {
		return nil, fmt.Errorf("hash: allocate initial bucket page: %w", err)
	}

	t := &Table[K, V]{
		pool:        pool,
		cmp:         cmp,
		hash:        hash,
		directory:   NewDirectoryPage(dirID, bucket0ID, bucket1ID),
		directoryID: dirID,
		buckets: map[page.ID]*BucketPage[K, V]{
			bucket0ID: NewBucketPage[K, V](cmp),
			bucket1ID: NewBucketPage[K, V](cmp),
		},
		logger: logging.OrDiscard(logger),
	}
	return t, nil
}

func (t *Table[K, V]) keyToDirectoryIndex(key K) uint32 {
	return t.hash(key) & t.directory.GetGlobalDepthMask()
}

func (t *Table[K, V]) keyToBucketID(key K) page.ID {
	return t.directory.GetBucketPageId(t.keyToDirectoryIndex(key))
}

func (t *Table[K, V]) fetchBucket(id page.ID) *BucketPage[K, V] {
	t.bucketsMu.RLock()
	defer t.bucketsMu.RUnlock()
	return t.buckets[id]
}

// GetValue returns every value stored under key.
func (t *Table[K, V]) GetValue(key K) ([]V, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	bucket := t.fetchBucket(t.keyToBucketID(key))
	return bucket.GetValue(key)
}

// Insert adds key/value, splitting the owning bucket (and, if needed,
// doubling the directory) when it is already full. It returns false for an
// exact key/value duplicate, or ErrIndexFull if splitting would need to
// push a bucket past MaxDepth.
//
// The fast, non-splitting path only takes the table's shared latch: it
// mutates a single bucket page, which carries its own latch, so concurrent
// inserts into different buckets never serialize against each other here.
// Only a full bucket escalates to the exclusive latch in splitInsert.
func (t *Table[K, V]) Insert(key K, value V) (bool, error) {
	t.mu.RLock()
	bucketID := t.keyToBucketID(key)
	bucket := t.fetchBucket(bucketID)
	if bucket.Insert(key, value) {
		t.mu.RUnlock()
		return true, nil
	}
	full := bucket.IsFull()
	t.mu.RUnlock()

	if !full {
		return false, nil // exact duplicate
	}
	return t.splitInsert(key, value)
}

// splitInsert takes the table's exclusive latch and splits the key's
// owning bucket until the insert succeeds. A single split may not be
// enough if every existing entry (and the new one) hashes to the same
// side, so this loops rather than splitting once: each iteration strictly
// increases the target bucket's local depth, which is bounded by MaxDepth,
// so the loop always terminates.
func (t *Table[K, V]) splitInsert(key K, value V) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		bucketID := t.keyToBucketID(key)
		bucket := t.fetchBucket(bucketID)
		if bucket.Insert(key, value) {
			return true, nil
		}
		if !bucket.IsFull() {
			return false, nil // exact duplicate, discovered under the exclusive latch
		}

		splitIdx := t.keyToDirectoryIndex(key)
		splitBucketID := t.directory.GetBucketPageId(splitIdx)
		localDepth := t.directory.GetLocalDepth(splitIdx)
		globalDepth := t.directory.GetGlobalDepth()

		if uint32(localDepth) >= MaxDepth {
			return false, ErrIndexFull
		}

		if uint32(localDepth) == globalDepth {
			if err := t.directory.IncrGlobalDepth(); err != nil {
				return false, err
			}
		}

		newBucketID, _, err := t.pool.NewPage()
		if err != nil {
			return false, fmt.Errorf("hash: allocate split bucket page: %w", err)
		}

		t.directory.SplitBucketPageId(splitBucketID, newBucketID)
		t.directory.IncrLocalDepthByPageId(splitBucketID)
		t.directory.IncrLocalDepthByPageId(newBucketID)

		splitBucket := t.fetchBucket(splitBucketID)
		newBucket := NewBucketPage[K, V](t.cmp)
		t.bucketsMu.Lock()
		t.buckets[newBucketID] = newBucket
		t.bucketsMu.Unlock()

		for _, e := range splitBucket.AllReadable() {
			if t.keyToBucketID(e.key) != splitBucketID {
				splitBucket.Remove(e.key, e.value)
				newBucket.Insert(e.key, e.value)
			}
		}

		t.logger.Debug("split bucket", "split", splitBucketID, "new", newBucketID, "global_depth", t.directory.GetGlobalDepth())
		// Retry the insert against whichever bucket key now hashes to; if
		// that bucket is still full, the next loop iteration splits again.
	}
}

// Remove deletes key/value, merging the emptied bucket back into its
// split image (and shrinking the directory, if every bucket now allows
// it) once the bucket is left with no live entries.
//
// Like Insert, the fast path only takes the table's shared latch; merging
// escalates to the exclusive latch separately.
func (t *Table[K, V]) Remove(key K, value V) bool {
	t.mu.RLock()
	bucketIdx := t.keyToDirectoryIndex(key)
	bucketID := t.directory.GetBucketPageId(bucketIdx)
	bucket := t.fetchBucket(bucketID)
	removed := bucket.Remove(key, value)
	empty := removed && bucket.IsEmpty()
	t.mu.RUnlock()

	if !removed {
		return false
	}
	if empty {
		t.mergeFromKey(key)
	}
	return true
}

// mergeFromKey takes the table's exclusive latch, re-locates key's bucket
// (the directory may have changed since Remove's fast path released the
// shared latch), and merges it only if it is still empty.
func (t *Table[K, V]) mergeFromKey(key K) {
	t.mu.Lock()
	defer t.mu.Unlock()

	bucketIdx := t.keyToDirectoryIndex(key)
	bucketID := t.directory.GetBucketPageId(bucketIdx)
	bucket := t.fetchBucket(bucketID)
	if bucket == nil || !bucket.IsEmpty() {
		return
	}
	t.merge(bucketIdx)
}

// merge folds an empty bucket back into its split image when both share
// the same local depth, recursing if that leaves the sibling empty too.
// Called with mu held exclusively.
func (t *Table[K, V]) merge(bucketIdx uint32) {
	localDepth := t.directory.GetLocalDepth(bucketIdx)
	if localDepth == 0 {
		return
	}

	siblingIdx := t.directory.GetSplitImageIndex(bucketIdx)
	if t.directory.GetLocalDepth(siblingIdx) != localDepth {
		return
	}

	emptyBucketID := t.directory.GetBucketPageId(bucketIdx)
	siblingID := t.directory.GetBucketPageId(siblingIdx)
	if emptyBucketID == siblingID {
		return
	}

	t.directory.DecrLocalDepthByPageId(emptyBucketID)
	t.directory.DecrLocalDepthByPageId(siblingID)
	t.directory.RepointBucketPageId(emptyBucketID, siblingID)

	t.bucketsMu.Lock()
	sibling := t.buckets[siblingID]
	delete(t.buckets, emptyBucketID)
	t.bucketsMu.Unlock()

	// Bucket pages stay pinned while the table uses them; drop that pin so
	// DeletePage can free the page.
	t.pool.UnpinPage(emptyBucketID, false)
	if err := t.pool.DeletePage(emptyBucketID); err != nil {
		t.logger.Warn("failed to deallocate merged bucket page", "page", emptyBucketID, "error", err)
	}

	if t.directory.CanShrink() && t.directory.GetGlobalDepth() > 0 {
		t.directory.DecrGlobalDepth()
	}

	if sibling.IsEmpty() {
		t.merge(siblingIdx)
	}
}

// GetGlobalDepth reports the directory's current global depth.
func (t *Table[K, V]) GetGlobalDepth() uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.directory.GetGlobalDepth()
}

// VerifyIntegrity checks the directory's structural invariants; see
// DirectoryPage.VerifyIntegrity.
func (t *Table[K, V]) VerifyIntegrity() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.directory.VerifyIntegrity()
}

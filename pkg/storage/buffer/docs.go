// Package buffer implements the buffer pool that caches disk pages in
// memory.
//
// # Components
//
//   - [LRUReplacer] tracks which resident, unpinned frames are eligible
//     for eviction and picks the least-recently-unpinned one as victim.
//   - [Instance] is a single pool shard: a fixed-size frame array, a page
//     table, a free list, and a replacer, all behind one mutex.
//   - [Pool] is the parallel/sharded variant: page id modulo the shard
//     count selects the owning [Instance], so concurrent callers touching
//     different pages rarely contend on the same mutex.
//
// # Eviction
//
// [Instance.NewPage] and [Instance.FetchPage] prefer a frame from the free
// list; once that is exhausted they ask the replacer for a victim. If the
// victim frame is dirty it is flushed to disk before being reused. A page
// that is currently pinned can never be chosen as a victim, because
// [Instance.FetchPage] removes a frame from the replacer's evictable set
// the moment its pin count leaves zero.
package buffer

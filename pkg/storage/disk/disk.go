// Package disk provides the single abstraction the buffer pool is allowed
// to call into for durability: read a page, write a page, allocate a new
// page id. Nothing above this layer is allowed to open a file directly.
package disk

import "coredb/pkg/storage/page"

// Manager is the contract the buffer pool relies on. Implementations are
// free to be file-backed, in-memory, or instrumented fakes for tests — the
// buffer pool and the hash table never know which.
type Manager interface {
	// ReadPage copies the on-disk contents of id into dst, which must be
	// exactly page.Size bytes. Reading a page that was never written
	// returns a zero-filled buffer, not an error.
	ReadPage(id page.ID, dst []byte) error

	// WritePage persists src (exactly page.Size bytes) as the contents of
	// id, extending the backing store if necessary.
	WritePage(id page.ID, src []byte) error

	// AllocatePage reserves and returns a new page id. It does not write
	// any data; the caller is expected to WritePage it before relying on
	// its contents surviving a restart.
	AllocatePage() page.ID

	// DeallocatePage marks id as free for reuse. Reference implementations
	// may no-op this, per spec: actual space reclamation is not a design
	// goal of this layer.
	DeallocatePage(id page.ID) error

	// Close releases any underlying resources (file handles, etc).
	Close() error
}

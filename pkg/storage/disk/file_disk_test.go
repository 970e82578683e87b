package disk

import (
	"path/filepath"
	"testing"

	"coredb/pkg/storage/page"
)

func TestFileManager_WriteThenReadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	fm, err := NewFileManager(filepath.Join(dir, "test.db"), nil)
	if err != nil {
		t.Fatalf("NewFileManager: %v", err)
	}
	defer fm.Close()

	id := fm.AllocatePage()
	var want [page.Size]byte
	for i := range want {
		want[i] = byte(i % 256)
	}

	if err := fm.WritePage(id, want[:]); err != nil {
		t.Fatalf("WritePage: %v", err)
	}

	got := make([]byte, page.Size)
	if err := fm.ReadPage(id, got); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}

	if string(got) != string(want[:]) {
		t.Errorf("read data does not match written data")
	}
}

func TestFileManager_ReadUnwrittenPageIsZeroFilled(t *testing.T) {
	dir := t.TempDir()
	fm, err := NewFileManager(filepath.Join(dir, "test.db"), nil)
	if err != nil {
		t.Fatalf("NewFileManager: %v", err)
	}
	defer fm.Close()

	got := make([]byte, page.Size)
	for i := range got {
		got[i] = 0xFF
	}
	if err := fm.ReadPage(page.ID(42), got); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}

	for i, b := range got {
		if b != 0 {
			t.Fatalf("expected zero-filled page, byte %d = %d", i, b)
		}
	}
}

func TestFileManager_AllocatePageReturnsIncreasingIDs(t *testing.T) {
	dir := t.TempDir()
	fm, err := NewFileManager(filepath.Join(dir, "test.db"), nil)
	if err != nil {
		t.Fatalf("NewFileManager: %v", err)
	}
	defer fm.Close()

	a := fm.AllocatePage()
	b := fm.AllocatePage()
	if b != a+1 {
		t.Errorf("expected consecutive page ids, got %s then %s", a, b)
	}
}

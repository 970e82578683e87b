package buffer

import (
	"testing"

	"coredb/pkg/storage/page"
)

func TestLRUReplacer_VictimIsLeastRecentlyUnpinned(t *testing.T) {
	r := NewLRUReplacer()
	r.Unpin(1)
	r.Unpin(2)
	r.Unpin(3)

	got, ok := r.Victim()
	if !ok || got != 1 {
		t.Fatalf("expected frame 1 as victim, got %v ok=%v", got, ok)
	}

	got, ok = r.Victim()
	if !ok || got != 2 {
		t.Fatalf("expected frame 2 as victim, got %v ok=%v", got, ok)
	}
}

func TestLRUReplacer_PinRemovesFromEvictableSet(t *testing.T) {
	r := NewLRUReplacer()
	r.Unpin(1)
	r.Pin(1)

	if _, ok := r.Victim(); ok {
		t.Fatalf("expected no victim after pinning the only evictable frame")
	}
}

func TestLRUReplacer_UnpinTwiceIsIdempotent(t *testing.T) {
	r := NewLRUReplacer()
	r.Unpin(1)
	r.Unpin(1)

	if size := r.Size(); size != 1 {
		t.Fatalf("expected size 1 after double unpin, got %d", size)
	}
}

func TestLRUReplacer_EmptyVictim(t *testing.T) {
	r := NewLRUReplacer()
	if _, ok := r.Victim(); ok {
		t.Fatalf("expected no victim from an empty replacer")
	}
}

func TestLRUReplacer_VictimRemovesFromMap(t *testing.T) {
	r := NewLRUReplacer()
	r.Unpin(page.FrameID(5))
	if _, ok := r.Victim(); !ok {
		t.Fatal("expected a victim")
	}
	if size := r.Size(); size != 0 {
		t.Fatalf("expected size 0 after taking the only victim, got %d", size)
	}
}

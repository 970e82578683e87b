package hash

import (
	"fmt"
	"testing"

	"coredb/pkg/storage/buffer"
	"coredb/pkg/storage/disk"
)

func identityHash(k int) uint32 { return uint32(k) }

func newTestTable(t *testing.T) *Table[int, string] {
	t.Helper()
	pool := buffer.NewPool(8, 2, disk.NewMemoryManager(), nil)
	table, err := New[int, string](pool, intCmp, identityHash, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return table
}

func TestTable_InsertThenGetValue(t *testing.T) {
	table := newTestTable(t)

	ok, err := table.Insert(1, "a")
	if err != nil || !ok {
		t.Fatalf("Insert: ok=%v err=%v", ok, err)
	}

	values, found := table.GetValue(1)
	if !found || len(values) != 1 || values[0] != "a" {
		t.Errorf("expected [a], got %v found=%v", values, found)
	}
}

func TestTable_InsertBeyondBucketCapacityTriggersSplit(t *testing.T) {
	table := newTestTable(t)

	// Even keys all share the same low hash bit, so with identityHash they
	// all collide on the same initial bucket; bucketArraySize+1 of them
	// forces at least one split.
	keys := make([]int, bucketArraySize+1)
	for i := range keys {
		keys[i] = i * 2
	}

	for _, k := range keys {
		ok, err := table.Insert(k, "v")
		if err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
		if !ok {
			t.Fatalf("Insert(%d): expected success", k)
		}
	}

	if table.GetGlobalDepth() == 1 {
		t.Errorf("expected global depth to have grown past the initial depth")
	}

	for _, k := range keys {
		values, found := table.GetValue(k)
		if !found || len(values) != 1 || values[0] != "v" {
			t.Fatalf("key %d: expected to survive the split, got %v found=%v", k, values, found)
		}
	}

	if err := table.VerifyIntegrity(); err != nil {
		t.Errorf("VerifyIntegrity after split: %v", err)
	}
}

func TestTable_InsertIntoSameKeyRepeatedlyUntilIndexFull(t *testing.T) {
	table := newTestTable(t)

	// All of these collide in every bucket at every depth, since identityHash
	// of the same key never changes: no amount of splitting separates them,
	// so the table must fail with ErrIndexFull once local depth would have
	// to exceed MaxDepth, rather than looping forever or silently dropping
	// the key like a duplicate would.
	const key = 7
	for i := 0; i < bucketArraySize; i++ {
		ok, err := table.Insert(key, stringOf(i))
		if err != nil || !ok {
			t.Fatalf("Insert(%d, %d): ok=%v err=%v", key, i, ok, err)
		}
	}

	_, err := table.Insert(key, stringOf(bucketArraySize))
	if err != ErrIndexFull {
		t.Fatalf("expected ErrIndexFull once the bucket cannot split further, got %v", err)
	}
}

func stringOf(i int) string {
	return fmt.Sprintf("v%d", i)
}

func TestTable_RemoveThenGetValueNotFound(t *testing.T) {
	table := newTestTable(t)
	table.Insert(1, "a")

	if !table.Remove(1, "a") {
		t.Fatalf("expected remove to find the entry")
	}
	if _, found := table.GetValue(1); found {
		t.Errorf("expected no values after removal")
	}
}

func TestTable_RemoveUnknownReturnsFalse(t *testing.T) {
	table := newTestTable(t)
	if table.Remove(99, "missing") {
		t.Errorf("expected Remove of an absent key/value to return false")
	}
}

func TestTable_SplitThenMergeShrinksBackDown(t *testing.T) {
	table := newTestTable(t)

	keys := make([]int, 0, bucketArraySize+1)
	for i := 0; i <= bucketArraySize; i++ {
		key := i * 2
		table.Insert(key, "v")
		keys = append(keys, key)
	}

	depthAfterSplit := table.GetGlobalDepth()
	if depthAfterSplit == 1 {
		t.Fatalf("expected a split to have occurred")
	}

	for _, k := range keys {
		table.Remove(k, "v")
	}

	if err := table.VerifyIntegrity(); err != nil {
		t.Errorf("VerifyIntegrity after draining the table: %v", err)
	}
	if got := table.GetGlobalDepth(); got >= depthAfterSplit {
		t.Errorf("expected global depth to shrink below %d after draining the table, got %d", depthAfterSplit, got)
	}
}

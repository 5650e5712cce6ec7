package lsm

import (
	"fmt"
	"testing"

	"lsmkv/common/testutil"
)

func newTestTree(t *testing.T, memtableLimit int) *Tree {
	t.Helper()
	cfg := DefaultConfig(testutil.TempDir(t))
	cfg.MemtableLimit = memtableLimit
	tree, err := NewTree(cfg)
	if err != nil {
		t.Fatalf("NewTree failed: %v", err)
	}
	return tree
}

func getString(t *testing.T, tree *Tree, key string) (string, bool) {
	t.Helper()
	v, found, err := tree.Get([]byte(key))
	if err != nil {
		t.Fatalf("Get(%q) error: %v", key, err)
	}
	return string(v), found
}

// Scenario A.
func TestScenarioA(t *testing.T) {
	tree := newTestTree(t, 10)

	tree.Put([]byte("apple"), []byte("red"))
	tree.Put([]byte("banana"), []byte("yellow"))
	tree.Put([]byte("cherry"), []byte("red"))

	if v, ok := getString(t, tree, "apple"); !ok || v != "red" {
		t.Fatalf("get(apple) = (%q, %v), want (red, true)", v, ok)
	}
	if v, ok := getString(t, tree, "banana"); !ok || v != "yellow" {
		t.Fatalf("get(banana) = (%q, %v), want (yellow, true)", v, ok)
	}
	if v, ok := getString(t, tree, "cherry"); !ok || v != "red" {
		t.Fatalf("get(cherry) = (%q, %v), want (red, true)", v, ok)
	}
	if _, ok := getString(t, tree, "grape"); ok {
		t.Fatal("get(grape) should be absent")
	}

	got, err := tree.Range([]byte("b"), []byte("d"))
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(got) != 2 || got[0].Key != "banana" || got[1].Key != "cherry" {
		t.Fatalf("range(b,d) = %v, want [banana cherry]", got)
	}

	tree.Put([]byte("banana"), []byte("green"))
	if v, ok := getString(t, tree, "banana"); !ok || v != "green" {
		t.Fatalf("get(banana) after overwrite = (%q, %v), want (green, true)", v, ok)
	}
}

// Scenario B: limit = 2, forcing flush and compaction.
func TestScenarioB(t *testing.T) {
	tree := newTestTree(t, 2)

	tree.Put([]byte("a"), []byte("1"))
	tree.Put([]byte("b"), []byte("2"))
	tree.Put([]byte("c"), []byte("3"))
	tree.Put([]byte("a"), []byte("4"))
	tree.Put([]byte("d"), []byte("5"))

	cases := map[string]string{"a": "4", "b": "2", "c": "3", "d": "5"}
	for k, want := range cases {
		if v, ok := getString(t, tree, k); !ok || v != want {
			t.Fatalf("get(%q) = (%q, %v), want (%q, true)", k, v, ok, want)
		}
	}

	got, err := tree.Range([]byte("a"), []byte("d"))
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	want := []Pair{{Key: "a", Value: []byte("4")}, {Key: "b", Value: []byte("2")}, {Key: "c", Value: []byte("3")}, {Key: "d", Value: []byte("5")}}
	if len(got) != len(want) {
		t.Fatalf("range length = %d, want %d (%v)", len(got), len(want), got)
	}
	for i, p := range got {
		if p.Key != want[i].Key || string(p.Value) != string(want[i].Value) {
			t.Fatalf("range[%d] = %+v, want %+v", i, p, want[i])
		}
	}
}

// Scenario E: compaction correctness.
func TestScenarioE(t *testing.T) {
	tree := newTestTree(t, 100)

	for i := 0; i < 500; i++ {
		key := fmt.Sprintf("k%05d", i)
		tree.Put([]byte(key), []byte(fmt.Sprintf("v%d", i)))
	}

	got, err := tree.Range([]byte(""), []byte("~"))
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(got) != 500 {
		t.Fatalf("len(range) = %d, want 500", len(got))
	}
}

// Scenario F: shadowing across levels.
func TestScenarioF(t *testing.T) {
	tree := newTestTree(t, 1)

	if err := tree.Put([]byte("x"), []byte("old")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := tree.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if err := tree.Put([]byte("x"), []byte("new")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := tree.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if err := tree.Compact(0); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}

	if v, ok := getString(t, tree, "x"); !ok || v != "new" {
		t.Fatalf("get(x) = (%q, %v), want (new, true)", v, ok)
	}

	if err := tree.Compact(1); err != nil {
		t.Fatalf("second Compact failed: %v", err)
	}
	if v, ok := getString(t, tree, "x"); !ok || v != "new" {
		t.Fatalf("get(x) after second compaction = (%q, %v), want (new, true)", v, ok)
	}

	for _, level := range tree.levels {
		for _, tbl := range level {
			all, err := tbl.All()
			if err != nil {
				t.Fatalf("All failed: %v", err)
			}
			for _, p := range all {
				if string(p.Value) == "old" {
					t.Fatalf("found shadowed value %q still on disk in %s", p.Value, tbl.Path())
				}
			}
		}
	}
}

// TestRepeatedCompactionIntoSameLevelPreservesPriorData guards against a
// level+1 table being named by list length rather than a persistent
// sequence counter: two separate L0->L1 compactions should never let the
// second compaction's output file collide with (and delete) the first's.
func TestRepeatedCompactionIntoSameLevelPreservesPriorData(t *testing.T) {
	tree := newTestTree(t, 1)

	if err := tree.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := tree.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if err := tree.Compact(0); err != nil {
		t.Fatalf("first Compact failed: %v", err)
	}
	if v, ok := getString(t, tree, "a"); !ok || v != "1" {
		t.Fatalf("get(a) after first compaction = (%q, %v), want (1, true)", v, ok)
	}

	if err := tree.Put([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := tree.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if err := tree.Compact(0); err != nil {
		t.Fatalf("second Compact failed: %v", err)
	}

	if v, ok := getString(t, tree, "a"); !ok || v != "1" {
		t.Fatalf("get(a) after second compaction = (%q, %v), want (1, true); data from the first compaction was lost", v, ok)
	}
	if v, ok := getString(t, tree, "b"); !ok || v != "2" {
		t.Fatalf("get(b) after second compaction = (%q, %v), want (2, true)", v, ok)
	}
}

// TestGetPrefersL0OverStaleCompactedLevel guards against Get scanning
// deepest level first: a key overwritten by a fresh L0 flush after an
// earlier compaction must not be shadowed by the stale value a
// previous compaction pushed down into L1.
func TestGetPrefersL0OverStaleCompactedLevel(t *testing.T) {
	cfg := DefaultConfig(testutil.TempDir(t))
	cfg.MemtableLimit = 1
	cfg.L0Trigger = 1
	tree, err := NewTree(cfg)
	if err != nil {
		t.Fatalf("NewTree failed: %v", err)
	}

	if err := tree.Put([]byte("x"), []byte("old")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := tree.Put([]byte("y"), []byte("1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	// The second Put's flush pushed L0 past its trigger of 1, so a
	// compaction already moved {x:old, y:1} into L1 and cleared L0.
	if len(tree.levels) < 2 || len(tree.levels[1]) == 0 {
		t.Fatalf("expected L1 to hold the compacted table, levels = %v", tree.levels)
	}
	if len(tree.levels[0]) != 0 {
		t.Fatalf("expected L0 to be empty after compaction, got %d tables", len(tree.levels[0]))
	}

	if err := tree.Put([]byte("x"), []byte("new")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	// This flush lands a single fresh L0 table, below the trigger, so
	// no further compaction runs and L1 still holds the stale x:old.
	if len(tree.levels[0]) != 1 {
		t.Fatalf("expected one fresh L0 table, got %d", len(tree.levels[0]))
	}

	if v, ok := getString(t, tree, "x"); !ok || v != "new" {
		t.Fatalf("get(x) = (%q, %v), want (new, true); L0 must win over stale L1 data", v, ok)
	}
	if v, ok := getString(t, tree, "y"); !ok || v != "1" {
		t.Fatalf("get(y) = (%q, %v), want (1, true)", v, ok)
	}
}

func TestIdempotentFlushOnEmptyMemtable(t *testing.T) {
	tree := newTestTree(t, 10)
	if err := tree.Flush(); err != nil {
		t.Fatalf("Flush on empty memtable failed: %v", err)
	}
	if len(tree.levels) != 0 {
		t.Fatalf("flush of empty memtable created a level: %v", tree.levels)
	}
}

func TestPointReadConsistencyAcrossFlushAndCompaction(t *testing.T) {
	tree := newTestTree(t, 5)

	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("key-%d", i)
		value := fmt.Sprintf("val-%d", i)
		if err := tree.Put([]byte(key), []byte(value)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("key-%d", i)
		want := fmt.Sprintf("val-%d", i)
		if v, ok := getString(t, tree, key); !ok || v != want {
			t.Fatalf("get(%q) = (%q, %v), want (%q, true)", key, v, ok, want)
		}
	}
}

func TestReopenTreePreservesData(t *testing.T) {
	dir := testutil.TempDir(t)
	cfg := DefaultConfig(dir)
	cfg.MemtableLimit = 2

	tree, err := NewTree(cfg)
	if err != nil {
		t.Fatalf("NewTree failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("r%d", i)
		if err := tree.Put([]byte(key), []byte(key)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	reopened, err := NewTree(cfg)
	if err != nil {
		t.Fatalf("reopening NewTree failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("r%d", i)
		if v, ok := getString(t, reopened, key); !ok || v != key {
			t.Fatalf("get(%q) after reopen = (%q, %v), want (%q, true)", key, v, ok, key)
		}
	}
}

func TestRangeStrictlyAscendingAndUnique(t *testing.T) {
	tree := newTestTree(t, 3)
	for _, k := range []string{"m", "a", "z", "a", "c"} {
		tree.Put([]byte(k), []byte(k))
	}

	got, err := tree.Range([]byte(""), []byte("~"))
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].Key >= got[i].Key {
			t.Fatalf("range not strictly ascending at %d: %q >= %q", i, got[i-1].Key, got[i].Key)
		}
	}
}

package lsm

import "testing"

func TestMemtablePutGetOverwrite(t *testing.T) {
	m := NewMemtable(10)
	m.Put("a", []byte("1"))
	m.Put("b", []byte("2"))
	m.Put("a", []byte("3"))

	v, ok := m.Get("a")
	if !ok || string(v) != "3" {
		t.Fatalf("got (%q, %v), want (3, true)", v, ok)
	}
	if m.Len() != 2 {
		t.Fatalf("len = %d, want 2", m.Len())
	}
}

func TestMemtableGetAbsent(t *testing.T) {
	m := NewMemtable(10)
	if _, ok := m.Get("missing"); ok {
		t.Fatal("expected absent key to miss")
	}
}

func TestMemtableFull(t *testing.T) {
	m := NewMemtable(2)
	m.Put("a", []byte("1"))
	if m.Full() {
		t.Fatal("memtable reported full before reaching limit")
	}
	m.Put("b", []byte("2"))
	if !m.Full() {
		t.Fatal("memtable should be full at limit")
	}
	// Overwriting an existing key must not count as growth.
	m.Put("a", []byte("9"))
	if m.Len() != 2 {
		t.Fatalf("len = %d, want 2 after overwrite", m.Len())
	}
}

func TestMemtableIterRangeOrder(t *testing.T) {
	m := NewMemtable(10)
	for _, k := range []string{"d", "b", "a", "c"} {
		m.Put(k, []byte(k))
	}

	got := m.IterRange("b", "c")
	want := []string{"b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %d pairs, want %d", len(got), len(want))
	}
	for i, p := range got {
		if p.Key != want[i] {
			t.Fatalf("pair %d: got key %q, want %q", i, p.Key, want[i])
		}
	}
}

func TestMemtableClear(t *testing.T) {
	m := NewMemtable(10)
	m.Put("a", []byte("1"))
	m.Clear()
	if m.Len() != 0 {
		t.Fatalf("len = %d after clear, want 0", m.Len())
	}
	if _, ok := m.Get("a"); ok {
		t.Fatal("key survived Clear")
	}
}

func TestMemtableAllAscending(t *testing.T) {
	m := NewMemtable(10)
	for _, k := range []string{"z", "a", "m"} {
		m.Put(k, []byte(k))
	}
	all := m.All()
	if len(all) != 3 {
		t.Fatalf("got %d pairs, want 3", len(all))
	}
	order := []string{"a", "m", "z"}
	for i, p := range all {
		if p.Key != order[i] {
			t.Fatalf("pair %d: got %q, want %q", i, p.Key, order[i])
		}
	}
}

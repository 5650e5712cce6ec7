package lsm

// Memtable is the in-memory write buffer: an ordered mapping from key to
// value, bounded by a configured entry count rather than by byte size.
// It never holds a duplicate key; put overwrites any prior value.
type Memtable struct {
	list  *skipList
	limit int
}

// NewMemtable creates an empty memtable bounded at limit entries.
func NewMemtable(limit int) *Memtable {
	return &Memtable{list: newSkipList(1), limit: limit}
}

// Put inserts or overwrites key's value.
func (m *Memtable) Put(key string, value []byte) {
	m.list.put(key, value)
}

// Get returns the current value for key, if present.
func (m *Memtable) Get(key string) ([]byte, bool) {
	return m.list.get(key)
}

// Len reports the number of distinct keys currently buffered.
func (m *Memtable) Len() int {
	return m.list.len()
}

// Full reports whether the memtable has reached its configured limit.
func (m *Memtable) Full() bool {
	return m.list.len() >= m.limit
}

// Clear empties the memtable; used after a successful flush.
func (m *Memtable) Clear() {
	m.list = newSkipList(1)
}

// IterRange yields (key, value) pairs with start <= key <= end, in
// ascending key order. An empty end is never treated as unbounded by
// this method; callers wanting "to the end of the keyspace" pass an end
// above every stored key, or use All.
func (m *Memtable) IterRange(start, end string) []Pair {
	var out []Pair
	for n := m.list.seek(start); n != nil && n.key <= end; n = n.forward[0] {
		out = append(out, Pair{Key: n.key, Value: n.value})
	}
	return out
}

// All returns every (key, value) pair currently buffered, in ascending
// key order. Unlike IterRange this is unbounded: it is what flush uses
// to dump the full memtable regardless of what byte values its keys
// contain.
func (m *Memtable) All() []Pair {
	var out []Pair
	for n := m.list.seek(""); n != nil; n = n.forward[0] {
		out = append(out, Pair{Key: n.key, Value: n.value})
	}
	return out
}

// Pair is a single (key, value) result from a range scan.
type Pair struct {
	Key   string
	Value []byte
}

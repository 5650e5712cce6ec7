package lsm

import (
	"sync"

	"lsmkv/common"
)

// Adapter wraps a Tree to satisfy common.StorageEngine. The interface
// speaks []byte; Tree's public surface already does too, so this is
// mostly a thin pass-through plus bookkeeping for Stats.
//
// Tree itself has no internal locking (see its doc comment); Adapter is
// the embedder responsible for external synchronization, so every
// method takes mu before touching the tree.
type Adapter struct {
	mu     sync.Mutex
	tree   *Tree
	closed bool

	writeCount   int64
	readCount    int64
	compactCount int64
}

// NewAdapter opens a Tree at cfg and wraps it.
func NewAdapter(cfg Config) (*Adapter, error) {
	tree, err := NewTree(cfg)
	if err != nil {
		return nil, err
	}
	return &Adapter{tree: tree}, nil
}

// Put implements common.StorageEngine. An empty key is rejected with
// common.ErrKeyEmpty at this boundary, although the Tree underneath
// would store and find it like any other key.
func (a *Adapter) Put(key, value []byte) error {
	if len(key) == 0 {
		return common.ErrKeyEmpty
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return common.ErrClosed
	}
	a.writeCount++
	return a.tree.Put(key, value)
}

// Get implements common.StorageEngine.
func (a *Adapter) Get(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, common.ErrKeyEmpty
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, common.ErrClosed
	}
	a.readCount++
	value, found, err := a.tree.Get(key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, common.ErrKeyNotFound
	}
	return value, nil
}

// Range implements common.StorageEngine.
func (a *Adapter) Range(start, end []byte) ([]common.KV, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, common.ErrClosed
	}
	pairs, err := a.tree.Range(start, end)
	if err != nil {
		return nil, err
	}
	out := make([]common.KV, len(pairs))
	for i, p := range pairs {
		out[i] = common.KV{Key: []byte(p.Key), Value: p.Value}
	}
	return out, nil
}

// Close implements common.StorageEngine. Closing an already-closed
// Adapter returns common.ErrClosed rather than silently succeeding
// again.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return common.ErrClosed
	}
	a.closed = true
	return a.tree.Close()
}

// Sync implements common.StorageEngine by flushing the memtable to a
// new L0 table. Flushed and compacted tables are already fsynced when
// they are written, so the memtable is the only thing left buffered.
func (a *Adapter) Sync() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return common.ErrClosed
	}
	return a.tree.Flush()
}

// Compact implements common.StorageEngine by forcing a level 0
// compaction if level 0 holds anything at all.
func (a *Adapter) Compact() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return common.ErrClosed
	}
	a.compactCount++
	return a.tree.Compact(0)
}

// Stats implements common.StorageEngine.
func (a *Adapter) Stats() common.Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	var totalSize int64
	var numFiles int
	for _, level := range a.tree.levels {
		for _, tbl := range level {
			totalSize += tbl.SizeBytes()
			numFiles++
		}
	}

	return common.Stats{
		NumKeys:       int64(a.tree.mem.Len()),
		NumSegments:   numFiles,
		ActiveSegSize: 0,
		TotalDiskSize: totalSize,
		WriteCount:    a.writeCount,
		ReadCount:     a.readCount,
		CompactCount:  a.compactCount,
		WriteAmp:      0,
		SpaceAmp:      0,
	}
}

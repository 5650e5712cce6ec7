package lsm

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Config configures a Tree.
type Config struct {
	// Dir is the directory holding this Tree's SSTable files. The Tree
	// assumes exclusive ownership of every file in Dir matching its
	// naming scheme; nothing else should write there.
	Dir string

	// MemtableLimit is the number of distinct keys the memtable holds
	// before a flush is triggered.
	MemtableLimit int

	// L0Trigger is the largest number of L0 tables a flush leaves in
	// place; a flush that leaves more triggers a compaction of level 0
	// into level 1. Zero selects the default of 2.
	L0Trigger int

	// Logger receives operational messages (flush, compaction). A nil
	// Logger defaults to log.Default().
	Logger *log.Logger
}

// DefaultConfig returns a Config with the reference parameters: a
// memtable holding 1000 keys and compaction triggered once L0 holds
// more than 2 tables.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:           dir,
		MemtableLimit: 1000,
		L0Trigger:     2,
		Logger:        log.Default(),
	}
}

// Tree is the LSM tree controller: it orchestrates writes into the
// memtable, flushes to level 0, triggers compaction, and serves reads
// by merging the memtable with every on-disk level.
//
// Tree is not safe for concurrent use. Every method executes on the
// caller's goroutine; there are no background workers. A caller
// sharing a Tree across goroutines must serialize its own access.
type Tree struct {
	cfg     Config
	mem     *Memtable
	levels  [][]*SSTable // levels[0] is L0; nil entries are empty levels
	nextSeq []int        // next unused per-level sequence number, never reused
	logger  *log.Logger
}

// NewTree opens or creates a Tree rooted at cfg.Dir, loading any
// SSTables already present from a prior run.
func NewTree(cfg Config) (*Tree, error) {
	if cfg.MemtableLimit <= 0 {
		return nil, fmt.Errorf("lsm: memtable limit must be positive, got %d", cfg.MemtableLimit)
	}
	if cfg.L0Trigger <= 0 {
		cfg.L0Trigger = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, ioErrorf("create data directory", err)
	}

	t := &Tree{
		cfg:    cfg,
		mem:    NewMemtable(cfg.MemtableLimit),
		logger: cfg.Logger,
	}
	if err := t.loadExisting(); err != nil {
		return nil, err
	}
	return t, nil
}

// sstableName formats the file name for a table at level with the
// given per-level sequence number.
func sstableName(level, seq int) string {
	return fmt.Sprintf("l%d_%d.sst", level, seq)
}

// parseSSTableName parses a name produced by sstableName; ok is false
// for any name not matching the lNNN_NNN.sst scheme, which is treated
// as foreign to this Tree and ignored during load.
func parseSSTableName(name string) (level, seq int, ok bool) {
	if !strings.HasPrefix(name, "l") || !strings.HasSuffix(name, ".sst") {
		return 0, 0, false
	}
	body := strings.TrimSuffix(strings.TrimPrefix(name, "l"), ".sst")
	parts := strings.SplitN(body, "_", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	lvl, err1 := strconv.Atoi(parts[0])
	sq, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || lvl < 0 || sq < 0 {
		return 0, 0, false
	}
	return lvl, sq, true
}

func (t *Tree) loadExisting() error {
	entries, err := os.ReadDir(t.cfg.Dir)
	if err != nil {
		return ioErrorf("read data directory", err)
	}

	type found struct {
		level, seq int
		name       string
	}
	var files []found
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		lvl, seq, ok := parseSSTableName(e.Name())
		if !ok {
			continue
		}
		files = append(files, found{lvl, seq, e.Name()})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].level != files[j].level {
			return files[i].level < files[j].level
		}
		return files[i].seq < files[j].seq
	})

	for _, f := range files {
		tbl, err := OpenSSTable(filepath.Join(t.cfg.Dir, f.name))
		if err != nil {
			return err
		}
		t.ensureLevel(f.level)
		t.levels[f.level] = append(t.levels[f.level], tbl)
		if f.seq >= t.nextSeq[f.level] {
			t.nextSeq[f.level] = f.seq + 1
		}
	}
	return nil
}

func (t *Tree) ensureLevel(level int) {
	for len(t.levels) <= level {
		t.levels = append(t.levels, nil)
		t.nextSeq = append(t.nextSeq, 0)
	}
}

// allocSeq returns the next unused sequence number for level and
// reserves it. Sequence numbers are never reused, even after the
// table they named is deleted by a later compaction: reusing one
// would let a new table's file name collide with (and then be
// clobbered by the cleanup of) a table that once lived there.
func (t *Tree) allocSeq(level int) int {
	t.ensureLevel(level)
	seq := t.nextSeq[level]
	t.nextSeq[level]++
	return seq
}

// Put inserts or overwrites key's value, flushing the memtable to L0
// when it reaches its configured limit.
func (t *Tree) Put(key, value []byte) error {
	if len(key) > maxFieldLen || len(value) > maxFieldLen {
		return ErrOverflow
	}
	t.mem.Put(string(key), value)
	if t.mem.Full() {
		if err := t.flush(); err != nil {
			return err
		}
	}
	return nil
}

// flush writes the memtable to a new L0 table, then compacts level 0
// if it has grown past the configured trigger.
func (t *Tree) flush() error {
	if t.mem.Len() == 0 {
		return nil
	}
	t.ensureLevel(0)

	records := t.mem.All()
	seq := t.allocSeq(0)
	path := filepath.Join(t.cfg.Dir, sstableName(0, seq))

	tbl, err := BuildSSTable(path, records)
	if err != nil {
		return err
	}

	t.levels[0] = append(t.levels[0], tbl)
	t.mem.Clear()
	t.logger.Printf("lsm: flushed %d records to %s", len(records), path)

	if len(t.levels[0]) > t.cfg.L0Trigger {
		return t.compact(0)
	}
	return nil
}

// compact merges level L with level L+1 into a single new L+1 table,
// following the non-cascading policy: L's tables are deleted, L+1's
// old contents are discarded, and the merge never repeats at L+1.
func (t *Tree) compact(level int) error {
	t.ensureLevel(level + 1)

	merged, err := t.mergeLevels(level, level+1)
	if err != nil {
		return err
	}

	nextPath := filepath.Join(t.cfg.Dir, sstableName(level+1, t.allocSeq(level+1)))
	newTable, err := BuildSSTable(nextPath, merged)
	if err != nil {
		return err
	}

	// The logical swap happens before the old files are removed: once
	// newTable is live and the old handles are unlinked from t.levels,
	// Get/Range see correct data regardless of whether the cleanup below
	// fully succeeds. A Cleanup failure is reported to the caller (and
	// may leave an orphaned file on disk) but can never make previously
	// merged data unreachable.
	oldHi := t.levels[level+1]
	oldLo := t.levels[level]
	t.levels[level+1] = []*SSTable{newTable}
	t.levels[level] = nil

	t.logger.Printf("lsm: compacted level %d into level %d (%d records)", level, level+1, len(merged))

	for _, old := range oldHi {
		if err := old.Cleanup(); err != nil {
			return err
		}
	}
	for _, old := range oldLo {
		if err := old.Cleanup(); err != nil {
			return err
		}
	}
	return nil
}

// mergeLevels gathers every record reachable from lo and hi, applying
// newest-wins semantics: within lo, later list position beats earlier;
// lo always beats hi.
func (t *Tree) mergeLevels(lo, hi int) ([]Pair, error) {
	merged := make(map[string][]byte)
	order := make([]string, 0)

	collect := func(tables []*SSTable) error {
		for _, tbl := range tables {
			pairs, err := tbl.All()
			if err != nil {
				return err
			}
			for _, p := range pairs {
				if _, seen := merged[p.Key]; !seen {
					order = append(order, p.Key)
				}
				merged[p.Key] = p.Value
			}
		}
		return nil
	}

	// hi first, then lo, so that lo's values win when a key recurs:
	// a later write into merged simply overwrites the earlier one.
	if err := collect(t.levels[hi]); err != nil {
		return nil, err
	}
	if err := collect(t.levels[lo]); err != nil {
		return nil, err
	}

	out := make([]Pair, 0, len(order))
	for _, k := range order {
		out = append(out, Pair{Key: k, Value: merged[k]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Get returns the current value for key, if present.
//
// Precedence follows the same order as Range, checked newest first so
// the first hit can be returned directly: the memtable always wins,
// then L0 newest table to oldest (L0 can hold internal duplicates
// across separate flushes), then L1, L2, ... in ascending level order.
// Levels above L0 hold at most one table once a compaction has run
// over them, so there is never more than one candidate to check there.
// Scanning deepest level first (as the reference implementation does)
// is wrong here: a level above L0 can hold data a later flush into L0
// has since overwritten, so it must never be allowed to shadow L0.
func (t *Tree) Get(key []byte) ([]byte, bool, error) {
	k := string(key)
	if v, ok := t.mem.Get(k); ok {
		return v, true, nil
	}

	if len(t.levels) > 0 {
		tables := t.levels[0]
		for i := len(tables) - 1; i >= 0; i-- {
			v, found, err := t.getWithRecovery(tables, i, k)
			if err != nil {
				return nil, false, err
			}
			if found {
				return v, true, nil
			}
		}
	}

	for level := 1; level < len(t.levels); level++ {
		tables := t.levels[level]
		for i := range tables {
			v, found, err := t.getWithRecovery(tables, i, k)
			if err != nil {
				return nil, false, err
			}
			if found {
				return v, true, nil
			}
		}
	}
	return nil, false, nil
}

// getWithRecovery performs a single table lookup, applying the
// MissingFile recovery rule: if the backing file vanished, the table
// handle is replaced with a freshly reopened one and the lookup is
// retried once. OpenSSTable treats a still-absent path as a valid
// empty table rather than an error, so a file that never reappears
// resolves to "key not found" rather than an IoError; only a second,
// different failure (for example a corrupt file reappearing in its
// place) surfaces as an error from this retry.
func (t *Tree) getWithRecovery(tables []*SSTable, i int, key string) ([]byte, bool, error) {
	v, found, err := tables[i].Get(key)
	if err == nil {
		return v, found, nil
	}
	var missing *MissingFile
	if !errors.As(err, &missing) {
		return nil, false, err
	}

	reopened, reopenErr := OpenSSTable(tables[i].Path())
	if reopenErr != nil {
		return nil, false, reopenErr
	}
	tables[i] = reopened
	v, found, err = reopened.Get(key)
	if err != nil {
		return nil, false, ioErrorf("retry get after missing file", err)
	}
	return v, found, nil
}

// Range returns every stored (key, value) with start <= key <= end, in
// ascending key order, merging the memtable with every level.
//
// Precedence is applied in increasing order so that a later apply
// always overwrites an earlier one for a shared key: levels above L0
// first (order among them does not matter once compaction has run,
// since no key then survives in more than one such level), then L0 in
// append order (oldest first, so a newer L0 table overwrites an older
// one covering the same key), and finally the memtable, which always
// wins.
func (t *Tree) Range(start, end []byte) ([]Pair, error) {
	s, e := string(start), string(end)
	merged := make(map[string][]byte)

	apply := func(pairs []Pair) {
		for _, p := range pairs {
			merged[p.Key] = p.Value
		}
	}

	for level := len(t.levels) - 1; level >= 1; level-- {
		for _, tbl := range t.levels[level] {
			pairs, err := tbl.Range(s, e)
			if err != nil {
				return nil, err
			}
			apply(pairs)
		}
	}
	if len(t.levels) > 0 {
		for _, tbl := range t.levels[0] {
			pairs, err := tbl.Range(s, e)
			if err != nil {
				return nil, err
			}
			apply(pairs)
		}
	}
	apply(t.mem.IterRange(s, e))

	out := make([]Pair, 0, len(merged))
	for k, v := range merged {
		out = append(out, Pair{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Flush forces the memtable to disk even if it has not reached its
// configured limit. Flushing an empty memtable is a no-op.
func (t *Tree) Flush() error {
	return t.flush()
}

// Compact forces a merge of level with level+1, bypassing the usual L0
// trigger. Compacting an empty level is a no-op.
func (t *Tree) Compact(level int) error {
	if level >= len(t.levels) || len(t.levels[level]) == 0 {
		return nil
	}
	return t.compact(level)
}

// Close releases any resources held by the Tree. There is nothing to
// flush on close by design: an embedder that wants durability across
// process restarts must call Flush itself before Close.
func (t *Tree) Close() error {
	return nil
}

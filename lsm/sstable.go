package lsm

import (
	"encoding/binary"
	"os"
	"sort"
)

// maxFieldLen is the largest key or value length the u32 length prefixes
// in the on-disk format can encode.
const maxFieldLen = 1<<32 - 1

// indexEntry maps a key to the byte offset of its record in the data
// region. The index is dense: one entry per record.
type indexEntry struct {
	key    string
	offset uint64
}

// SSTable is an immutable, sorted on-disk table: a data region of
// records, a trailing dense index, and a serialized membership filter.
// A zero-value-ish SSTable backed by a path that does not exist behaves
// as empty for every read: that is what OpenSSTable returns for an
// absent file.
type SSTable struct {
	path   string
	index  []indexEntry
	filter *Filter
	size   int64
}

// filterByteLen is the on-disk length of every filter this package
// writes. The Tree never varies a table's filter size or hash count —
// §4.1's defaults are the only ones the public API can produce — so a
// reader can locate the filter's start by subtracting this constant
// from the file size, without a separate length field for it.
func filterByteLen() int64 {
	return 8 + int64((defaultFilterBits+7)/8)
}

// encodeRecord lays out one record: u32 key_len | key | u32 value_len | value.
func encodeRecord(key string, value []byte) []byte {
	buf := make([]byte, 4+len(key)+4+len(value))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(key)))
	copy(buf[4:], key)
	off := 4 + len(key)
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(value)))
	copy(buf[off+4:], value)
	return buf
}

// encodeIndex lays out the dense index: u32 count | (u32 key_len | key | u64 offset)*.
func encodeIndex(entries []indexEntry) []byte {
	size := 4
	for _, e := range entries {
		size += 4 + len(e.key) + 8
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(entries)))
	off := 4
	for _, e := range entries {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(e.key)))
		off += 4
		copy(buf[off:], e.key)
		off += len(e.key)
		binary.LittleEndian.PutUint64(buf[off:off+8], e.offset)
		off += 8
	}
	return buf
}

func decodeIndex(buf []byte, path string) ([]indexEntry, error) {
	if len(buf) < 4 {
		return nil, &CorruptSSTable{Path: path, Reason: "index region shorter than its own count field"}
	}
	count := binary.LittleEndian.Uint32(buf[0:4])
	entries := make([]indexEntry, 0, count)
	off := 4
	for i := uint32(0); i < count; i++ {
		if off+4 > len(buf) {
			return nil, &CorruptSSTable{Path: path, Reason: "index entry truncated before key length"}
		}
		klen := int(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
		if off+klen+8 > len(buf) {
			return nil, &CorruptSSTable{Path: path, Reason: "index entry truncated before offset"}
		}
		key := string(buf[off : off+klen])
		off += klen
		offset := binary.LittleEndian.Uint64(buf[off : off+8])
		off += 8
		entries = append(entries, indexEntry{key: key, offset: offset})
	}
	return entries, nil
}

// BuildSSTable constructs path from records, sorting them by key first.
// Callers must have already resolved any duplicate keys: sort.Slice is
// not stable, so which value of a repeated key a lookup returns is not
// defined; duplicates are a caller bug, not a case this function
// handles. On any write failure the partial file is removed before the
// error is returned, so a later OpenSSTable never observes a truncated
// table.
func BuildSSTable(path string, records []Pair) (*SSTable, error) {
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })

	filter := NewFilter(defaultFilterBits, defaultFilterHashes)
	for _, r := range records {
		if len(r.Key) > maxFieldLen || len(r.Value) > maxFieldLen {
			return nil, ErrOverflow
		}
		filter.Add(r.Key)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, ioErrorf("create sstable", err)
	}

	abort := func(cause error) (*SSTable, error) {
		f.Close()
		os.Remove(path)
		return nil, cause
	}

	var offset uint64
	index := make([]indexEntry, 0, len(records))
	for _, r := range records {
		rec := encodeRecord(r.Key, r.Value)
		if _, err := f.Write(rec); err != nil {
			return abort(ioErrorf("write record", err))
		}
		index = append(index, indexEntry{key: r.Key, offset: offset})
		offset += uint64(len(rec))
	}

	indexBuf := encodeIndex(index)
	if _, err := f.Write(indexBuf); err != nil {
		return abort(ioErrorf("write index", err))
	}

	sizeField := make([]byte, 4)
	binary.LittleEndian.PutUint32(sizeField, uint32(len(indexBuf)))
	if _, err := f.Write(sizeField); err != nil {
		return abort(ioErrorf("write index region size", err))
	}

	if _, err := f.Write(filter.Encode()); err != nil {
		return abort(ioErrorf("write filter", err))
	}

	if err := f.Sync(); err != nil {
		return abort(ioErrorf("sync sstable", err))
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, ioErrorf("close sstable", err)
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, ioErrorf("stat sstable", err)
	}

	return &SSTable{path: path, index: index, filter: filter, size: stat.Size()}, nil
}

// OpenSSTable reopens a table written by BuildSSTable. If path does not
// exist, the returned SSTable behaves as empty for all lookups, per
// §4.2's construction-from-disk rule: an absent file is not an error.
func OpenSSTable(path string) (*SSTable, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return &SSTable{path: path}, nil
	}
	if err != nil {
		return nil, ioErrorf("open sstable", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, ioErrorf("stat sstable", err)
	}
	size := stat.Size()

	fLen := filterByteLen()
	if size < fLen+4 {
		return nil, &CorruptSSTable{Path: path, Reason: "file too small to hold a footer"}
	}

	filterStart := size - fLen
	filterBuf := make([]byte, fLen)
	if _, err := f.ReadAt(filterBuf, filterStart); err != nil {
		return nil, ioErrorf("read filter", err)
	}
	filter, err := DecodeFilter(filterBuf)
	if err != nil {
		return nil, &CorruptSSTable{Path: path, Reason: "malformed filter header"}
	}

	sizeFieldStart := filterStart - 4
	sizeBuf := make([]byte, 4)
	if _, err := f.ReadAt(sizeBuf, sizeFieldStart); err != nil {
		return nil, ioErrorf("read index region size", err)
	}
	indexRegionSize := int64(binary.LittleEndian.Uint32(sizeBuf))

	indexStart := sizeFieldStart - indexRegionSize
	if indexStart < 0 || indexRegionSize < 0 {
		return nil, &CorruptSSTable{Path: path, Reason: "index region size out of range"}
	}

	indexBuf := make([]byte, indexRegionSize)
	if _, err := f.ReadAt(indexBuf, indexStart); err != nil {
		return nil, ioErrorf("read index", err)
	}
	index, err := decodeIndex(indexBuf, path)
	if err != nil {
		return nil, err
	}

	return &SSTable{path: path, index: index, filter: filter, size: size}, nil
}

// exists reports whether this handle refers to a table actually present
// on disk at construction/open time.
func (s *SSTable) exists() bool {
	return s.filter != nil
}

// Get looks up key. A miss returns (nil, false, nil); it is not an error.
func (s *SSTable) Get(key string) ([]byte, bool, error) {
	if !s.exists() {
		return nil, false, nil
	}
	if !s.filter.MightContain(key) {
		return nil, false, nil
	}

	i := sort.Search(len(s.index), func(i int) bool { return s.index[i].key >= key })
	if i >= len(s.index) || s.index[i].key != key {
		return nil, false, nil
	}
	return s.readRecordValue(s.index[i].offset)
}

// readRecordValue reads one record at offset and returns its value.
func (s *SSTable) readRecordValue(offset uint64) ([]byte, bool, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, &MissingFile{Path: s.path}
		}
		return nil, false, ioErrorf("open sstable", err)
	}
	defer f.Close()

	if int64(offset)+4 > s.size {
		return nil, false, &CorruptSSTable{Path: s.path, Reason: "index offset past end of file"}
	}

	klenBuf := make([]byte, 4)
	if _, err := f.ReadAt(klenBuf, int64(offset)); err != nil {
		return nil, false, ioErrorf("read key length", err)
	}
	klen := int64(binary.LittleEndian.Uint32(klenBuf))

	valueLenAt := int64(offset) + 4 + klen
	if valueLenAt+4 > s.size {
		return nil, false, &CorruptSSTable{Path: s.path, Reason: "record key runs past end of file"}
	}

	vlenBuf := make([]byte, 4)
	if _, err := f.ReadAt(vlenBuf, valueLenAt); err != nil {
		return nil, false, ioErrorf("read value length", err)
	}
	vlen := int64(binary.LittleEndian.Uint32(vlenBuf))

	valueAt := valueLenAt + 4
	if valueAt+vlen > s.size {
		return nil, false, &CorruptSSTable{Path: s.path, Reason: "record value runs past end of file"}
	}

	value := make([]byte, vlen)
	if vlen > 0 {
		if _, err := f.ReadAt(value, valueAt); err != nil {
			return nil, false, ioErrorf("read value", err)
		}
	}
	return value, true, nil
}

// Range returns every stored (key, value) with start <= key <= end, in
// ascending key order.
func (s *SSTable) Range(start, end string) ([]Pair, error) {
	if !s.exists() || len(s.index) == 0 {
		return nil, nil
	}

	left := sort.Search(len(s.index), func(i int) bool { return s.index[i].key >= start })
	right := sort.Search(len(s.index), func(i int) bool { return s.index[i].key > end })

	var out []Pair
	for i := left; i < right; i++ {
		value, found, err := s.readRecordValue(s.index[i].offset)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, Pair{Key: s.index[i].key, Value: value})
		}
	}
	return out, nil
}

// All returns every stored (key, value) pair in ascending key order.
// Unlike Range this is unbounded: it is what compaction uses to read a
// table's full contents regardless of what byte values its keys
// contain.
func (s *SSTable) All() ([]Pair, error) {
	if !s.exists() || len(s.index) == 0 {
		return nil, nil
	}
	out := make([]Pair, 0, len(s.index))
	for _, e := range s.index {
		v, found, err := s.readRecordValue(e.offset)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, Pair{Key: e.key, Value: v})
		}
	}
	return out, nil
}

// SizeBytes returns the table's current on-disk size, or zero if its
// file is absent.
func (s *SSTable) SizeBytes() int64 {
	if !s.exists() {
		return 0
	}
	stat, err := os.Stat(s.path)
	if err != nil {
		return 0
	}
	return stat.Size()
}

// Cleanup deletes the backing file. After Cleanup, the table behaves as
// empty for any further reads.
func (s *SSTable) Cleanup() error {
	if !s.exists() {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return ioErrorf("remove sstable", err)
	}
	s.index = nil
	s.filter = nil
	return nil
}

// Path returns the backing file path.
func (s *SSTable) Path() string {
	return s.path
}

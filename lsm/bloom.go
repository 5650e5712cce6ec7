package lsm

import (
	"encoding/binary"
	"hash/fnv"
)

// defaultFilterBits and defaultFilterHashes are the sizing used for every
// filter this package builds; the format can hold any m/k an embedder
// chooses, but these are the values the Tree Controller asks for.
const (
	defaultFilterBits   = 8192
	defaultFilterHashes = 4
)

// Filter is a Bloom filter: a fixed-size bit array with k independent
// hash positions. False positives are possible on MightContain; false
// negatives are not, provided every stored key was Added first.
type Filter struct {
	bits   []byte
	m      uint32 // total bits
	k      uint32 // hash functions
}

// NewFilter allocates an empty filter with m bits and k hash functions.
func NewFilter(m, k uint32) *Filter {
	if k == 0 {
		k = 1
	}
	return &Filter{
		bits: make([]byte, (m+7)/8),
		m:    m,
		k:    k,
	}
}

// positions returns the k bit positions a key maps to, via double
// hashing: h_i(x) = (h1(x) + i*h2(x)) mod m. Any deterministic, uniform
// hash family is sufficient here; fnv's two 64-bit variants (FNV-1a and
// FNV-1) give independent enough mixing for the filter's false-positive
// budget.
func (f *Filter) positions(key string) []uint32 {
	h1 := fnv.New64a()
	h1.Write([]byte(key))
	a := h1.Sum64()

	h2 := fnv.New64()
	h2.Write([]byte(key))
	b := h2.Sum64()

	pos := make([]uint32, f.k)
	for i := uint32(0); i < f.k; i++ {
		pos[i] = uint32((a + uint64(i)*b) % uint64(f.m))
	}
	return pos
}

// Add marks key as present.
func (f *Filter) Add(key string) {
	for _, p := range f.positions(key) {
		f.bits[p/8] |= 1 << (p % 8)
	}
}

// MightContain reports whether key may be present. false is a definite
// answer; true may be a false positive.
func (f *Filter) MightContain(key string) bool {
	for _, p := range f.positions(key) {
		if f.bits[p/8]&(1<<(p%8)) == 0 {
			return false
		}
	}
	return true
}

// Encode serializes the filter: u32 m | u32 k | bits.
func (f *Filter) Encode() []byte {
	buf := make([]byte, 8+len(f.bits))
	binary.LittleEndian.PutUint32(buf[0:4], f.m)
	binary.LittleEndian.PutUint32(buf[4:8], f.k)
	copy(buf[8:], f.bits)
	return buf
}

// DecodeFilter parses the format Encode produces.
func DecodeFilter(data []byte) (*Filter, error) {
	if len(data) < 8 {
		return nil, ErrCorruptFilter
	}
	m := binary.LittleEndian.Uint32(data[0:4])
	k := binary.LittleEndian.Uint32(data[4:8])
	wantBytes := int((m + 7) / 8)
	if len(data)-8 < wantBytes {
		return nil, ErrCorruptFilter
	}
	bits := make([]byte, wantBytes)
	copy(bits, data[8:8+wantBytes])
	return &Filter{bits: bits, m: m, k: k}, nil
}

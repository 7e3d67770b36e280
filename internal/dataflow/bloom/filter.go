// Package bloom implements BloomCreate and SQLTableScanBloomUse: a
// sliced bloom filter is built from one field's buffered values and
// broadcast as an opaque message, then used by a downstream scan to
// rewrite its SQL into a disjunction over the filter's set bits.
package bloom

import (
	"math"

	"github.com/jfoltran/dflow/internal/dataflow/bitset"
)

// SlicedBloomFilter is a bloom filter split into NumSlices
// equal-sized slices of BitsPerSlice bits each. Each slice has its
// own additive seed, so membership is `AND` across slices of
// `(v + seed_i) mod BitsPerSlice` landing on a set bit, modular
// arithmetic chosen deliberately so SQLTableScanBloomUse can
// reproduce the same test as a plain SQL predicate (no hash function
// a remote SQL engine couldn't express).
type SlicedBloomFilter struct {
	Capacity     int
	ErrorRate    float64
	NumSlices    int
	BitsPerSlice int

	slices []*bitset.Set
	seeds  []int64
}

// NewSlicedBloomFilter builds an empty filter sized for capacity
// values at the given false-positive rate, using the standard
// k = ceil(log2(1/p)), m = ceil(n*|ln p| / (k*ln(2)^2)) sizing
// formulas.
func NewSlicedBloomFilter(capacity int, errorRate float64) *SlicedBloomFilter {
	if capacity < 1 {
		capacity = 1
	}
	k, bitsPerSlice := FilterParams(capacity, errorRate)

	f := &SlicedBloomFilter{
		Capacity:     capacity,
		ErrorRate:    errorRate,
		NumSlices:    k,
		BitsPerSlice: bitsPerSlice,
		slices:       make([]*bitset.Set, k),
		seeds:        make([]int64, k),
	}
	for i := 0; i < k; i++ {
		f.slices[i] = bitset.New(bitsPerSlice)
		// Odd-prime-ish multiplier decorrelates slices' residues;
		// reduced mod BitsPerSlice keeps seeds SQL-predicate-sized.
		f.seeds[i] = int64((i+1)*40503) % int64(bitsPerSlice)
	}
	return f
}

// FilterParams computes the number of slices (hash functions) and the
// per-slice bit width for a filter holding n values at false-positive
// rate p.
func FilterParams(n int, p float64) (numSlices, bitsPerSlice int) {
	if p <= 0 {
		p = 1e-9
	}
	if p >= 1 {
		p = 0.999999
	}
	k := int(math.Ceil(math.Log2(1 / p)))
	if k < 1 {
		k = 1
	}
	ln2 := math.Log(2)
	m := math.Ceil(float64(n) * math.Abs(math.Log(p)) / (float64(k) * ln2 * ln2))
	bitsPerSlice = int(m)
	if bitsPerSlice < 1 {
		bitsPerSlice = 1
	}
	return k, bitsPerSlice
}

// Add records v (cast to int64 by callers; only integers are
// supported) in every slice.
func (f *SlicedBloomFilter) Add(v int64) {
	for i, s := range f.slices {
		s.Set(f.bitIndex(v, i))
	}
}

// Test reports whether v may have been added; false negatives never
// occur. Every slice shares the modulus BitsPerSlice and differs only
// by its additive seed, so v tests positive exactly when v mod
// BitsPerSlice equals the residue of some added value: the
// false-positive rate is the fraction of residues hit, which can
// exceed ErrorRate.
func (f *SlicedBloomFilter) Test(v int64) bool {
	for i, s := range f.slices {
		if !s.IsSet(f.bitIndex(v, i)) {
			return false
		}
	}
	return true
}

func (f *SlicedBloomFilter) bitIndex(v int64, slice int) int {
	m := int64(f.BitsPerSlice)
	idx := (v + f.seeds[slice]) % m
	if idx < 0 {
		idx += m
	}
	return int(idx)
}

// SetBitCount returns the total number of set bits across every
// slice, the quantity the serialized disjunction must encode.
func (f *SlicedBloomFilter) SetBitCount() int {
	n := 0
	for _, s := range f.slices {
		n += s.Count()
	}
	return n
}

// SliceSetBits returns the set bit offsets within slice i, sorted
// ascending, for substitution into that slice's SQL clause.
func (f *SlicedBloomFilter) SliceSetBits(i int) []int {
	s := f.slices[i]
	var out []int
	for b := 0; b < s.Len(); b++ {
		if s.IsSet(b) {
			out = append(out, b)
		}
	}
	return out
}

// Seed returns slice i's additive seed.
func (f *SlicedBloomFilter) Seed(i int) int64 { return f.seeds[i] }

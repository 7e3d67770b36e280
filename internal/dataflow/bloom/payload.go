package bloom

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"strconv"
	"strings"
)

// Payload is the wire shape broadcast as message.Binary's opaque
// Data: enough to rebuild the SQL predicate on the receiving side
// without shipping the whole filter object across a process boundary.
type Payload struct {
	BitsPerSlice int
	Seeds        []int64
	SetBits      [][]int // one sorted slice per filter slice
}

// Encode renders f as a Payload and gob-encodes it. gob is the
// stdlib choice here deliberately: this payload never leaves the
// process (both BloomCreate and SQLTableScanBloomUse run inside the
// same graph, possibly different goroutines but never a different
// binary), so there is no cross-language wire format to support.
func Encode(f *SlicedBloomFilter) ([]byte, error) {
	p := Payload{BitsPerSlice: f.BitsPerSlice, Seeds: append([]int64(nil), f.seeds...)}
	p.SetBits = make([][]int, f.NumSlices)
	for i := 0; i < f.NumSlices; i++ {
		p.SetBits[i] = f.SliceSetBits(i)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return nil, fmt.Errorf("encode bloom payload: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a Payload previously produced by Encode.
func Decode(data []byte) (Payload, error) {
	var p Payload
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
		return Payload{}, fmt.Errorf("decode bloom payload: %w", err)
	}
	return p, nil
}

// SQLPredicate renders the payload as a conjunction of per-slice
// modular-residue clauses over column, the SQL-pushable equivalent of
// SlicedBloomFilter.Test: membership requires every slice's residue
// to land on a bit that was set.
func (p Payload) SQLPredicate(column string) string {
	clauses := make([]string, 0, len(p.SetBits))
	for i, bits := range p.SetBits {
		if len(bits) == 0 {
			// An empty slice means no value could have set any bit in
			// it; nothing can match, so the whole predicate is false.
			return "1 = 0"
		}
		list := make([]string, len(bits))
		for j, b := range bits {
			list[j] = strconv.Itoa(b)
		}
		clauses = append(clauses, fmt.Sprintf(
			"MOD(%s + %d, %d) IN (%s)",
			column, p.Seeds[i], p.BitsPerSlice, strings.Join(list, ", "),
		))
	}
	return strings.Join(clauses, " AND ")
}

// EstimatedLength returns the character length SQLPredicate("col")
// would produce for a filter of this shape, used by
// BestAchievableFPRate to bound the search without constructing a
// real filter.
func EstimatedLength(n int, p float64, column string) int {
	k, bitsPerSlice := FilterParams(n, p)
	// A filter built from n distinct integer keys sets at most n bits
	// per slice (one per key, fewer under collision), never more than
	// bitsPerSlice.
	setPerSlice := n
	if setPerSlice > bitsPerSlice {
		setPerSlice = bitsPerSlice
	}
	digits := len(strconv.Itoa(bitsPerSlice))
	// Each clause: "MOD(<column> + <seed>, <m>) IN (<list>)" joined by
	// " AND "; approximate seed/paren overhead as a constant per
	// clause and per listed bit.
	perClauseOverhead := len(column) + digits + 20
	perBitOverhead := digits + 2
	total := 0
	for i := 0; i < k; i++ {
		total += perClauseOverhead + setPerSlice*perBitOverhead
	}
	if k > 1 {
		total += (k - 1) * len(" AND ")
	}
	return total
}

// BestAchievableFPRate searches for the smallest false-positive rate
// whose serialized predicate (see EstimatedLength) still fits within
// maxLen. maxLen is the budget for the predicate alone and nothing is
// subtracted from it here (Create passes its limit minus the base
// SQL's length), mirroring the
// original's binary search over candidate rates (no closed form: m
// must be an integer bit count and k an integer slice count).
func BestAchievableFPRate(n int, maxLen int, column string) float64 {
	budget := maxLen
	lo, hi := 1e-6, 0.5
	best := hi
	for i := 0; i < 40; i++ {
		mid := (lo + hi) / 2
		if EstimatedLength(n, mid, column) <= budget {
			best = mid
			hi = mid
		} else {
			lo = mid
		}
	}
	return best
}

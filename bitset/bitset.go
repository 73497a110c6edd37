package bitset

import (
	"fmt"
	"math/bits"
)

// BitSet is a fixed-size set of vertex indices.
type BitSet []uint64

// NewBitSet returns an empty set able to hold indices in [0, size).
func NewBitSet(size int) BitSet {
	return make(BitSet, (size+63)/64)
}

func (b BitSet) IsSet(index int) bool {
	return b[index/64]&(uint64(1)<<(index%64)) != 0
}

func (b BitSet) Set(index int) {
	b[index/64] |= uint64(1) << (index % 64)
}

func (b BitSet) Unset(index int) {
	b[index/64] &^= uint64(1) << (index % 64)
}

func (b BitSet) Clear() {
	clear(b)
}

// SetFrom overwrites b with the contents of o. Both sets must have the same size.
func (b BitSet) SetFrom(o BitSet) {
	if len(b) != len(o) {
		panic(fmt.Sprintf("bitsets must be same size: got %d vs %d", len(b), len(o)))
	}
	copy(b, o)
}

// With returns a copy of b with index added. b is left untouched.
func (b BitSet) With(index int) BitSet {
	c := make(BitSet, len(b))
	copy(c, b)
	c.Set(index)
	return c
}

// Count returns the number of set bits.
func (b BitSet) Count() int {
	n := 0
	for _, word := range b {
		n += bits.OnesCount64(word)
	}
	return n
}

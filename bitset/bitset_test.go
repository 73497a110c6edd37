package bitset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitSet_SetAndIsSet(t *testing.T) {
	bs := NewBitSet(100)
	assert.Len(t, bs, 2)

	for _, i := range []int{0, 63, 64, 99} {
		bs.Set(i)
	}
	for _, i := range []int{0, 63, 64, 99} {
		assert.True(t, bs.IsSet(i), "expected bit %d to be set", i)
	}
	assert.False(t, bs.IsSet(1))
	assert.Equal(t, 4, bs.Count())
}

func TestBitSet_UnsetAndClear(t *testing.T) {
	bs := NewBitSet(100)
	bs.Set(10)
	bs.Set(20)
	bs.Set(30)

	bs.Unset(20)
	assert.False(t, bs.IsSet(20))
	assert.True(t, bs.IsSet(10))
	assert.True(t, bs.IsSet(30))

	bs.Clear()
	assert.Equal(t, 0, bs.Count())
}

func TestBitSet_With(t *testing.T) {
	base := NewBitSet(70)
	base.Set(3)

	extended := base.With(65)

	assert.True(t, extended.IsSet(3))
	assert.True(t, extended.IsSet(65))
	assert.False(t, base.IsSet(65), "With must not modify the receiver")
}

func TestBitSet_SetFrom(t *testing.T) {
	t.Run("copies words", func(t *testing.T) {
		src := BitSet{0b1010, 0b1111}
		dst := BitSet{0, 0}
		dst.SetFrom(src)
		assert.Equal(t, src, dst)
	})

	t.Run("panics on size mismatch", func(t *testing.T) {
		assert.Panics(t, func() {
			BitSet{0}.SetFrom(BitSet{1, 2})
		})
	})
}

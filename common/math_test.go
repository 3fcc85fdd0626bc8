package common

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSliceToBytesViewsLittleEndianWords(t *testing.T) {
	words := []uint32{3, 7, 42}
	raw := SliceToBytes(words)
	require.Len(t, raw, 12)
	for i, w := range words {
		assert.Equal(t, w, binary.LittleEndian.Uint32(raw[i*4:]))
	}

	assert.Nil(t, SliceToBytes([]uint32(nil)))
}

func TestMul4IdentityIsNeutral(t *testing.T) {
	var id, m, out [16]float32
	Identity(id[:])
	for i := range m {
		m[i] = float32(i)
	}

	Mul4(out[:], id[:], m[:])
	assert.Equal(t, m, out)

	Mul4(out[:], m[:], id[:])
	assert.Equal(t, m, out)
}

func TestMul4SupportsAliasedOutput(t *testing.T) {
	var a, b, want [16]float32
	Identity(a[:])
	a[12], a[13] = 2, 3 // translation
	Identity(b[:])
	b[12] = 5

	Mul4(want[:], a[:], b[:])
	Mul4(a[:], a[:], b[:])
	assert.Equal(t, want, a)
}

func TestLookAtTransformsEyeToOrigin(t *testing.T) {
	var view [16]float32
	LookAt(view[:], 0, 0, 10, 0, 0, 0, 0, 1, 0)

	// The eye position maps to the view-space origin.
	x := view[0]*0 + view[4]*0 + view[8]*10 + view[12]
	y := view[1]*0 + view[5]*0 + view[9]*10 + view[13]
	z := view[2]*0 + view[6]*0 + view[10]*10 + view[14]
	assert.InDelta(t, 0, x, 1e-5)
	assert.InDelta(t, 0, y, 1e-5)
	assert.InDelta(t, 0, z, 1e-5)
}

func TestCoalesceReturnsFirstNonZero(t *testing.T) {
	assert.Equal(t, 5, Coalesce(0, 5, 9))
	assert.Equal(t, "fallback", Coalesce("", "fallback"))
	assert.Zero(t, Coalesce(0, 0))
}

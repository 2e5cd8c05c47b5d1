package codec

import (
	"bytes"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIntOrder(t *testing.T) {
	ints := []int64{math.MinInt64, -300, -1, 0, 1, 5, 255, 256, 1 << 40, math.MaxInt64}
	var prev []byte
	for _, v := range ints {
		enc := EncodeInt(nil, v)
		require.Len(t, enc, 8)
		if prev != nil {
			require.True(t, bytes.Compare(prev, enc) < 0, "%d", v)
		}
		left, got, err := DecodeInt(enc)
		require.Nil(t, err)
		require.Empty(t, left)
		require.Equal(t, v, got)
		prev = enc
	}
	_, _, err := DecodeInt([]byte{1, 2})
	require.NotNil(t, err)
}

func TestFloatOrder(t *testing.T) {
	floats := []float64{math.Inf(-1), -1e10, -2.5, -0.5, 0, 0.25, 1, 3.75, 1e300, math.Inf(1)}
	encoded := make([][]byte, 0, len(floats))
	for _, f := range floats {
		enc := EncodeFloat(nil, f)
		require.Len(t, enc, 8)
		encoded = append(encoded, enc)
	}
	require.True(t, sort.SliceIsSorted(encoded, func(i, j int) bool {
		return bytes.Compare(encoded[i], encoded[j]) < 0
	}))
}

func TestEscapedBytes(t *testing.T) {
	require.Equal(t, []byte{1, 2, 3, 0, 1}, EncodeEscapedBytes(nil, []byte{1, 2, 3}))
	require.Equal(t, []byte{1, 0, 0xff, 2, 0, 0xff, 0, 1}, EncodeEscapedBytes(nil, []byte{1, 0, 2, 0}))
	require.Equal(t, []byte("pre\x00\x01"), EncodeEscapedBytes([]byte("pre"), nil))

	// sorted input, including values that are prefixes of each other and values with zero bytes
	cases := [][]byte{{}, {0}, {0, 0}, {0, 1}, {1}, {1, 0}, {1, 0, 0}, {1, 1}, []byte("ab"), []byte("ab\x00c"), []byte("abc"), {0xff}}
	encoded := make([][]byte, 0, len(cases))
	for _, c := range cases {
		// a trailing field must not change the order
		enc := EncodeEscapedBytes(nil, c)
		encoded = append(encoded, append(enc, 0xff, 0xff))
	}
	for i := 1; i < len(encoded); i++ {
		require.True(t, bytes.Compare(encoded[i-1], encoded[i]) < 0, "%v", cases[i])
	}

	a, b := EncodeEscapedBytes(nil, []byte("ab")), EncodeEscapedBytes(nil, []byte("abc"))
	require.True(t, bytes.Compare(a, b) < 0)
	Invert(a)
	Invert(b)
	require.True(t, bytes.Compare(a, b) > 0)
	require.Len(t, EncodeEscapedBytes(nil, bytes.Repeat([]byte("x"), 72)), 74)
}

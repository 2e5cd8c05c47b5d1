package record

// MaxVarintLen is the longest encoding of a 64-bit varint.
const MaxVarintLen = 9

// AppendVarint appends the big-endian base-128 encoding of v to b. The ninth byte, when present,
// carries a full 8 bits.
func AppendVarint(b []byte, v uint64) []byte {
	if v <= 0x7f {
		return append(b, byte(v))
	}
	if v&(uint64(0xff000000)<<32) != 0 {
		var buf [MaxVarintLen]byte
		buf[8] = byte(v)
		v >>= 8
		for i := 7; i >= 0; i-- {
			buf[i] = byte(v&0x7f) | 0x80
			v >>= 7
		}
		return append(b, buf[:]...)
	}
	var buf [MaxVarintLen]byte
	n := 0
	for v != 0 {
		buf[n] = byte(v&0x7f) | 0x80
		v >>= 7
		n++
	}
	buf[0] &= 0x7f
	for i := n - 1; i >= 0; i-- {
		b = append(b, buf[i])
	}
	return b
}

// GetVarint decodes a varint from the front of b. It returns n == 0 if b is truncated.
func GetVarint(b []byte) (v uint64, n int) {
	for i := 0; i < 8; i++ {
		if i >= len(b) {
			return 0, 0
		}
		v = v<<7 | uint64(b[i]&0x7f)
		if b[i]&0x80 == 0 {
			return v, i + 1
		}
	}
	if len(b) < MaxVarintLen {
		return 0, 0
	}
	return v<<8 | uint64(b[8]), MaxVarintLen
}

func VarintLen(v uint64) int {
	n := 1
	for v > 0x7f && n < MaxVarintLen {
		v >>= 7
		n++
	}
	return n
}

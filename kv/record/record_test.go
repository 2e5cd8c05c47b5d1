package record

import (
	"bytes"
	"math"
	"sort"
	"strings"
	"testing"

	. "github.com/pingcap/check"
)

func TestT(t *testing.T) {
	TestingT(t)
}

var _ = Suite(&testRecordSuite{})

type testRecordSuite struct{}

func (s *testRecordSuite) TestVarint(c *C) {
	cases := []struct {
		v   uint64
		enc []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7f}},
		{128, []byte{0x81, 0x00}},
		{16383, []byte{0xff, 0x7f}},
		{16384, []byte{0x81, 0x80, 0x00}},
	}
	for _, ca := range cases {
		c.Assert(AppendVarint(nil, ca.v), BytesEquals, ca.enc)
		c.Assert(VarintLen(ca.v), Equals, len(ca.enc))
	}
	for _, v := range []uint64{1 << 35, 1<<56 - 1, 1 << 56, math.MaxUint64} {
		enc := AppendVarint(nil, v)
		c.Assert(len(enc), Equals, VarintLen(v))
		got, n := GetVarint(enc)
		c.Assert(n, Equals, len(enc))
		c.Assert(got, Equals, v)
	}
	c.Assert(VarintLen(math.MaxUint64), Equals, MaxVarintLen)

	_, n := GetVarint([]byte{0x81})
	c.Assert(n, Equals, 0)
}

func (s *testRecordSuite) TestRoundTrip(c *C) {
	values := []Value{
		Null(), Int(0), Int(1), Int(-1), Int(200), Int(-40000), Int(1 << 30), Int(1 << 40), Int(math.MinInt64),
		Float(2.5), Text("hello"), Blob([]byte{0, 1, 2}), Text(""),
	}
	rec := Make(values...)
	got, err := Decode(rec)
	c.Assert(err, IsNil)
	c.Assert(got, HasLen, len(values))
	for i, v := range values {
		c.Assert(got[i].Kind, Equals, v.Kind)
		c.Assert(got[i].I, Equals, v.I)
		c.Assert(got[i].F, Equals, v.F)
		c.Assert(got[i].B, BytesEquals, v.B)
	}

	c.Assert(Make(Int(5), Text("x")), BytesEquals, []byte{3, 1, 15, 5, 'x'})
	c.Assert(Make(Int(1)), BytesEquals, []byte{2, 9})
}

func (s *testRecordSuite) TestLargeHeader(c *C) {
	// 130 one-byte serial types need a two byte size varint
	values := make([]Value, 130)
	for i := range values {
		values[i] = Int(int64(i % 100))
	}
	rec := Make(values...)
	hdr, fields, err := Parse(rec)
	c.Assert(err, IsNil)
	c.Assert(hdr, Equals, 132)
	c.Assert(fields, HasLen, 130)
	c.Assert(HeaderSize(126), Equals, 127)
	c.Assert(HeaderSize(127), Equals, 129)
}

func (s *testRecordSuite) TestCorrupt(c *C) {
	for _, rec := range [][]byte{
		nil,
		{1},          // no fields
		{5, 1},       // header longer than record
		{2, 1},       // body missing
		{2, 10},      // reserved serial type
		{2, 9, 0xff}, // trailing garbage
	} {
		_, err := Decode(rec)
		c.Assert(err, Equals, ErrCorrupt, Commentf("%v", rec))
	}
}

func (s *testRecordSuite) TestCompare(c *C) {
	ki := &KeyInfo{Columns: []Column{{Coll: NoCase}, {Desc: true}, {}}}
	rec := Make(Text("Abc"), Int(7), Int(3))

	key := &UnpackedRecord{KeyInfo: ki, Values: []Value{Text("abc"), Float(7), Int(3)}}
	res, err := Compare(rec, key)
	c.Assert(err, IsNil)
	c.Assert(res, Equals, 0)

	// descending second column
	key.Values[1] = Int(8)
	res, _ = Compare(rec, key)
	c.Assert(res > 0, IsTrue)

	key = &UnpackedRecord{KeyInfo: ki, Values: []Value{Text("ABC")}, DefaultRC: -1}
	res, _ = Compare(rec, key)
	c.Assert(res, Equals, -1)

	key = &UnpackedRecord{KeyInfo: ki, Values: []Value{Text("abd")}}
	res, _ = Compare(rec, key)
	c.Assert(res < 0, IsTrue)

	c.Assert(compareValue(Null(), Int(math.MinInt64), Binary) < 0, IsTrue)
	c.Assert(compareValue(Float(1e300), Text(""), Binary) < 0, IsTrue)
	c.Assert(compareValue(Text("zzz"), Blob(nil), Binary) < 0, IsTrue)
	c.Assert(compareValue(Text("a  "), Text("a"), RTrim), Equals, 0)
	c.Assert(compareValue(Int(math.MaxInt64), Float(twoTo63), Binary) < 0, IsTrue)
	c.Assert(compareValue(Int(5), Float(5.5), Binary) < 0, IsTrue)
	c.Assert(compareValue(Float(-5.5), Int(-5), Binary) < 0, IsTrue)
}

func (s *testRecordSuite) TestOrderKey(c *C) {
	ki := &KeyInfo{Columns: []Column{{Coll: NoCase}, {Desc: true}}}
	rows := [][]Value{
		{Null(), Int(1)},
		{Int(-3), Int(1)},
		{Float(-2.5), Int(1)},
		{Int(2), Int(9)},
		{Int(2), Int(1)},
		{Float(2.5), Null()},
		{Int(1<<53 + 1), Int(0)},
		{Float(1 << 53), Int(0)},
		{Int(math.MaxInt64), Int(0)},
		{Float(math.Inf(1)), Int(0)},
		{Text("apple"), Int(0)},
		{Text("Banana"), Int(0)},
		{Text("banana2"), Int(0)},
		{Blob([]byte{0}), Int(0)},
		{Blob([]byte{0, 0}), Int(0)},
		{Blob([]byte{0, 1}), Int(0)},
		{Blob([]byte{1}), Int(0)},
	}
	keys := make([][]byte, len(rows))
	for i, r := range rows {
		keys[i] = AppendOrderKey(nil, ki, r)
	}
	sorted := make([]int, len(rows))
	for i := range sorted {
		sorted[i] = i
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return bytes.Compare(keys[sorted[i]], keys[sorted[j]]) < 0
	})
	for i := 1; i < len(sorted); i++ {
		a, b := rows[sorted[i-1]], rows[sorted[i]]
		res := CompareValues(a, &UnpackedRecord{KeyInfo: ki, Values: b})
		c.Assert(res <= 0, IsTrue, Commentf("%v vs %v", a, b))
	}

	// equal under the collation means equal keys, and prefixes encode as prefixes
	c.Assert(AppendOrderKey(nil, ki, []Value{Text("BANANA")}), BytesEquals, AppendOrderKey(nil, ki, []Value{Text("banana")}))
	c.Assert(AppendOrderKey(nil, ki, []Value{Int(5)}), BytesEquals, AppendOrderKey(nil, ki, []Value{Float(5)}))
	full := AppendOrderKey(nil, ki, []Value{Text("x"), Int(4)})
	c.Assert(bytes.HasPrefix(full, AppendOrderKey(nil, ki, []Value{Text("x")})), IsTrue)

	// a text field costs its flag and terminator on top of its bytes
	long := Text(strings.Repeat("q", 72))
	c.Assert(AppendOrderKey(nil, NewKeyInfo(1), []Value{long}), HasLen, 75)
}

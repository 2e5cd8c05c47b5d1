package btree

import (
	"bytes"
	"syscall"
	"testing"

	"github.com/bmatsuo/lmdb-go/lmdb"
	"github.com/pingcap-incubator/sqlmdb/kv/record"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"
)

func TestSplitRejoin(t *testing.T) {
	long := bytes.Repeat([]byte("z"), 300)
	recs := [][]byte{
		record.Make(record.Text("x"), record.Int(5)),
		record.Make(record.Null(), record.Float(1.5), record.Int(0)),
		record.Make(record.Blob(long), record.Text("abc"), record.Int(-1<<40)),
		record.Make(record.Int(1), record.Int(1<<62)),
	}
	for _, rec := range recs {
		key, field, rowid, err := SplitIndexKey(rec)
		require.Nil(t, err)
		values, err := record.Decode(rec)
		require.Nil(t, err)
		require.Equal(t, values[len(values)-1].I, rowid)

		rejoined, err := RejoinIndexKey(nil, key, field)
		require.Nil(t, err)
		require.Equal(t, rec, rejoined)
	}
}

func TestSplitRejoinHeaderShrinks(t *testing.T) {
	// 126 one-byte types fit a one-byte header size, the row id type pushes it to two bytes.
	values := make([]record.Value, 0, 127)
	for i := 0; i < 126; i++ {
		values = append(values, record.Int(1))
	}
	values = append(values, record.Int(300))
	rec := record.Make(values...)
	require.Equal(t, byte(0x81), rec[0])

	key, field, rowid, err := SplitIndexKey(rec)
	require.Nil(t, err)
	require.Equal(t, int64(300), rowid)
	require.Equal(t, byte(127), key[0])
	require.Len(t, key, 127)

	rejoined, err := RejoinIndexKey(make([]byte, 0, 4), key, field)
	require.Nil(t, err)
	require.Equal(t, rec, rejoined)
}

func TestSplitRejected(t *testing.T) {
	for _, rec := range [][]byte{
		nil,
		{0},
		record.Make(record.Int(5)),
		record.Make(record.Text("x"), record.Text("5")),
	} {
		_, _, _, err := SplitIndexKey(rec)
		require.NotNil(t, err)
		require.Equal(t, CodeCorrupt, Code(err))
	}
}

func TestSquash(t *testing.T) {
	short := record.Make(record.Text("abc"), record.Blob(bytes.Repeat([]byte{1}, SquashThreshold)), record.Int(1))
	out, err := SquashRecord(nil, short)
	require.Nil(t, err)
	require.True(t, &short[0] == &out[0])

	a := record.Make(record.Text(string(bytes.Repeat([]byte("a"), 100))+"1"), record.Int(7))
	b := record.Make(record.Text(string(bytes.Repeat([]byte("a"), 100))+"2"), record.Int(7))
	sa, err := SquashRecord(nil, a)
	require.Nil(t, err)
	again, err := SquashRecord(nil, a)
	require.Nil(t, err)
	require.Equal(t, sa, again)
	sb, err := SquashRecord(nil, b)
	require.Nil(t, err)
	require.NotEqual(t, sa, sb)

	values, err := record.Decode(sa)
	require.Nil(t, err)
	require.Len(t, values[0].B, SquashThreshold)
	require.Equal(t, bytes.Repeat([]byte("a"), SquashPrefix), values[0].B[:SquashPrefix])
	require.Equal(t, int64(7), values[1].I)

	// search keys squash the same way as stored records
	squashed := squashValues([]record.Value{record.Text(string(bytes.Repeat([]byte("a"), 100)) + "1"), record.Int(7)})
	require.Equal(t, values[0].B, squashed[0].B)

	// the original record is left alone
	require.Equal(t, record.Make(record.Text(string(bytes.Repeat([]byte("a"), 100))+"1"), record.Int(7)), a)
}

func TestIndexEntry(t *testing.T) {
	ki := record.NewKeyInfo(1)
	rec := record.Make(record.Text("x"), record.Int(5))
	e, err := encodeIndexEntry(ki, rec)
	require.Nil(t, err)
	require.Equal(t, int64(5), e.rowid)
	require.Equal(t, record.AppendOrderKey(nil, ki, []record.Value{record.Text("x")}), e.key)

	rowid, field, splitKey, err := decodeIndexValue(e.value)
	require.Nil(t, err)
	require.Equal(t, int64(5), rowid)
	joined, err := RejoinIndexKey(nil, splitKey, field)
	require.Nil(t, err)
	require.Equal(t, rec, joined)

	size, err := indexKeySize(e.value)
	require.Nil(t, err)
	require.Equal(t, len(rec), size)

	_, _, _, err = decodeIndexValue(e.value[:3])
	require.Equal(t, record.ErrCorrupt, err)

	smaller, err := encodeIndexEntry(ki, record.Make(record.Text("x"), record.Int(-3)))
	require.Nil(t, err)
	require.Equal(t, e.key, smaller.key)
	require.True(t, bytes.Compare(smaller.value, e.value) < 0)
}

func TestTranslate(t *testing.T) {
	cases := []struct {
		errno error
		code  ResultCode
	}{
		{nil, CodeOK},
		{lmdb.NotFound, CodeNotFound},
		{lmdb.KeyExist, CodeConstraint},
		{lmdb.MapFull, CodeFull},
		{lmdb.Corrupted, CodeCorrupt},
		{lmdb.VersionMismatch, CodeNotADB},
		{lmdb.BadValSize, CodeTooBig},
		{lmdb.ReadersFull, CodeBusy},
		{lmdb.BadTxn, CodeMisuse},
		{syscall.EACCES, CodeReadOnly},
		{syscall.ENOENT, CodeCantOpen},
		{syscall.ENOSPC, CodeFull},
		{syscall.EIO, CodeIOErr},
		{syscall.EXDEV, CodeInternal},
		{errors.New("something else"), CodeInternal},
	}
	for _, c := range cases {
		require.Equal(t, c.code, Translate(c.errno), "%v", c.errno)
	}
}

func TestCode(t *testing.T) {
	require.Equal(t, CodeOK, Code(nil))
	require.Nil(t, wrapErr("op", nil))

	err := wrapErr("get", &lmdb.OpError{Op: "mdb_get", Errno: lmdb.NotFound})
	require.Equal(t, CodeNotFound, Code(err))
	require.Contains(t, err.Error(), "get")

	require.Equal(t, CodeCorrupt, Code(wrapErr("parse", record.ErrCorrupt)))
	require.Equal(t, CodeCorrupt, Code(errors.Trace(record.ErrCorrupt)))
	require.Equal(t, CodeBusy, Code(errors.Trace(newErr(CodeBusy, "begin"))))

	inner := newErrf(CodeMisuse, "cursor", "bad %d", 1)
	require.True(t, inner == wrapErr("outer", inner))
	require.Equal(t, "bad parameter or other API misuse", CodeMisuse.String())
	require.Equal(t, "result code 99", ResultCode(99).String())
}

package btree

import (
	"bytes"
	"math"

	"github.com/bmatsuo/lmdb-go/lmdb"
	"github.com/cznic/mathutil"
	"github.com/pingcap-incubator/sqlmdb/kv/record"
	"github.com/pingcap-incubator/sqlmdb/kv/util/codec"
)

type cursorState uint8

const (
	cursorInvalid cursorState = iota
	cursorValid
	// cursorRequireSeek cursors lost their LMDB cursor at a transaction boundary and seek back to
	// the saved entry on next use.
	cursorRequireSeek
)

// Cursor walks one table inside its connection's current transaction. The LMDB cursor is bound
// lazily and closed at every transaction boundary.
type Cursor struct {
	bt       *Btree
	table    int
	writable bool
	ki       *record.KeyInfo
	closed   bool

	cur     *lmdb.Cursor
	node    *txnNode // transaction cur belongs to, nil when detached
	noTable bool
	kind    TableKind

	state cursorState
	// afterDelete is set once the entry under the cursor was deleted: Next and Prev still work.
	afterDelete bool
	// skip is +1 (or -1) when a restore landed on the entry after (or before) the saved one,
	// so the next Next (or Prev) must not move.
	skip int

	savedKey []byte
	savedVal []byte

	// keyBuf holds the rejoined index record returned by KeyFetch.
	keyBuf []byte
}

// Cursor opens a cursor on table. Index tables need ki, row tables ignore it. A writable cursor
// needs a write transaction. A table that does not exist yet is created in a write transaction
// and reads as empty otherwise.
func (b *Btree) Cursor(table int, writable bool, ki *record.KeyInfo) (*Cursor, error) {
	const op = "open cursor"
	if err := b.requireTxn(op); err != nil {
		return nil, err
	}
	if writable {
		if err := b.requireWrite(op); err != nil {
			return nil, err
		}
	}
	c := &Cursor{bt: b, table: table, writable: writable, ki: ki, kind: TableRow}
	if ki != nil {
		c.kind = TableIndex
	}
	if err := c.bind(op); err != nil {
		c.detach(false)
		return nil, err
	}
	b.cursors[c] = struct{}{}
	cursorOpCounter.WithLabelValues("open").Inc()
	return c, nil
}

// bind makes sure the cursor belongs to the connection's current transaction, seeking back to
// the saved entry if a boundary detached it.
func (c *Cursor) bind(op string) error {
	if c.closed {
		return newErr(CodeMisuse, op)
	}
	bt := c.bt
	if bt.current == nil {
		return newErrf(CodeMisuse, op, "no transaction")
	}
	if c.node == bt.current && !c.noTable {
		return nil
	}
	if c.node != nil {
		c.detach(true)
	}
	h, ok, err := bt.openTable(c.table, c.kind, bt.current.write)
	if err != nil {
		return wrapErr(op, err)
	}
	c.node = bt.current
	if !ok {
		c.noTable = true
		c.state = cursorInvalid
		return nil
	}
	if h.kind == TableIndex && c.ki == nil {
		c.node = nil
		return newErrf(CodeMisuse, op, "index table %d needs key info", c.table)
	}
	c.kind = h.kind
	cur, err := bt.current.txn.OpenCursor(h.dbi)
	if err != nil {
		c.node = nil
		return wrapErr(op, err)
	}
	c.cur = cur
	if c.state == cursorRequireSeek {
		return c.restore(op)
	}
	return nil
}

// detach closes the LMDB cursor. With keep, a positioned cursor saves its entry first.
func (c *Cursor) detach(keep bool) {
	if keep && c.state == cursorValid && c.cur != nil {
		k, v, err := c.cur.Get(nil, nil, lmdb.GetCurrent)
		if err == nil {
			c.savedKey = append(c.savedKey[:0], k...)
			c.savedVal = c.savedVal[:0]
			if c.kind == TableIndex {
				c.savedVal = append(c.savedVal, v...)
			}
			c.state = cursorRequireSeek
		} else {
			c.state = cursorInvalid
		}
	} else if !keep || c.state != cursorRequireSeek {
		c.state = cursorInvalid
		c.skip = 0
	}
	c.afterDelete = false
	if c.cur != nil {
		c.cur.Close()
		c.cur = nil
	}
	c.node = nil
	c.noTable = false
}

func (c *Cursor) restore(op string) error {
	c.state = cursorInvalid
	var val []byte
	if c.kind == TableIndex {
		val = c.savedVal
	}
	exact, found, err := c.seek(c.savedKey, val, false)
	if err != nil {
		return wrapErr(op, err)
	}
	if found {
		c.state = cursorValid
		if !exact {
			c.skip = 1
		}
		return nil
	}
	// every entry sorts before the saved one
	if _, _, err = c.cur.Get(nil, nil, lmdb.Last); err == nil {
		c.state = cursorValid
		c.skip = -1
		return nil
	}
	if lmdb.IsNotFound(err) {
		return nil
	}
	return wrapErr(op, err)
}

// seek moves to the first entry at or after (key, val), or strictly after it when after is set.
// val only applies to index tables and may be nil.
func (c *Cursor) seek(key, val []byte, after bool) (exact, found bool, err error) {
	if len(key) == 0 {
		if after {
			return false, false, nil
		}
		_, _, err = c.cur.Get(nil, nil, lmdb.First)
		return false, err == nil, ignoreNotFound(err)
	}
	if val != nil {
		var v []byte
		_, v, err = c.cur.Get(key, val, lmdb.GetBothRange)
		if err == nil {
			exact = bytes.Equal(v, val)
			if exact && after {
				_, _, err = c.cur.Get(nil, nil, lmdb.Next)
				return false, err == nil, ignoreNotFound(err)
			}
			return exact, true, nil
		}
		if !lmdb.IsNotFound(err) {
			return false, false, err
		}
	}
	k, _, err := c.cur.Get(key, nil, lmdb.SetRange)
	if lmdb.IsNotFound(err) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	if !bytes.Equal(k, key) {
		return false, true, nil
	}
	if val != nil || after {
		// every duplicate of key sorts before (key, val)
		_, _, err = c.cur.Get(nil, nil, lmdb.NextNoDup)
		return false, err == nil, ignoreNotFound(err)
	}
	return true, true, nil
}

func ignoreNotFound(err error) error {
	if lmdb.IsNotFound(err) {
		return nil
	}
	return err
}

// move performs one positioning call. It returns true when the cursor ran off the table.
func (c *Cursor) move(op string, lmdbOp uint) (bool, error) {
	_, _, err := c.cur.Get(nil, nil, lmdbOp)
	c.afterDelete = false
	c.skip = 0
	if lmdb.IsNotFound(err) {
		c.state = cursorInvalid
		return true, nil
	}
	if err != nil {
		c.state = cursorInvalid
		return true, wrapErr(op, err)
	}
	c.state = cursorValid
	return false, nil
}

// First moves to the first entry. It returns true if the table is empty.
func (c *Cursor) First() (bool, error) {
	const op = "first"
	cursorOpCounter.WithLabelValues(op).Inc()
	if err := c.bind(op); err != nil {
		return true, err
	}
	if c.cur == nil {
		return true, nil
	}
	return c.move(op, lmdb.First)
}

// Last moves to the last entry. It returns true if the table is empty.
func (c *Cursor) Last() (bool, error) {
	const op = "last"
	cursorOpCounter.WithLabelValues(op).Inc()
	if err := c.bind(op); err != nil {
		return true, err
	}
	if c.cur == nil {
		return true, nil
	}
	return c.move(op, lmdb.Last)
}

// Next moves to the next entry. It returns true when there is none.
func (c *Cursor) Next() (bool, error) {
	return c.step("next", lmdb.Next, 1)
}

// Prev moves to the previous entry. It returns true when there is none.
func (c *Cursor) Prev() (bool, error) {
	return c.step("prev", lmdb.Prev, -1)
}

func (c *Cursor) step(op string, lmdbOp uint, dir int) (bool, error) {
	cursorOpCounter.WithLabelValues(op).Inc()
	if err := c.bind(op); err != nil {
		return true, err
	}
	if c.cur == nil {
		return true, nil
	}
	if c.state != cursorValid && !c.afterDelete {
		return true, nil
	}
	if c.skip == dir {
		c.skip = 0
		c.state = cursorValid
		c.afterDelete = false
		return false, nil
	}
	return c.move(op, lmdbOp)
}

// MoveTo seeks to intKey in a row table or to key in an index table. The result is 0 when the
// cursor is on a matching entry, positive when it is on the first entry after key, and negative
// when it is on the last entry because every entry sorts before key or when the table is empty.
// bias is a hint and is not needed by LMDB.
func (c *Cursor) MoveTo(key *record.UnpackedRecord, intKey int64, bias bool) (int, error) {
	const op = "move to"
	cursorOpCounter.WithLabelValues(op).Inc()
	if err := c.bind(op); err != nil {
		return 0, err
	}
	c.skip = 0
	c.afterDelete = false
	c.state = cursorInvalid
	if c.cur == nil {
		return -1, nil
	}
	if c.kind == TableRow {
		exact, found, err := c.seek(encodeRowKey(intKey), nil, false)
		if err != nil {
			return 0, wrapErr(op, err)
		}
		return c.seekResult(op, exact, found)
	}
	if key == nil {
		return 0, newErrf(CodeMisuse, op, "index seek without key")
	}
	values := squashValues(key.Values)
	search := &record.UnpackedRecord{KeyInfo: c.ki, Values: values, DefaultRC: key.DefaultRC}
	nKey := mathutil.Min(c.ki.KeyFields(), len(values))
	prefix := record.AppendOrderKey(nil, c.ki, values[:nKey])

	var (
		found bool
		err   error
	)
	after := key.DefaultRC < 0
	if len(values) > nKey && values[nKey].Kind == record.KindInt {
		rowid := values[nKey].I
		if after && rowid == math.MaxInt64 {
			_, found, err = c.seek(prefix, nil, true)
		} else {
			if after {
				rowid++
			}
			_, found, err = c.seek(prefix, codec.EncodeInt(nil, rowid), false)
		}
	} else if after {
		if next := successor(prefix); next != nil {
			_, found, err = c.seek(next, nil, false)
		}
	} else {
		_, found, err = c.seek(prefix, nil, false)
	}
	if err != nil {
		return 0, wrapErr(op, err)
	}
	if !found {
		return c.parkLast(op)
	}
	c.state = cursorValid
	_, v, err := c.cur.Get(nil, nil, lmdb.GetCurrent)
	if err != nil {
		return 0, wrapErr(op, err)
	}
	stored, err := indexValues(v)
	if err != nil {
		return 0, wrapErr(op, err)
	}
	res := record.CompareValues(stored, search)
	switch {
	case res > 0:
		return 1, nil
	case res < 0:
		return -1, nil
	}
	return 0, nil
}

func (c *Cursor) seekResult(op string, exact, found bool) (int, error) {
	if !found {
		return c.parkLast(op)
	}
	c.state = cursorValid
	if exact {
		return 0, nil
	}
	return 1, nil
}

// parkLast leaves the cursor on the last entry, or invalid if the table is empty.
func (c *Cursor) parkLast(op string) (int, error) {
	if _, err := c.move(op, lmdb.Last); err != nil {
		return 0, err
	}
	return -1, nil
}

// successor returns the smallest key greater than every key starting with prefix.
func successor(prefix []byte) []byte {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] != 0xff {
			next := append([]byte(nil), prefix[:i+1]...)
			next[i]++
			return next
		}
	}
	return nil
}

// indexValues decodes a stored index value into the fields of its record, row id last.
func indexValues(v []byte) ([]record.Value, error) {
	rowid, _, splitKey, err := decodeIndexValue(v)
	if err != nil {
		return nil, err
	}
	values, err := record.Decode(splitKey)
	if err != nil {
		return nil, err
	}
	return append(values, record.Int(rowid)), nil
}

func (c *Cursor) requireWritable(op string) error {
	if !c.writable {
		return newErrf(CodeMisuse, op, "cursor is read-only")
	}
	return c.bt.requireWrite(op)
}

// Insert writes an entry and leaves the cursor on it. Row tables store data followed by nZero
// zero bytes under intKey. Index tables store the record key; inserting an entry that already
// exists is not an error. appendBias and seekResult are positioning hints LMDB does not need.
func (c *Cursor) Insert(key []byte, intKey int64, data []byte, nZero int, appendBias bool, seekResult int) error {
	const op = "insert"
	cursorOpCounter.WithLabelValues(op).Inc()
	if err := c.requireWritable(op); err != nil {
		return err
	}
	if err := c.bind(op); err != nil {
		return err
	}
	if c.cur == nil {
		return newErrf(CodeInternal, op, "table %d has no handle", c.table)
	}
	c.skip = 0
	c.afterDelete = false
	if c.kind == TableRow {
		if nZero < 0 {
			nZero = 0
		}
		k := encodeRowKey(intKey)
		buf, err := c.cur.PutReserve(k, len(data)+nZero, 0)
		if err != nil {
			c.state = cursorInvalid
			return wrapErr(op, err)
		}
		n := copy(buf, data)
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
		c.state = cursorValid
		return nil
	}
	e, err := encodeIndexEntry(c.ki, key)
	if err != nil {
		return wrapErr(op, err)
	}
	err = c.cur.Put(e.key, e.value, lmdb.NoDupData)
	if lmdb.IsErrno(err, lmdb.KeyExist) {
		_, _, err = c.cur.Get(e.key, e.value, lmdb.GetBoth)
	}
	if err != nil {
		c.state = cursorInvalid
		return wrapErr(op, err)
	}
	c.state = cursorValid
	return nil
}

// Delete removes the entry under the cursor. The cursor is left without a position, but Next
// and Prev continue from where the entry was.
func (c *Cursor) Delete() error {
	const op = "delete"
	cursorOpCounter.WithLabelValues(op).Inc()
	if err := c.requireWritable(op); err != nil {
		return err
	}
	if err := c.bind(op); err != nil {
		return err
	}
	if c.cur == nil || c.state != cursorValid {
		return newErrf(CodeMisuse, op, "cursor is not on an entry")
	}
	k, v, err := c.cur.Get(nil, nil, lmdb.GetCurrent)
	if err != nil {
		return wrapErr(op, err)
	}
	c.savedKey = append(c.savedKey[:0], k...)
	c.savedVal = c.savedVal[:0]
	if c.kind == TableIndex {
		c.savedVal = append(c.savedVal, v...)
	} else if rowid, err := decodeRowKey(k); err == nil {
		c.forgetRowid(rowid)
	}
	if err = c.cur.Del(0); err != nil {
		return wrapErr(op, err)
	}
	// MDB_NEXT after a delete can skip the first duplicate of the following key, so park on the
	// neighbour by seeking instead.
	if err = c.restore(op); err != nil {
		return err
	}
	c.state = cursorInvalid
	c.afterDelete = true
	return nil
}

// entry returns the raw key and value under the cursor.
func (c *Cursor) entry(op string) ([]byte, []byte, error) {
	if err := c.bind(op); err != nil {
		return nil, nil, err
	}
	if c.cur == nil || c.state != cursorValid {
		return nil, nil, newErrf(CodeMisuse, op, "cursor is not on an entry")
	}
	k, v, err := c.cur.Get(nil, nil, lmdb.GetCurrent)
	if err != nil {
		return nil, nil, wrapErr(op, err)
	}
	return k, v, nil
}

// growKeyBuf makes room for n bytes, doubling the buffer.
func (c *Cursor) growKeyBuf(n int) {
	if cap(c.keyBuf) >= n {
		return
	}
	size := mathutil.Max(2*cap(c.keyBuf), 64)
	for size < n {
		size *= 2
	}
	c.keyBuf = make([]byte, 0, size)
}

// KeyFetch returns the record of an index entry. The slice is owned by the cursor and is only
// valid until the next cursor call.
func (c *Cursor) KeyFetch() ([]byte, error) {
	const op = "key fetch"
	cursorOpCounter.WithLabelValues(op).Inc()
	_, v, err := c.entry(op)
	if err != nil {
		return nil, err
	}
	if c.kind != TableIndex {
		return nil, newErrf(CodeMisuse, op, "row table keys are integers")
	}
	return c.indexKey(op, v)
}

func (c *Cursor) indexKey(op string, v []byte) ([]byte, error) {
	size, err := indexKeySize(v)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	_, rowidField, splitKey, err := decodeIndexValue(v)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	c.growKeyBuf(size)
	key, err := RejoinIndexKey(c.keyBuf[:0], splitKey, rowidField)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return key, nil
}

// DataFetch returns the payload of a row entry without copying it. The slice is only valid until
// the next write in the transaction or the end of the transaction. Index entries have no data.
func (c *Cursor) DataFetch() ([]byte, error) {
	const op = "data fetch"
	cursorOpCounter.WithLabelValues(op).Inc()
	_, v, err := c.entry(op)
	if err != nil {
		return nil, err
	}
	if c.kind == TableIndex {
		return nil, nil
	}
	return v, nil
}

// KeySize returns the row id of a row entry or the record size of an index entry.
func (c *Cursor) KeySize() (int64, error) {
	const op = "key size"
	k, v, err := c.entry(op)
	if err != nil {
		return 0, err
	}
	if c.kind == TableRow {
		rowid, err := decodeRowKey(k)
		return rowid, wrapErr(op, err)
	}
	size, err := indexKeySize(v)
	return int64(size), wrapErr(op, err)
}

// IntegerKey returns the row id under a row table cursor.
func (c *Cursor) IntegerKey() (int64, error) {
	if c.kind != TableRow {
		return 0, newErrf(CodeMisuse, "integer key", "index entries have no integer key")
	}
	return c.KeySize()
}

func (c *Cursor) DataSize() (int, error) {
	const op = "data size"
	_, v, err := c.entry(op)
	if err != nil {
		return 0, err
	}
	if c.kind == TableIndex {
		return 0, nil
	}
	return len(v), nil
}

func readRange(op string, payload []byte, offset, amt int, buf []byte) error {
	if offset < 0 || amt < 0 || offset+amt > len(payload) {
		return newErrf(CodeCorrupt, op, "range [%d,%d) outside payload of %d bytes", offset, offset+amt, len(payload))
	}
	if len(buf) < amt {
		return newErrf(CodeMisuse, op, "buffer of %d bytes for %d", len(buf), amt)
	}
	copy(buf, payload[offset:offset+amt])
	return nil
}

// Key copies amt bytes of the index record starting at offset into buf.
func (c *Cursor) Key(offset, amt int, buf []byte) error {
	const op = "read key"
	key, err := c.KeyFetch()
	if err != nil {
		return err
	}
	return readRange(op, key, offset, amt, buf)
}

// Data copies amt bytes of the row payload starting at offset into buf.
func (c *Cursor) Data(offset, amt int, buf []byte) error {
	const op = "read data"
	data, err := c.DataFetch()
	if err != nil {
		return err
	}
	return readRange(op, data, offset, amt, buf)
}

// PutData overwrites len(data) bytes of the row under the cursor starting at offset. The row
// keeps its size, so a write past its end is Corrupt.
func (c *Cursor) PutData(offset int, data []byte) error {
	const op = "put data"
	cursorOpCounter.WithLabelValues(op).Inc()
	if err := c.requireWritable(op); err != nil {
		return err
	}
	k, v, err := c.entry(op)
	if err != nil {
		return err
	}
	if c.kind != TableRow {
		return newErrf(CodeMisuse, op, "index entries cannot be rewritten in place")
	}
	if offset < 0 || offset+len(data) > len(v) {
		return newErrf(CodeCorrupt, op, "range [%d,%d) outside payload of %d bytes", offset, offset+len(data), len(v))
	}
	key := append([]byte(nil), k...)
	row := append([]byte(nil), v...)
	copy(row[offset:], data)
	if err = c.cur.Put(key, row, lmdb.Current); err != nil {
		return wrapErr(op, err)
	}
	return nil
}

// Count returns the number of entries in the table.
func (c *Cursor) Count() (int64, error) {
	const op = "count"
	if err := c.bind(op); err != nil {
		return 0, err
	}
	if c.cur == nil {
		return 0, nil
	}
	stat, err := c.node.txn.Stat(c.cur.DBI())
	if err != nil {
		return 0, wrapErr(op, err)
	}
	return int64(stat.Entries), nil
}

// SetCachedRowid remembers rowid for the cursor's table. Every cursor on the same table of the
// shared database sees it. Zero or negative values clear the cache.
func (c *Cursor) SetCachedRowid(rowid int64) {
	db := c.bt.shared
	db.mu.Lock()
	if rowid > 0 {
		db.rowids[c.table] = rowid
	} else {
		delete(db.rowids, c.table)
	}
	db.mu.Unlock()
}

// CachedRowid returns the cached row id of the table, 0 when unknown.
func (c *Cursor) CachedRowid() int64 {
	db := c.bt.shared
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.rowids[c.table]
}

func (c *Cursor) forgetRowid(rowid int64) {
	db := c.bt.shared
	db.mu.Lock()
	if db.rowids[c.table] == rowid {
		delete(db.rowids, c.table)
	}
	db.mu.Unlock()
}

// HasMoved reports whether the cursor is not positioned on an entry it can read right away,
// which is always the case after a commit or a rollback.
func (c *Cursor) HasMoved() bool {
	return c.state != cursorValid
}

// Restore seeks a cursor that lost its LMDB cursor at a savepoint boundary back to its entry.
// differentRow is true when that entry is gone and the cursor sits on a neighbour instead.
func (c *Cursor) Restore() (differentRow bool, err error) {
	if c.state == cursorValid && c.node == c.bt.current {
		return c.skip != 0, nil
	}
	if err = c.bind("restore"); err != nil {
		return true, err
	}
	return c.state != cursorValid || c.skip != 0, nil
}

func (c *Cursor) Eof() bool {
	return c.state != cursorValid
}

func (c *Cursor) Table() int { return c.table }

func (c *Cursor) Kind() TableKind { return c.kind }

// Close releases the cursor. It is safe to call more than once.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.detach(false)
	if c.bt.cursors != nil {
		delete(c.bt.cursors, c)
	}
	c.closed = true
	c.keyBuf = nil
	cursorOpCounter.WithLabelValues("close").Inc()
	return nil
}

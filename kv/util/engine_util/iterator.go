package engine_util

import (
	"github.com/bmatsuo/lmdb-go/lmdb"
	"github.com/pingcap/errors"
)

type DBIterator interface {
	// Item returns pointer to the current key-value pair.
	Item() DBItem
	// Valid returns false when iteration is done.
	Valid() bool
	// Next would advance the iterator by one. Always check it.Valid() after a Next()
	// to ensure you have access to a valid it.Item().
	Next()
	// Seek would seek to the provided key if present. If absent, it would seek to the next smallest key
	// greater than provided.
	Seek([]byte)
	// Rewind moves to the first key.
	Rewind()

	// Close the iterator
	Close()
}

type DBItem interface {
	// Key returns the key.
	Key() []byte
	// KeyCopy returns a copy of the key of the item, writing it to dst slice.
	// If nil is passed, or capacity of dst isn't sufficient, a new slice would be allocated and
	// returned.
	KeyCopy(dst []byte) []byte
	// Value retrieves the value of the item.
	Value() []byte
	// ValueSize returns the size of the value.
	ValueSize() int
	// ValueCopy returns a copy of the value of the item, writing it to dst slice.
	ValueCopy(dst []byte) []byte
}

type lmdbItem struct {
	key   []byte
	value []byte
}

func (i *lmdbItem) Key() []byte { return i.key }

func (i *lmdbItem) KeyCopy(dst []byte) []byte { return safeCopy(dst, i.key) }

func (i *lmdbItem) Value() []byte { return i.value }

func (i *lmdbItem) ValueSize() int { return len(i.value) }

func (i *lmdbItem) ValueCopy(dst []byte) []byte { return safeCopy(dst, i.value) }

func safeCopy(dst, src []byte) []byte {
	return append(dst[:0], src...)
}

// Iterator walks every key/value pair of one database, duplicates included.
// Items are only valid until the next move when the transaction reads raw.
type Iterator struct {
	cur  *lmdb.Cursor
	item lmdbItem
	err  error
	ok   bool
}

func NewIterator(txn *lmdb.Txn, dbi lmdb.DBI) (*Iterator, error) {
	cur, err := txn.OpenCursor(dbi)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Iterator{cur: cur}, nil
}

func (it *Iterator) move(key []byte, op uint) {
	k, v, err := it.cur.Get(key, nil, op)
	it.ok = err == nil
	if err != nil && !lmdb.IsNotFound(err) {
		it.err = errors.WithStack(err)
	}
	it.item = lmdbItem{key: k, value: v}
}

func (it *Iterator) Item() DBItem { return &it.item }

func (it *Iterator) Valid() bool { return it.ok }

func (it *Iterator) Next() { it.move(nil, lmdb.Next) }

func (it *Iterator) Seek(key []byte) {
	if len(key) == 0 {
		it.Rewind()
		return
	}
	it.move(key, lmdb.SetRange)
}

func (it *Iterator) Rewind() { it.move(nil, lmdb.First) }

// Err returns the first engine error the iterator met, if any.
func (it *Iterator) Err() error { return it.err }

func (it *Iterator) Close() {
	it.cur.Close()
}

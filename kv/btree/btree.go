package btree

import (
	"time"

	"github.com/bmatsuo/lmdb-go/lmdb"
	"github.com/pingcap-incubator/sqlmdb/kv/config"
	"github.com/pingcap-incubator/sqlmdb/kv/util/engine_util"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// MemoryPath opens a private store, like an empty path.
const MemoryPath = ":memory:"

type OpenFlag uint

const (
	OpenReadOnly OpenFlag = 1 << iota
	// OpenMemory opens a private store whatever the path.
	OpenMemory
)

type TransState int

const (
	TransNone TransState = iota
	TransRead
	TransWrite
)

func (s TransState) String() string {
	switch s {
	case TransRead:
		return "read"
	case TransWrite:
		return "write"
	}
	return "none"
}

// SchemaTable is the table that holds the schema. It is created along with the first table.
const SchemaTable = 1

// Btree is one connection to a store. It must only be used by one goroutine at a time, and a
// write transaction must begin and end on the same goroutine.
type Btree struct {
	shared   *sharedDB
	readOnly bool
	closed   bool

	state   TransState
	root    *txnNode
	current *txnNode
	cursors map[*Cursor]struct{}

	writeStart time.Time
}

// Open connects to the store at path. An empty path or MemoryPath opens a private store that is
// deleted on Close. A nil conf means the default configuration.
func Open(path string, conf *config.Config, flags OpenFlag) (*Btree, error) {
	const op = "open"
	if conf == nil {
		conf = config.NewDefaultConfig()
	}
	var (
		shared *sharedDB
		err    error
	)
	if path == "" || path == MemoryPath || flags&OpenMemory != 0 {
		shared, err = openPrivate(conf)
	} else {
		shared, err = acquireShared(path, conf, flags&OpenReadOnly != 0)
	}
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return &Btree{
		shared:   shared,
		readOnly: flags&OpenReadOnly != 0 || shared.engine.ReadOnly,
		cursors:  make(map[*Cursor]struct{}),
	}, nil
}

// Close rolls back any open transaction, closes every cursor and drops the connection's
// reference to the shared database.
func (b *Btree) Close() error {
	if b.closed {
		return nil
	}
	err := b.Rollback()
	for c := range b.cursors {
		c.detach(false)
		c.closed = true
	}
	b.cursors = nil
	b.closed = true
	if rerr := b.shared.release(); rerr != nil && err == nil {
		err = wrapErr("close", rerr)
	}
	return err
}

func (b *Btree) env() *lmdb.Env { return b.shared.engine.Env }

// Path is the data file of the store.
func (b *Btree) Path() string { return b.shared.engine.Path }

func (b *Btree) IsReadOnly() bool { return b.readOnly }

func (b *Btree) TxnState() TransState { return b.state }

// IsShared reports whether other connections may share this store.
func (b *Btree) IsShared() bool { return b.shared.key != "" }

// Schema returns the schema object attached to the shared database. When there is none yet and
// create is not nil, create builds it and free is remembered to release it with the database.
func (b *Btree) Schema(create func() interface{}, free func(interface{})) interface{} {
	db := b.shared
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.schema == nil && create != nil {
		db.schema = create()
		db.freeSchema = free
	}
	return db.schema
}

// GetMeta reads one meta slot. Without an open transaction a short read transaction is used.
func (b *Btree) GetMeta(slot int) (uint32, error) {
	const op = "get meta"
	if b.closed {
		return 0, newErr(CodeMisuse, op)
	}
	if slot < 0 || slot >= engine_util.MetaSlots {
		return 0, newErrf(CodeMisuse, op, "no meta slot %d", slot)
	}
	if slot == engine_util.MetaFreePageCount {
		return 0, nil
	}
	read := func(txn *lmdb.Txn) (uint32, error) {
		if slot == engine_util.MetaDataVersion {
			return uint32(txn.ID()), nil
		}
		meta, err := engine_util.GetMeta(txn)
		return meta[slot], err
	}
	if b.current != nil {
		v, err := read(b.current.txn)
		return v, wrapErr(op, err)
	}
	var v uint32
	err := b.env().View(func(txn *lmdb.Txn) (err error) {
		v, err = read(txn)
		return err
	})
	return v, wrapErr(op, err)
}

// UpdateMeta writes one meta slot. It needs a write transaction; the computed slots are read-only.
func (b *Btree) UpdateMeta(slot int, v uint32) error {
	const op = "update meta"
	if slot < 0 || slot >= engine_util.MetaSlots {
		return newErrf(CodeMisuse, op, "no meta slot %d", slot)
	}
	if slot == engine_util.MetaFreePageCount || slot == engine_util.MetaDataVersion {
		return newErrf(CodeReadOnly, op, "meta slot %d is read-only", slot)
	}
	if err := b.requireWrite(op); err != nil {
		return err
	}
	txn := b.current.txn
	meta, err := engine_util.GetMeta(txn)
	if err != nil {
		return wrapErr(op, err)
	}
	meta[slot] = v
	if err = engine_util.PutMeta(txn, meta); err != nil {
		log.Warn("update meta failed", zap.Int("slot", slot), zap.Error(err))
	}
	return wrapErr(op, err)
}

func (b *Btree) requireWrite(op string) error {
	if b.closed {
		return newErr(CodeMisuse, op)
	}
	if b.state != TransWrite {
		if b.readOnly {
			return newErr(CodeReadOnly, op)
		}
		return newErrf(CodeMisuse, op, "no write transaction")
	}
	return nil
}

func (b *Btree) requireTxn(op string) error {
	if b.closed || b.state == TransNone {
		return newErrf(CodeMisuse, op, "no transaction")
	}
	return nil
}

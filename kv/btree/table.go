package btree

import (
	"github.com/bmatsuo/lmdb-go/lmdb"
	"github.com/pingcap-incubator/sqlmdb/kv/util/engine_util"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

type TableKind int

const (
	// TableRow tables map an integer row id to a payload.
	TableRow TableKind = iota
	// TableIndex tables hold index records, many rows per indexed value.
	TableIndex
)

func (k TableKind) String() string {
	if k == TableIndex {
		return "index"
	}
	return "row"
}

func (k TableKind) dbFlags() uint {
	if k == TableIndex {
		return lmdb.DupSort
	}
	return 0
}

type TableInfo struct {
	ID      int
	Kind    TableKind
	Entries int64
}

// lookupTable finds a handle already usable by the current transaction.
func (b *Btree) lookupTable(id int) (tableHandle, bool) {
	for n := b.current; n != nil; n = n.parent {
		if h, ok := n.tables[id]; ok {
			return h, true
		}
	}
	db := b.shared
	db.mu.Lock()
	defer db.mu.Unlock()
	h, ok := db.tables[id]
	if !ok || h.epoch > b.root.epoch {
		return tableHandle{}, false
	}
	return h, true
}

// openTable resolves table id in the current transaction. In a write transaction a missing table
// is created with kind when create is set; otherwise a missing table reports ok == false.
func (b *Btree) openTable(id int, kind TableKind, create bool) (h tableHandle, ok bool, err error) {
	if h, ok := b.lookupTable(id); ok {
		return h, true, nil
	}
	node := b.current
	name := engine_util.TableName(id)
	db := b.shared
	db.mu.Lock()
	dbi, err := node.txn.OpenDBI(name, 0)
	created := false
	if lmdb.IsNotFound(err) && create && node.write {
		dbi, err = node.txn.OpenDBI(name, lmdb.Create|kind.dbFlags())
		created = true
	}
	db.mu.Unlock()
	if lmdb.IsNotFound(err) {
		return tableHandle{}, false, nil
	}
	if err != nil {
		return tableHandle{}, false, err
	}
	flags, err := node.txn.Flags(dbi)
	if err != nil {
		return tableHandle{}, false, err
	}
	h = tableHandle{dbi: dbi, kind: TableRow}
	if flags&lmdb.DupSort != 0 {
		h.kind = TableIndex
	}
	node.tables[id] = h
	if created {
		log.Debug("create table", zap.Int("id", id), zap.Stringer("kind", kind))
		if err = b.raiseLargestTable(id); err != nil {
			return tableHandle{}, false, err
		}
	}
	return h, true, nil
}

func (b *Btree) raiseLargestTable(id int) error {
	txn := b.current.txn
	meta, err := engine_util.GetMeta(txn)
	if err != nil {
		return err
	}
	if meta[engine_util.MetaLargestTable] >= uint32(id) {
		return nil
	}
	meta[engine_util.MetaLargestTable] = uint32(id)
	return engine_util.PutMeta(txn, meta)
}

// CreateTable allocates the next table id and creates the table. The schema table is created
// first if it does not exist yet.
func (b *Btree) CreateTable(kind TableKind) (int, error) {
	const op = "create table"
	if err := b.requireWrite(op); err != nil {
		return 0, err
	}
	if _, _, err := b.openTable(SchemaTable, TableRow, true); err != nil {
		return 0, wrapErr(op, err)
	}
	meta, err := engine_util.GetMeta(b.current.txn)
	if err != nil {
		return 0, wrapErr(op, err)
	}
	id := int(meta[engine_util.MetaLargestTable])
	if id < SchemaTable {
		id = SchemaTable
	}
	id++
	h, _, err := b.openTable(id, kind, true)
	if err != nil {
		return 0, wrapErr(op, err)
	}
	if h.kind != kind {
		// left behind by a cursor that created the table lazily with another kind
		if h, err = b.recreateTable(id, h, kind); err != nil {
			return 0, wrapErr(op, err)
		}
	}
	if err = b.raiseLargestTable(id); err != nil {
		return 0, wrapErr(op, err)
	}
	return id, nil
}

func (b *Btree) recreateTable(id int, h tableHandle, kind TableKind) (tableHandle, error) {
	if err := b.dropHandle(id, h); err != nil {
		return tableHandle{}, err
	}
	h, _, err := b.openTable(id, kind, true)
	return h, err
}

// dropHandle deletes the table. LMDB closes the handle for the whole environment, so it is
// forgotten everywhere.
func (b *Btree) dropHandle(id int, h tableHandle) error {
	for c := range b.cursors {
		if c.table == id {
			c.detach(false)
		}
	}
	if err := b.current.txn.Drop(h.dbi, true); err != nil {
		return err
	}
	for n := b.current; n != nil; n = n.parent {
		delete(n.tables, id)
	}
	b.shared.forget(id)
	return nil
}

// DropTable deletes table id and its contents. Cursors open on it become invalid.
func (b *Btree) DropTable(id int) error {
	const op = "drop table"
	if err := b.requireWrite(op); err != nil {
		return err
	}
	h, ok, err := b.openTable(id, TableRow, false)
	if err != nil || !ok {
		return wrapErr(op, err)
	}
	return wrapErr(op, b.dropHandle(id, h))
}

// ClearTable deletes every entry of table id and returns how many there were.
func (b *Btree) ClearTable(id int) (int64, error) {
	const op = "clear table"
	if err := b.requireWrite(op); err != nil {
		return 0, err
	}
	h, ok, err := b.openTable(id, TableRow, false)
	if err != nil || !ok {
		return 0, wrapErr(op, err)
	}
	for c := range b.cursors {
		if c.table == id {
			c.detach(false)
		}
	}
	txn := b.current.txn
	stat, err := txn.Stat(h.dbi)
	if err != nil {
		return 0, wrapErr(op, err)
	}
	if err = txn.Drop(h.dbi, false); err != nil {
		return 0, wrapErr(op, err)
	}
	b.shared.mu.Lock()
	delete(b.shared.rowids, id)
	b.shared.mu.Unlock()
	return int64(stat.Entries), nil
}

// Tables lists every table of the store as seen by the current transaction.
func (b *Btree) Tables() ([]TableInfo, error) {
	const op = "tables"
	if err := b.requireTxn(op); err != nil {
		return nil, err
	}
	ids, err := engine_util.ListTables(b.current.txn)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	infos := make([]TableInfo, 0, len(ids))
	for _, id := range ids {
		h, ok, err := b.openTable(id, TableRow, false)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		if !ok {
			continue
		}
		stat, err := b.current.txn.Stat(h.dbi)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		infos = append(infos, TableInfo{ID: id, Kind: h.kind, Entries: int64(stat.Entries)})
	}
	return infos, nil
}

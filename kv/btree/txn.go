package btree

import (
	"runtime"
	"time"

	"github.com/bmatsuo/lmdb-go/lmdb"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

type SavepointOp int

const (
	SavepointRelease SavepointOp = iota
	SavepointRollback
)

// txnNode is one level of the transaction stack. The root has depth 0 and every savepoint
// is a nested LMDB transaction one level deeper than its parent.
type txnNode struct {
	txn    *lmdb.Txn
	parent *txnNode
	depth  int
	write  bool
	// tables opened in this transaction. They become visible to the parent on commit
	// and are closed by LMDB on abort.
	tables map[int]tableHandle
	// epoch of the shared handles this transaction may use.
	epoch uint64
}

func (b *Btree) claimWriter() error {
	db := b.shared
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.writer != nil && db.writer != b {
		return newErr(CodeBusy, "begin")
	}
	db.writer = b
	return nil
}

func (b *Btree) releaseWriter() {
	db := b.shared
	db.mu.Lock()
	if db.writer == b {
		db.writer = nil
	}
	db.mu.Unlock()
}

// BeginTrans starts a transaction. A read request inside any transaction is a no-op; a write
// request inside a read transaction replaces it with a write transaction. Only one connection
// per shared database may write at a time, the others get CodeBusy.
func (b *Btree) BeginTrans(write bool) error {
	const op = "begin"
	if b.closed {
		return newErr(CodeMisuse, op)
	}
	if b.state == TransWrite || (!write && b.state == TransRead) {
		return nil
	}
	if !write {
		err := b.beginRoot(false)
		if err != nil {
			txnCounter.WithLabelValues("read", "error").Inc()
		}
		return err
	}
	if b.readOnly {
		return newErr(CodeReadOnly, op)
	}
	if err := b.claimWriter(); err != nil {
		txnCounter.WithLabelValues("write", "busy").Inc()
		log.Debug("write transaction busy", zap.String("path", b.Path()))
		return err
	}
	if b.state == TransRead {
		b.detachCursors(true)
		b.endRoot()
	}
	runtime.LockOSThread()
	if err := b.beginRoot(true); err != nil {
		runtime.UnlockOSThread()
		b.releaseWriter()
		txnCounter.WithLabelValues("write", "error").Inc()
		return err
	}
	b.writeStart = time.Now()
	return nil
}

func (b *Btree) beginRoot(write bool) error {
	flags := uint(0)
	if !write {
		flags = lmdb.Readonly
	}
	txn, err := b.env().BeginTxn(nil, flags)
	if err != nil {
		return wrapErr("begin", err)
	}
	txn.RawRead = true
	b.shared.mu.Lock()
	epoch := b.shared.epoch
	b.shared.mu.Unlock()
	b.root = &txnNode{txn: txn, write: write, tables: make(map[int]tableHandle), epoch: epoch}
	b.current = b.root
	b.state = TransRead
	if write {
		b.state = TransWrite
	}
	return nil
}

// endRoot ends a read transaction. Read transactions are committed so that the table handles
// they opened stay valid for later transactions.
func (b *Btree) endRoot() {
	root := b.root
	if err := root.txn.Commit(); err == nil {
		b.shared.promote(root.tables)
	}
	txnCounter.WithLabelValues("read", "commit").Inc()
	b.root, b.current, b.state = nil, nil, TransNone
}

// OpenSavepoint nests transactions until the current one is at depth. It needs a write
// transaction. The write transaction itself is depth 0, so the SQL engine's savepoint i lives at
// depth i+1.
func (b *Btree) OpenSavepoint(depth int) error {
	const op = "open savepoint"
	if err := b.requireWrite(op); err != nil {
		return err
	}
	if depth <= b.current.depth {
		return nil
	}
	b.detachCursors(true)
	for b.current.depth < depth {
		txn, err := b.env().BeginTxn(b.current.txn, 0)
		if err != nil {
			txnCounter.WithLabelValues("savepoint", "error").Inc()
			return wrapErr(op, err)
		}
		txn.RawRead = true
		b.current = &txnNode{
			txn:    txn,
			parent: b.current,
			depth:  b.current.depth + 1,
			write:  true,
			tables: make(map[int]tableHandle),
			epoch:  b.root.epoch,
		}
		log.Debug("open savepoint", zap.Int("depth", b.current.depth))
	}
	return nil
}

// Savepoint ends savepoints. Release commits every savepoint at depth or deeper into its parent;
// releasing depth 0 or less commits the whole transaction. Rollback aborts every savepoint at
// depth or deeper and leaves the enclosing transaction current; rolling back depth 0 empties the
// write transaction but keeps it open, and a negative depth rolls back the whole transaction.
// Outside a write transaction it does nothing. depth counts like OpenSavepoint: savepoint i of
// the SQL engine is depth i+1.
func (b *Btree) Savepoint(op SavepointOp, depth int) error {
	if b.closed || b.state != TransWrite {
		return nil
	}
	switch op {
	case SavepointRelease:
		if depth <= 0 {
			return b.Commit()
		}
		if b.current.depth < depth {
			return nil
		}
		b.detachCursors(true)
		for b.current.depth >= depth {
			if err := b.commitChild(); err != nil {
				return err
			}
		}
		return nil
	case SavepointRollback:
		if depth < 0 {
			return b.Rollback()
		}
		b.detachCursors(true)
		defer b.shared.resetRowids()
		if depth == 0 {
			return b.restartWrite()
		}
		for b.current.depth >= depth {
			b.abortChild()
		}
		return nil
	}
	return newErrf(CodeMisuse, "savepoint", "unknown savepoint op %d", op)
}

func (b *Btree) commitChild() error {
	node := b.current
	b.current = node.parent
	if err := node.txn.Commit(); err != nil {
		txnCounter.WithLabelValues("savepoint", "error").Inc()
		log.Warn("savepoint commit failed", zap.Int("depth", node.depth), zap.Error(err))
		return wrapErr("release savepoint", err)
	}
	for id, h := range node.tables {
		b.current.tables[id] = h
	}
	txnCounter.WithLabelValues("savepoint", "commit").Inc()
	return nil
}

func (b *Btree) abortChild() {
	node := b.current
	b.current = node.parent
	node.txn.Abort()
	txnCounter.WithLabelValues("savepoint", "rollback").Inc()
	log.Debug("rollback savepoint", zap.Int("depth", node.depth))
}

// restartWrite throws away everything the write transaction did and opens a fresh one while
// keeping the writer slot and the locked thread.
func (b *Btree) restartWrite() error {
	for b.current != b.root {
		b.abortChild()
	}
	b.root.txn.Abort()
	txnCounter.WithLabelValues("write", "rollback").Inc()
	if err := b.beginRoot(true); err != nil {
		b.finishWrite("error")
		b.root, b.current, b.state = nil, nil, TransNone
		return err
	}
	return nil
}

func (b *Btree) finishWrite(result string) {
	writeTxnDuration.WithLabelValues(result).Observe(time.Since(b.writeStart).Seconds())
	b.releaseWriter()
	runtime.UnlockOSThread()
}

// CommitPhaseOne commits the transaction. Every cursor loses its position. The connection is
// back to TransNone afterwards even when the commit fails.
func (b *Btree) CommitPhaseOne(masterJournal string) error {
	const op = "commit"
	if b.closed || b.state == TransNone {
		return nil
	}
	b.detachCursors(false)
	if b.state == TransRead {
		b.endRoot()
		return nil
	}
	var err error
	for b.current != b.root && err == nil {
		err = b.commitChild()
	}
	for b.current != b.root {
		b.abortChild()
	}
	if err == nil {
		if err = b.root.txn.Commit(); err == nil {
			b.shared.promote(b.root.tables)
		}
	} else {
		b.root.txn.Abort()
	}
	result := "commit"
	if err != nil {
		result = "error"
		b.shared.resetRowids()
		log.Warn("commit failed", zap.String("path", b.Path()), zap.Error(err))
	}
	txnCounter.WithLabelValues("write", result).Inc()
	b.finishWrite(result)
	b.root, b.current, b.state = nil, nil, TransNone
	return wrapErr(op, err)
}

// CommitPhaseTwo exists for callers that commit in two steps. LMDB commits in one, so it does
// nothing.
func (b *Btree) CommitPhaseTwo() error {
	return nil
}

func (b *Btree) Commit() error {
	if err := b.CommitPhaseOne(""); err != nil {
		return err
	}
	return b.CommitPhaseTwo()
}

// Rollback aborts the whole transaction stack, innermost first.
func (b *Btree) Rollback() error {
	if b.closed || b.state == TransNone {
		return nil
	}
	b.detachCursors(false)
	if b.state == TransRead {
		b.endRoot()
		return nil
	}
	for b.current != b.root {
		b.abortChild()
	}
	b.root.txn.Abort()
	b.shared.resetRowids()
	txnCounter.WithLabelValues("write", "rollback").Inc()
	b.finishWrite("rollback")
	b.root, b.current, b.state = nil, nil, TransNone
	return nil
}

// detachCursors closes the LMDB cursor of every open cursor before a transaction boundary.
// With keep, positioned cursors remember their entry and seek back to it on next use.
func (b *Btree) detachCursors(keep bool) {
	for c := range b.cursors {
		c.detach(keep)
	}
}

package btree

import (
	"github.com/bmatsuo/lmdb-go/lmdb"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// JournalModeNone is the only journal mode: LMDB never writes a journal.
const JournalModeNone = "none"

// Safety levels accepted by SetSafetyLevel.
const (
	SafetyOff    = 1
	SafetyNormal = 2
	SafetyFull   = 3
)

// PageSize returns the page size of the environment.
func (b *Btree) PageSize() (int, error) {
	stat, err := b.env().Stat()
	if err != nil {
		return 0, wrapErr("page size", err)
	}
	return int(stat.PSize), nil
}

// SetPageSize is accepted for compatibility. LMDB uses the OS page size.
func (b *Btree) SetPageSize(size int) error { return nil }

// SetCacheSize is accepted for compatibility. Pages are cached by the OS.
func (b *Btree) SetCacheSize(pages int) error { return nil }

// SetSafetyLevel turns off syncing at commit for SafetyOff and turns it back on otherwise.
func (b *Btree) SetSafetyLevel(level int) error {
	const op = "set safety level"
	if b.closed {
		return newErr(CodeMisuse, op)
	}
	var err error
	if level == SafetyOff {
		err = b.env().SetFlags(lmdb.NoSync)
	} else {
		err = b.env().UnsetFlags(lmdb.NoSync)
	}
	if err != nil {
		log.Warn("set safety level failed", zap.Int("level", level), zap.Error(err))
	}
	return wrapErr(op, err)
}

func (b *Btree) JournalMode() string { return JournalModeNone }

// SetAutoVacuum is accepted for compatibility. LMDB reuses free pages itself.
func (b *Btree) SetAutoVacuum(mode int) error { return nil }

func (b *Btree) AutoVacuum() int { return 0 }

// IncrVacuum reports that there is nothing left to vacuum.
func (b *Btree) IncrVacuum() (done bool, err error) {
	if err = b.requireWrite("incremental vacuum"); err != nil {
		return false, err
	}
	return true, nil
}

// Checkpoint flushes the environment to disk.
func (b *Btree) Checkpoint() error {
	const op = "checkpoint"
	if b.closed {
		return newErr(CodeMisuse, op)
	}
	if b.readOnly {
		return nil
	}
	return wrapErr(op, b.env().Sync(true))
}

// IntegrityCheck checks the listed tables. LMDB keeps its B+trees consistent, so the check only
// makes sure every table can be opened and returns no problems.
func (b *Btree) IntegrityCheck(tables []int) ([]string, error) {
	const op = "integrity check"
	if err := b.requireTxn(op); err != nil {
		return nil, err
	}
	for _, id := range tables {
		if _, _, err := b.openTable(id, TableRow, false); err != nil {
			return nil, wrapErr(op, err)
		}
	}
	return nil, nil
}

// Backup writes a consistent copy of the store to path.
func (b *Btree) Backup(path string) error {
	const op = "backup"
	if b.closed {
		return newErr(CodeMisuse, op)
	}
	log.Info("backup", zap.String("from", b.Path()), zap.String("to", path))
	return wrapErr(op, b.env().CopyFlag(path, lmdb.CopyCompact))
}

package btree

import (
	"fmt"
	"syscall"

	"github.com/bmatsuo/lmdb-go/lmdb"
	"github.com/pingcap-incubator/sqlmdb/kv/record"
	"github.com/pingcap/errors"
)

// ResultCode is the SQL engine's result code. Values match the engine's numbering.
type ResultCode int

const (
	CodeOK         ResultCode = 0
	CodeError      ResultCode = 1
	CodeInternal   ResultCode = 2
	CodeBusy       ResultCode = 5
	CodeNoMem      ResultCode = 7
	CodeReadOnly   ResultCode = 8
	CodeIOErr      ResultCode = 10
	CodeCorrupt    ResultCode = 11
	CodeNotFound   ResultCode = 12
	CodeFull       ResultCode = 13
	CodeCantOpen   ResultCode = 14
	CodeSchema     ResultCode = 17
	CodeTooBig     ResultCode = 18
	CodeConstraint ResultCode = 19
	CodeMisuse     ResultCode = 21
	CodeNotADB     ResultCode = 26
)

var codeNames = map[ResultCode]string{
	CodeOK:         "ok",
	CodeError:      "error",
	CodeInternal:   "internal error",
	CodeBusy:       "database is locked",
	CodeNoMem:      "out of memory",
	CodeReadOnly:   "attempt to write a readonly database",
	CodeIOErr:      "disk I/O error",
	CodeCorrupt:    "database disk image is malformed",
	CodeNotFound:   "not found",
	CodeFull:       "database or disk is full",
	CodeCantOpen:   "unable to open database file",
	CodeSchema:     "database schema has changed",
	CodeTooBig:     "string or blob too big",
	CodeConstraint: "constraint failed",
	CodeMisuse:     "bad parameter or other API misuse",
	CodeNotADB:     "file is not a database",
}

func (c ResultCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("result code %d", int(c))
}

var lmdbCodes = map[lmdb.Errno]ResultCode{
	lmdb.KeyExist:        CodeConstraint,
	lmdb.NotFound:        CodeNotFound,
	lmdb.PageNotFound:    CodeCorrupt,
	lmdb.Corrupted:       CodeCorrupt,
	lmdb.Panic:           CodeIOErr,
	lmdb.VersionMismatch: CodeNotADB,
	lmdb.Invalid:         CodeNotADB,
	lmdb.MapFull:         CodeFull,
	lmdb.DBsFull:         CodeFull,
	lmdb.ReadersFull:     CodeBusy,
	lmdb.TLSFull:         CodeBusy,
	lmdb.TxnFull:         CodeFull,
	lmdb.CursorFull:      CodeFull,
	lmdb.PageFull:        CodeFull,
	lmdb.MapResized:      CodeBusy,
	lmdb.Incompatible:    CodeSchema,
	lmdb.BadRSlot:        CodeMisuse,
	lmdb.BadTxn:          CodeMisuse,
	lmdb.BadValSize:      CodeTooBig,
	lmdb.BadDBI:          CodeMisuse,
}

var sysCodes = map[syscall.Errno]ResultCode{
	syscall.EACCES: CodeReadOnly,
	syscall.EPERM:  CodeReadOnly,
	syscall.EROFS:  CodeReadOnly,
	syscall.EIO:    CodeIOErr,
	syscall.ENOMEM: CodeNoMem,
	syscall.ENOENT: CodeCantOpen,
	syscall.ENOSPC: CodeFull,
	syscall.EINVAL: CodeMisuse,
	syscall.EBUSY:  CodeBusy,
	syscall.EAGAIN: CodeBusy,
}

// Translate maps an engine errno to a result code. Unknown conditions are internal errors.
func Translate(errno error) ResultCode {
	switch e := errno.(type) {
	case nil:
		return CodeOK
	case lmdb.Errno:
		if code, ok := lmdbCodes[e]; ok {
			return code
		}
	case syscall.Errno:
		if code, ok := sysCodes[e]; ok {
			return code
		}
	}
	return CodeInternal
}

// Error is returned by every exported operation of this package.
type Error struct {
	Code ResultCode
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, errors.Cause(e.Err))
}

func (e *Error) Unwrap() error { return e.Err }

// Code returns the result code carried by err.
func Code(err error) ResultCode {
	if err == nil {
		return CodeOK
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return classify(err)
}

func classify(err error) ResultCode {
	switch cause := errors.Cause(err).(type) {
	case *Error:
		return cause.Code
	case *lmdb.OpError:
		return Translate(cause.Errno)
	case lmdb.Errno, syscall.Errno:
		return Translate(cause)
	}
	if errors.Cause(err) == record.ErrCorrupt {
		return CodeCorrupt
	}
	return CodeInternal
}

// wrapErr attaches op and the translated code to an error coming out of the engine or a codec.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return &Error{Code: classify(err), Op: op, Err: errors.WithStack(err)}
}

func newErr(code ResultCode, op string) error {
	return &Error{Code: code, Op: op}
}

func newErrf(code ResultCode, op string, format string, args ...interface{}) error {
	return &Error{Code: code, Op: op, Err: errors.Errorf(format, args...)}
}

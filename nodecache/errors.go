package nodecache

import (
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// StorageErrorKind is the failure taxonomy spec.md §4.G / §7 requires:
// disk-full and IO errors are distinguished and delivered to a
// registered callback, everything else surfaces through the normal
// return code of the specific operation.
type StorageErrorKind int8

const (
	DBErrorUnknown StorageErrorKind = iota
	DBErrorFull
	DBErrorIO
)

func (k StorageErrorKind) String() string {
	switch k {
	case DBErrorFull:
		return "DB_ERROR_FULL"
	case DBErrorIO:
		return "DB_ERROR_IO"
	default:
		return "DB_ERROR_UNKNOWN"
	}
}

// classifyError maps a database/sql driver error to a StorageErrorKind.
// SQLITE_INTERRUPT (cancellation) is deliberately not classified as an
// error at all — spec.md §7: "recoverable interrupts ... are not
// reported as errors" — callers must check IsInterrupt first.
func classifyError(err error) StorageErrorKind {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrFull:
			return DBErrorFull
		case sqlite3.ErrIoErr:
			return DBErrorIO
		}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "disk full") || strings.Contains(msg, "database or disk is full"):
		return DBErrorFull
	case strings.Contains(msg, "disk i/o error") || strings.Contains(msg, "i/o error"):
		return DBErrorIO
	default:
		return DBErrorUnknown
	}
}

// IsInterrupt reports whether err is the SQLITE_INTERRUPT a cancelled
// CancelToken produces, which callers of long queries must treat as
// "empty result, no error" (spec.md §7).
func IsInterrupt(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrInterrupt
	}
	return strings.Contains(err.Error(), "interrupted")
}

// unreachable implements spec.md §9's fatal helper for the source's
// `assert(!operation.c_str())`: the original intent was "this code path
// never executes", not a real string-truthiness check, so this panics
// with a clear message instead of silently doing nothing.
func unreachable(op string) {
	panic("nodecache: unreachable: " + op)
}

package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/go-sql-driver/mysql"
)

// Constraint violations are scoped to one statement: the server answered,
// the connection is fine, and the orchestrator can move on to the next
// message. Everything else coming out of the driver is treated as a lost or
// unusable connection and aborts the run, keeping already-committed batches.

const (
	mysqlErrDupEntry        = 1062
	mysqlErrNoReferencedRow = 1452
	mysqlErrBadNull         = 1048
	mysqlErrDataTooLong     = 1406
)

// IsConstraint reports whether err is a per-statement constraint or data
// violation.
func IsConstraint(err error) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	switch me.Number {
	case mysqlErrDupEntry, mysqlErrNoReferencedRow, mysqlErrBadNull, mysqlErrDataTooLong:
		return true
	}
	return false
}

// IsFatal reports whether err should abort the whole run: the connection to
// the store is lost or unusable, or the run was canceled. A MySQL server
// error means the connection still works, and local filesystem errors are
// scoped to one message, so neither is fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

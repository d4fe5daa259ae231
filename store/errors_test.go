package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"os"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
)

func TestIsConstraint(t *testing.T) {
	for _, number := range []uint16{1062, 1452, 1048, 1406} {
		err := &mysql.MySQLError{Number: number, Message: "violation"}
		assert.True(t, IsConstraint(err), "number %d", number)
		assert.True(t, IsConstraint(fmt.Errorf("insert email: %w", err)), "wrapped number %d", number)
	}

	assert.False(t, IsConstraint(&mysql.MySQLError{Number: 1205, Message: "lock wait timeout"}))
	assert.False(t, IsConstraint(errors.New("not a mysql error")))
	assert.False(t, IsConstraint(nil))
}

func TestIsFatal_ConnectionLoss(t *testing.T) {
	assert.True(t, IsFatal(driver.ErrBadConn))
	assert.True(t, IsFatal(mysql.ErrInvalidConn))
	assert.True(t, IsFatal(fmt.Errorf("find email: %w", driver.ErrBadConn)))
	assert.True(t, IsFatal(context.Canceled))
	assert.True(t, IsFatal(context.DeadlineExceeded))

	var netErr net.Error = &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	assert.True(t, IsFatal(netErr))
	assert.True(t, IsFatal(fmt.Errorf("ping: %w", netErr)))
}

func TestIsFatal_ServerAndLocalErrorsAreNot(t *testing.T) {
	assert.False(t, IsFatal(nil))
	assert.False(t, IsFatal(&mysql.MySQLError{Number: 1062, Message: "duplicate entry"}))
	assert.False(t, IsFatal(&mysql.MySQLError{Number: 1213, Message: "deadlock"}))
	assert.False(t, IsFatal(os.ErrNotExist), "a local filesystem error is scoped to one message")
	assert.False(t, IsFatal(errors.New("malformed message")))
}

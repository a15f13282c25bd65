package persistence

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/o2o/erpsync/internal/domain/numbering"
)

// MySQL server and client error numbers that mean the store is unreachable
// or refuses us.
var mysqlUnavailableCodes = map[uint16]struct{}{
	1040: {}, // too many connections
	1044: {}, // access denied for database
	1045: {}, // access denied for user
	1049: {}, // unknown database
	1130: {}, // host not allowed
	2002: {},
	2003: {},
	2006: {}, // server has gone away
	2013: {}, // lost connection during query
}

var mysqlAuthCodes = map[uint16]struct{}{
	1044: {},
	1045: {},
	1049: {},
	1130: {},
}

// classifyStoreError wraps err with ErrStoreUnavailable when it indicates a
// connectivity or credential problem. Other errors are wrapped with op only.
func classifyStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, numbering.ErrStoreUnavailable) {
		return err
	}
	if isUnavailable(err) {
		return fmt.Errorf("%w: %s: %v", numbering.ErrStoreUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		_, ok := mysqlUnavailableCodes[myErr.Number]
		return ok
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "08") ||
			strings.HasPrefix(pgErr.Code, "28") ||
			strings.HasPrefix(pgErr.Code, "57P0") ||
			pgErr.Code == "3D000"
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func isAuthError(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		_, ok := mysqlAuthCodes[myErr.Number]
		return ok
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "28") || pgErr.Code == "3D000"
	}
	return false
}

// isMissingTable reports whether err says the queried table does not exist.
// SQLite only reports it in the message text.
func isMissingTable(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1146
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42P01"
	}
	return strings.Contains(err.Error(), "no such table")
}

package store

import (
	"database/sql/driver"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// sqlite3ConnectHookDriver registers the custom REGEXP SQL function on
// every new connection, so queries may use
// SELECT ... WHERE REGEXP(pattern, value).
type sqlite3ConnectHookDriver struct {
	sqlite3.SQLiteDriver
}

func (d *sqlite3ConnectHookDriver) Open(dsn string) (driver.Conn, error) {
	drv := &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("REGEXP", regexpFunc, true)
		},
	}
	return drv.Open(dsn)
}

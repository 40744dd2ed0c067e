package sqlstore

import "strings"

// Dialect captures the SQL differences between supported databases.
type Dialect interface {
	Name() string
	DriverName() string
	Quote(identifier string) string
	// Returning reports whether INSERT ... RETURNING * is available.
	Returning() bool
	DefaultMaxOpenConns() int
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string       { return "mysql" }
func (mysqlDialect) DriverName() string { return "mysql" }
func (mysqlDialect) Quote(identifier string) string {
	return "`" + strings.ReplaceAll(identifier, "`", "``") + "`"
}
func (mysqlDialect) Returning() bool          { return false }
func (mysqlDialect) DefaultMaxOpenConns() int { return 20 }

type sqliteDialect struct{}

func (sqliteDialect) Name() string       { return "sqlite" }
func (sqliteDialect) DriverName() string { return "sqlite" }
func (sqliteDialect) Quote(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
func (sqliteDialect) Returning() bool { return true }

// SQLite serialises writers; one connection avoids SQLITE_BUSY under load.
func (sqliteDialect) DefaultMaxOpenConns() int { return 1 }

package store

// Dialect names the sql driver a DBConfig connects through
type Dialect string

const (
	// DialectSQLite is the reference/default dialect: a single pure-Go
	// connection (modernc.org/sqlite, no cgo), not safe for concurrent
	// writers — callers must serialize through the guarded wrapper
	DialectSQLite Dialect = "sqlite"

	// DialectPostgres is the alternate dialect: a pooled connection
	// (lib/pq), safe for concurrent use without an additional mutex
	DialectPostgres Dialect = "postgres"
)

// MultiThreadSafe reports whether the dialect's driver tolerates concurrent
// use of the same connection/pool without external serialization. Per
// spec §4.3, the guarded wrapper only acquires its mutex when this is false
func (d Dialect) MultiThreadSafe() bool {
	return d == DialectPostgres
}

// driverName returns the database/sql driver name registered for this dialect
func (d Dialect) driverName() string {
	switch d {
	case DialectPostgres:
		return "postgres"
	default:
		return "sqlite"
	}
}

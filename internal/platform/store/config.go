package store

import "time"

// Config aggregates the backend configuration a Store opens
type Config struct {
	AppName string

	DB DBConfig
	CH CHConfig
}

// DBConfig configures the dialect-generic sql backend
type DBConfig struct {
	// Dialect selects the driver: "sqlite" (default, pure Go, single
	// connection) or "postgres" (alternate, pooled)
	Dialect Dialect
	// DSN is the driver-specific connection string (file path for sqlite,
	// a postgres URL for postgres)
	DSN string

	MaxConns int
	LogSQL   bool

	// Guard/boot knobs
	ConnectRetries int           // default 6
	PingTimeout    time.Duration // default 5s
}

// CHConfig configures the optional clickhouse archival sink
type CHConfig struct {
	Enabled     bool
	DSN         string
	LogSQL      bool
	InsertChunk int
	MaxRetries  int
	RetryBaseMs int
}

// Package ch is a thin, genuinely functional wrapper over clickhouse-go/v2's
// native driver, scoped to exactly what the queue's archival sink needs:
// batch-inserting pruned run-log rows into one fixed table
package ch

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Config configures the native ClickHouse connection
type Config struct {
	Addrs       []string
	Database    string
	Username    string
	Password    string
	TLS         *tls.Config
	DialTimeout time.Duration
	ReadTimeout time.Duration
	MaxRetries  int
	RetryBase   time.Duration

	// Table is the archival table name; defaults to "queue_run_log_archive"
	Table string
}

// Row is one archived run-log record
type Row struct {
	QueueName  string
	EntryID    string
	TaskID     string
	StartedAt  time.Time
	FinishedAt time.Time
	Success    bool
	Result     string
}

// CH holds a live native ClickHouse connection
type CH struct {
	conn  driver.Conn
	table string
	cfg   Config
}

func defaultTable(t string) string {
	if t == "" {
		return "queue_run_log_archive"
	}
	return t
}

// Open dials ClickHouse and verifies connectivity with Ping
func Open(ctx context.Context, cfg Config) (*CH, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("ch: no addresses configured")
	}

	dialTO := cfg.DialTimeout
	if dialTO <= 0 {
		dialTO = 5 * time.Second
	}

	opts := &clickhouse.Options{
		Addr: cfg.Addrs,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		TLS:         cfg.TLS,
		DialTimeout: dialTO,
		ReadTimeout: cfg.ReadTimeout,
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("ch: open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, dialTO)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("ch: ping: %w", err)
	}

	return &CH{conn: conn, table: defaultTable(cfg.Table), cfg: cfg}, nil
}

// Ping verifies the connection is alive
func (c *CH) Ping(ctx context.Context) error { return c.conn.Ping(ctx) }

// Close releases the underlying connection
func (c *CH) Close() error { return c.conn.Close() }

// InsertRows batch-inserts rows using PrepareBatch, trying the whole batch
// up to MaxRetries times in all (at least once) on transient failure
// (network blips are common with ClickHouse's async insert path)
func (c *CH) InsertRows(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	maxRetries := c.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	retryBase := c.cfg.RetryBase
	if retryBase <= 0 {
		retryBase = 200 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryBase * time.Duration(attempt))
		}
		if lastErr = c.insertBatch(ctx, rows); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("ch: insert batch after %d attempts: %w", maxRetries, lastErr)
}

func (c *CH) insertBatch(ctx context.Context, rows []Row) error {
	batch, err := c.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", c.table))
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, r := range rows {
		if err := batch.Append(
			r.QueueName,
			r.EntryID,
			r.TaskID,
			r.StartedAt,
			r.FinishedAt,
			r.Success,
			r.Result,
		); err != nil {
			return fmt.Errorf("append row: %w", err)
		}
	}
	return batch.Send()
}

// Query runs a read query and returns the driver's row iterator directly;
// callers needing the platform-generic Rows seam should wrap the result
func (c *CH) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	return c.conn.Query(ctx, query, args...)
}

// Schema returns the DDL for the archival table, for callers that manage
// their own migrations; nothing in the queue module or cmd/gantryd issues
// it at startup
func (c *CH) Schema() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	queue_name   String,
	entry_id     String,
	task_id      String,
	started_at   DateTime64(6),
	finished_at  DateTime64(6),
	success      Bool,
	result       String
) ENGINE = MergeTree()
ORDER BY (queue_name, finished_at)`, c.table)
}

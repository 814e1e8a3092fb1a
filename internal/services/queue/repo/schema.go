// Package repo is the queue's persistence layer: schema, DAO, and the
// dialect-generic placeholder handling database/sql needs across sqlite
// and postgres
package repo

import (
	"context"

	"gantry/internal/platform/store"
)

// Schema returns the DDL statements for the two durable tables, in the
// dialect's own id-column and placeholder idiom. Times are stored as unix
// microseconds (bigint) so the same statements serve both dialects without
// a TIMESTAMP-type translation layer
func Schema(dialect store.Dialect) []string {
	idCol := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if dialect == store.DialectPostgres {
		idCol = "BIGSERIAL PRIMARY KEY"
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS queue_entries (
			id ` + idCol + `,
			queue_name TEXT NOT NULL,
			method TEXT NOT NULL,
			url TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '',
			headers TEXT NOT NULL DEFAULT '{}',
			content_type TEXT NOT NULL,
			eta BIGINT NOT NULL,
			next_try BIGINT NOT NULL,
			last_tried BIGINT NOT NULL DEFAULT 0,
			retries INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_entries_ready
			ON queue_entries (queue_name, status, next_try)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_entries_terminal
			ON queue_entries (queue_name, status, last_tried)`,
		`CREATE TABLE IF NOT EXISTS queue_run_logs (
			id ` + idCol + `,
			task_id BIGINT NOT NULL,
			queue_name TEXT NOT NULL,
			method TEXT NOT NULL,
			url TEXT NOT NULL,
			content_type TEXT NOT NULL,
			started BIGINT NOT NULL,
			finished BIGINT NOT NULL DEFAULT 0,
			result TEXT NOT NULL DEFAULT '',
			status_code INTEGER NOT NULL DEFAULT 0,
			status_message TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_run_logs_task
			ON queue_run_logs (task_id)`,
	}
}

// Migrate runs Schema's statements against q, in order
func Migrate(ctx context.Context, q store.RowQuerier, dialect store.Dialect) error {
	for _, stmt := range Schema(dialect) {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

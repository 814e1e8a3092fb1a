// Package store provides a unified interface to the queue's storage backends
package store

import (
	"context"
	"errors"
	"fmt"

	"gantry/internal/platform/logger"
)

// Store is the facade for the backends a queue instance depends on
// zero value is safe but does nothing
type Store struct {
	// Log is the logger used by subclients; zero means a no-op zerolog logger
	Log logger.Logger

	// DB is the dialect-generic sql seam (sqlite by default, postgres as an alternate)
	DB TxRunner

	// CH is the optional clickhouse archival seam, nil when disabled
	CH Clickhouse
}

// Row exposes the minimal scan contract a single row needs
type Row interface {
	Scan(dest ...any) error
}

// Rows exposes the minimal iteration and scan for a result set
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
	Columns() ([]string, error)
}

// CommandTag is a tiny interface to inspect command results
type CommandTag interface {
	RowsAffected() (int64, error)
}

// RowQuerier is the read and write surface repos use for sql
type RowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
}

// TxRunner wraps transaction execution around a function. Implementations
// that wrap a dialect reporting it is not multi-thread safe (sqlite) guard
// the whole call with a mutex; postgres does not need to
type TxRunner interface {
	RowQuerier
	Tx(ctx context.Context, fn func(q RowQuerier) error) error
	Dialect() Dialect
}

// ArchivedRunLog is one pruned QueueRunLog row shipped to the optional
// ClickHouse archival sink (spec §4.5's prune step)
type ArchivedRunLog struct {
	QueueName  string
	EntryID    string
	TaskID     string
	StartedAt  int64 // unix micros
	FinishedAt int64 // unix micros
	Success    bool
	Result     string
}

// Clickhouse is a tiny seam for archiving pruned run-logs in bulk
type Clickhouse interface {
	InsertRunLogs(ctx context.Context, rows []ArchivedRunLog) error
	Close() error
}

// Pinger is any seam that can report readiness
type Pinger interface{ Ping(context.Context) error }

// Open constructs a Store with the requested backends. The DB backend is
// shared across queues with the same (dialect, connection string) pair via
// the package-level guarded-wrapper registry (see guarded.go)
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	s := &Store{}
	for _, o := range opts {
		o(s)
	}
	s.Log = s.Log.With().Logger()

	db, err := openDB(ctx, cfg.DB, s)
	if err != nil {
		return nil, err
	}
	s.DB = db

	if cfg.CH.Enabled {
		chClient, err := openCH(ctx, cfg.CH, s)
		if err != nil {
			return nil, err
		}
		s.CH = chClient
	}

	return s, nil
}

// Guard verifies all configured seams the Store knows about
func (s *Store) Guard(ctx context.Context) error {
	if s == nil {
		return errors.New("nil store")
	}
	var errs []error
	if s.DB != nil {
		if p, ok := any(s.DB).(Pinger); ok {
			if err := p.Ping(ctx); err != nil {
				errs = append(errs, fmt.Errorf("db: %w", err))
			}
		}
	}
	if s.CH != nil {
		if p, ok := any(s.CH).(Pinger); ok {
			if err := p.Ping(ctx); err != nil {
				errs = append(errs, fmt.Errorf("ch: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}

// Close closes all initialized backends gracefully; nil backends are ignored.
// The DB handle is a shared guarded wrapper, so Close only releases this
// Store's reference — the underlying connection is closed once the last
// referencing queue releases it (see guarded.go's refcounting)
func (s *Store) Close(ctx context.Context) error {
	var errs []error

	if s.CH != nil {
		if e := s.CH.Close(); e != nil {
			errs = append(errs, e)
		}
	}
	if s.DB != nil {
		if g, ok := s.DB.(*Guarded); ok {
			if e := release(g); e != nil {
				errs = append(errs, e)
			}
		}
	}

	return errors.Join(errs...)
}

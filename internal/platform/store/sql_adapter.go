package store

import (
	"context"
	"database/sql"
)

// sqlAdapter wraps a *sql.DB and implements RowQuerier + TxRunner against
// whatever driver was registered for the dialect (sqlite or postgres);
// database/sql is already dialect-generic, so one adapter serves both
type sqlAdapter struct {
	db      *sql.DB
	dialect Dialect
}

func newSQLAdapter(db *sql.DB, dialect Dialect) *sqlAdapter {
	return &sqlAdapter{db: db, dialect: dialect}
}

func (a *sqlAdapter) Dialect() Dialect { return a.dialect }

func (a *sqlAdapter) Ping(ctx context.Context) error { return a.db.PingContext(ctx) }

func (a *sqlAdapter) Close() error { return a.db.Close() }

func (a *sqlAdapter) Exec(ctx context.Context, query string, args ...any) (CommandTag, error) {
	res, err := a.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlTag{res}, nil
}

func (a *sqlAdapter) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rs, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRows{rs}, nil
}

func (a *sqlAdapter) QueryRow(ctx context.Context, query string, args ...any) Row {
	return sqlRow{a.db.QueryRowContext(ctx, query, args...)}
}

func (a *sqlAdapter) Tx(ctx context.Context, fn func(q RowQuerier) error) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(sqlTxQuerier{tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// sqlTxQuerier adapts *sql.Tx to RowQuerier for use inside a transaction
type sqlTxQuerier struct{ tx *sql.Tx }

func (t sqlTxQuerier) Exec(ctx context.Context, query string, args ...any) (CommandTag, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlTag{res}, nil
}

func (t sqlTxQuerier) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rs, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRows{rs}, nil
}

func (t sqlTxQuerier) QueryRow(ctx context.Context, query string, args ...any) Row {
	return sqlRow{t.tx.QueryRowContext(ctx, query, args...)}
}

// thin wrappers so database/sql types satisfy this package's tiny interfaces

type sqlTag struct{ r sql.Result }

func (t sqlTag) RowsAffected() (int64, error) { return t.r.RowsAffected() }

// LastInsertId exposes the underlying driver's auto-increment id when the
// dialect supports it (sqlite); postgres callers use RETURNING/currval instead
func (t sqlTag) LastInsertId() (int64, error) { return t.r.LastInsertId() }

type sqlRow struct{ r *sql.Row }

func (x sqlRow) Scan(dst ...any) error { return x.r.Scan(dst...) }

type sqlRows struct{ r *sql.Rows }

func (x sqlRows) Next() bool                 { return x.r.Next() }
func (x sqlRows) Scan(dst ...any) error      { return x.r.Scan(dst...) }
func (x sqlRows) Err() error                 { return x.r.Err() }
func (x sqlRows) Close() error               { return x.r.Close() }
func (x sqlRows) Columns() ([]string, error) { return x.r.Columns() }

package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"
)

func openTestAdapter(t *testing.T) *sqlAdapter {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.Name()+"-adapter?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("unexpected error opening sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return newSQLAdapter(db, DialectSQLite)
}

func TestSQLAdapter_TxCommitsOnSuccess(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()

	if _, err := a.Exec(ctx, `CREATE TABLE counters (n INTEGER)`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := a.Tx(ctx, func(q RowQuerier) error {
		_, e := q.Exec(ctx, `INSERT INTO counters (n) VALUES (1)`)
		return e
	})
	if err != nil {
		t.Fatalf("unexpected tx error: %v", err)
	}

	var n int
	if err := a.QueryRow(ctx, `SELECT COUNT(*) FROM counters`).Scan(&n); err != nil {
		t.Fatalf("unexpected scan error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected committed row to be visible, count=%d", n)
	}
}

func TestSQLAdapter_TxRollsBackOnError(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()

	if _, err := a.Exec(ctx, `CREATE TABLE counters (n INTEGER)`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantErr := errors.New("boom")
	err := a.Tx(ctx, func(q RowQuerier) error {
		if _, e := q.Exec(ctx, `INSERT INTO counters (n) VALUES (1)`); e != nil {
			return e
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected the fn's error to propagate, got: %v", err)
	}

	var n int
	if err := a.QueryRow(ctx, `SELECT COUNT(*) FROM counters`).Scan(&n); err != nil {
		t.Fatalf("unexpected scan error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected the insert to be rolled back, count=%d", n)
	}
}

func TestSQLAdapter_QueryIteratesRows(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()

	if _, err := a.Exec(ctx, `CREATE TABLE counters (n INTEGER)`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := a.Exec(ctx, `INSERT INTO counters (n) VALUES (?)`, i); err != nil {
			t.Fatalf("unexpected insert error: %v", err)
		}
	}

	rows, err := a.Query(ctx, `SELECT n FROM counters ORDER BY n`)
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	defer rows.Close()

	var got []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			t.Fatalf("unexpected scan error: %v", err)
		}
		got = append(got, n)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("unexpected rows error: %v", err)
	}
	if len(got) != 3 || got[0] != 0 || got[1] != 1 || got[2] != 2 {
		t.Fatalf("expected [0 1 2], got %v", got)
	}
}

func TestSQLAdapter_ExecReportsRowsAffected(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()

	if _, err := a.Exec(ctx, `CREATE TABLE counters (n INTEGER)`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tag, err := a.Exec(ctx, `INSERT INTO counters (n) VALUES (1), (2)`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	n, err := tag.RowsAffected()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows affected, got %d", n)
	}
}

package store

import (
	"context"
	"testing"
	"time"
)

func testDBConfig(t *testing.T) DBConfig {
	t.Helper()
	return DBConfig{
		Dialect:     DialectSQLite,
		DSN:         "file:" + t.Name() + "?mode=memory&cache=shared",
		PingTimeout: time.Second,
	}
}

func TestOpen_SQLiteRoundTrip(t *testing.T) {
	resetRegistryForTests()
	t.Cleanup(resetRegistryForTests)

	s, err := Open(context.Background(), Config{DB: testDBConfig(t)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.DB == nil {
		t.Fatalf("expected DB to be set")
	}
	if s.DB.Dialect() != DialectSQLite {
		t.Fatalf("expected sqlite dialect, got %q", s.DB.Dialect())
	}

	if err := s.Guard(context.Background()); err != nil {
		t.Fatalf("unexpected guard error: %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
}

func TestOpen_DefaultsToSQLiteDialect(t *testing.T) {
	resetRegistryForTests()
	t.Cleanup(resetRegistryForTests)

	cfg := testDBConfig(t)
	cfg.Dialect = ""

	s, err := Open(context.Background(), Config{DB: cfg})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close(context.Background())

	if s.DB.Dialect() != DialectSQLite {
		t.Fatalf("expected empty dialect to default to sqlite, got %q", s.DB.Dialect())
	}
}

func TestOpen_TwoStoresShareOneConnectionForSameDSN(t *testing.T) {
	resetRegistryForTests()
	t.Cleanup(resetRegistryForTests)

	cfg := testDBConfig(t)

	s1, err := Open(context.Background(), Config{DB: cfg})
	if err != nil {
		t.Fatalf("unexpected error opening s1: %v", err)
	}
	s2, err := Open(context.Background(), Config{DB: cfg})
	if err != nil {
		t.Fatalf("unexpected error opening s2: %v", err)
	}

	g1, ok1 := s1.DB.(*Guarded)
	g2, ok2 := s2.DB.(*Guarded)
	if !ok1 || !ok2 {
		t.Fatalf("expected both stores' DB to be a *Guarded wrapper")
	}
	if g1 != g2 {
		t.Fatalf("expected the second store to adopt the first store's guarded wrapper")
	}

	if err := s1.Close(context.Background()); err != nil {
		t.Fatalf("unexpected error closing s1: %v", err)
	}

	if err := s2.Guard(context.Background()); err != nil {
		t.Fatalf("expected s2's connection to survive s1's release, got: %v", err)
	}
	if err := s2.Close(context.Background()); err != nil {
		t.Fatalf("unexpected error closing s2: %v", err)
	}
}

func TestStore_ExecAndQueryRoundTrip(t *testing.T) {
	resetRegistryForTests()
	t.Cleanup(resetRegistryForTests)

	s, err := Open(context.Background(), Config{DB: testDBConfig(t)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close(context.Background())

	ctx := context.Background()
	if _, err := s.DB.Exec(ctx, `CREATE TABLE widgets (name TEXT)`); err != nil {
		t.Fatalf("unexpected create table error: %v", err)
	}
	if _, err := s.DB.Exec(ctx, `INSERT INTO widgets (name) VALUES (?)`, "cog"); err != nil {
		t.Fatalf("unexpected insert error: %v", err)
	}

	var name string
	if err := s.DB.QueryRow(ctx, `SELECT name FROM widgets WHERE name = ?`, "cog").Scan(&name); err != nil {
		t.Fatalf("unexpected scan error: %v", err)
	}
	if name != "cog" {
		t.Fatalf("expected name 'cog', got %q", name)
	}
}

func TestStore_GuardWithoutCHIsNilSafe(t *testing.T) {
	resetRegistryForTests()
	t.Cleanup(resetRegistryForTests)

	s, err := Open(context.Background(), Config{DB: testDBConfig(t)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close(context.Background())

	if s.CH != nil {
		t.Fatalf("expected CH to remain nil when not enabled")
	}
	if err := s.Guard(context.Background()); err != nil {
		t.Fatalf("unexpected error guarding a store with no CH configured: %v", err)
	}
}

func TestGuard_NilStore(t *testing.T) {
	var s *Store
	if err := s.Guard(context.Background()); err == nil {
		t.Fatalf("expected an error guarding a nil store")
	}
}

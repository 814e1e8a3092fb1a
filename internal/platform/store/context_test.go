package store

import (
	"context"
	"testing"
)

func TestWithTx_RoundTrips(t *testing.T) {
	inner := &fakeRunner{dialect: DialectSQLite}
	ctx := WithTx(context.Background(), inner)

	q, ok := CurrentTx(ctx)
	if !ok {
		t.Fatalf("expected CurrentTx to find the ambient querier")
	}
	if q != RowQuerier(inner) {
		t.Fatalf("expected CurrentTx to return the exact querier passed to WithTx")
	}
}

func TestCurrentTx_AbsentByDefault(t *testing.T) {
	if _, ok := CurrentTx(context.Background()); ok {
		t.Fatalf("expected a plain context to carry no ambient transaction")
	}
}

func TestRequestID_RoundTrips(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")
	id, ok := RequestID(ctx)
	if !ok || id != "req-123" {
		t.Fatalf("expected request id req-123, got %q (ok=%v)", id, ok)
	}
}

func TestRequestID_AbsentByDefault(t *testing.T) {
	if _, ok := RequestID(context.Background()); ok {
		t.Fatalf("expected a plain context to carry no request id")
	}
}

func TestRunInTransaction_SetsAmbientMarkerInsideFn(t *testing.T) {
	inner := &fakeRunner{dialect: DialectPostgres}
	var sawAmbient bool

	err := RunInTransaction(context.Background(), inner, func(ctx context.Context, q RowQuerier) error {
		_, ok := CurrentTx(ctx)
		sawAmbient = ok
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sawAmbient {
		t.Fatalf("expected RunInTransaction to set the ambient tx marker for the duration of fn")
	}
}

func TestRunInTransaction_ClearsMarkerOutsideFn(t *testing.T) {
	inner := &fakeRunner{dialect: DialectPostgres}
	ctx := context.Background()

	err := RunInTransaction(ctx, inner, func(ctx context.Context, q RowQuerier) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := CurrentTx(ctx); ok {
		t.Fatalf("expected the original context to remain untouched by RunInTransaction")
	}
}

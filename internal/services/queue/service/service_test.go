package service

import (
	"context"
	"testing"
	"time"

	"gantry/internal/platform/parse"
	"gantry/internal/platform/store"
	"gantry/internal/services/queue/domain"
	"gantry/internal/services/queue/encode"
	"gantry/internal/services/queue/repo"
)

func newServiceTestRepo(t *testing.T) repo.Repo {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, store.Config{DB: store.DBConfig{
		Dialect:     store.DialectSQLite,
		DSN:         "file:" + t.Name() + "?mode=memory&cache=shared",
		PingTimeout: time.Second,
	}})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close(ctx) })
	if err := repo.Migrate(ctx, s.DB, store.DialectSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.NewSQLRepo(store.DialectSQLite).Bind(s.DB)
}

func baseTestConfig() Config {
	return Config{
		Name:    "q1",
		SelfURL: "http://localhost:8080",
		Rate:    parse.Rate{N: 10, Window: time.Second},
		Backoff: parse.Backoff{Mode: parse.BackoffLinear, Step: time.Second, Max: time.Minute},
	}
}

func TestNew_RequiresNameAndSelfURL(t *testing.T) {
	r := newServiceTestRepo(t)

	if _, err := New(r, Config{SelfURL: "http://x", Rate: parse.Rate{N: 1, Window: time.Second}}); err == nil {
		t.Fatalf("expected error for missing Name")
	}
	if _, err := New(r, Config{Name: "q1", Rate: parse.Rate{N: 1, Window: time.Second}}); err == nil {
		t.Fatalf("expected error for missing SelfUrl")
	}
	if _, err := New(r, Config{Name: "q1", SelfURL: "http://x"}); err == nil {
		t.Fatalf("expected error for non-positive Rate.N")
	}
}

func TestNew_DefaultsConcurrencyTimeoutAndSecureHeaderValue(t *testing.T) {
	r := newServiceTestRepo(t)
	cfg := baseTestConfig()
	cfg.SelfURL = "http://localhost:8080/"

	svc, err := New(r, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if svc.cfg.ConcurrentRequests != 1 {
		t.Fatalf("expected default ConcurrentRequests=1, got %d", svc.cfg.ConcurrentRequests)
	}
	if svc.cfg.MaxProcessingTimePerRequest != 30*time.Minute {
		t.Fatalf("expected default MaxProcessingTimePerRequest, got %v", svc.cfg.MaxProcessingTimePerRequest)
	}
	if svc.cfg.SecureHeaderValue == "" {
		t.Fatalf("expected a generated secure header value")
	}
	if svc.cfg.SelfURL != "http://localhost:8080" {
		t.Fatalf("expected trailing slash trimmed, got %q", svc.cfg.SelfURL)
	}
}

func TestNew_PreservesExplicitSecureHeaderValue(t *testing.T) {
	r := newServiceTestRepo(t)
	cfg := baseTestConfig()
	cfg.SecureHeaderValue = "fixed-token"

	svc, err := New(r, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if svc.cfg.SecureHeaderValue != "fixed-token" {
		t.Fatalf("expected explicit secure header value preserved, got %q", svc.cfg.SecureHeaderValue)
	}
}

func TestSvc_SubmitClampsPastETAToNow(t *testing.T) {
	ctx := context.Background()
	r := newServiceTestRepo(t)
	svc, err := New(r, baseTestConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	past := time.Now().UTC().Add(-time.Hour)
	entry, err := svc.Submit(ctx, domain.SubmitArgs{
		Method: "GET", URL: "http://example.com", ContentType: encode.ContentTypeJSON, ETA: past,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if entry.ID == 0 {
		t.Fatalf("expected an assigned id")
	}
	if entry.NextTry.Before(time.Now().UTC().Add(-time.Minute)) {
		t.Fatalf("expected NextTry clamped near now, got %v", entry.NextTry)
	}

	got, err := r.Get(ctx, "q1", entry.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusWaiting {
		t.Fatalf("expected Waiting status, got %v", got.Status)
	}
}

func TestSvc_SubmitHonorsFutureETA(t *testing.T) {
	ctx := context.Background()
	r := newServiceTestRepo(t)
	svc, err := New(r, baseTestConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	future := time.Now().UTC().Add(time.Hour)
	entry, err := svc.Submit(ctx, domain.SubmitArgs{
		Method: "GET", URL: "http://example.com", ContentType: encode.ContentTypeJSON, ETA: future,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !entry.NextTry.Equal(future) {
		t.Fatalf("expected NextTry to honor future ETA, got %v want %v", entry.NextTry, future)
	}
}

func TestSvc_ForceRunRejectsUnknownID(t *testing.T) {
	ctx := context.Background()
	r := newServiceTestRepo(t)
	svc, err := New(r, baseTestConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := svc.ForceRun(ctx, 999); err == nil {
		t.Fatalf("expected error for unknown entry id")
	}
}

func TestSvc_ForceRunAcceptsKnownID(t *testing.T) {
	ctx := context.Background()
	r := newServiceTestRepo(t)
	svc, err := New(r, baseTestConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	entry, err := svc.Submit(ctx, domain.SubmitArgs{
		Method: "GET", URL: "http://example.com", ContentType: encode.ContentTypeJSON,
		ETA: time.Now().UTC().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := svc.ForceRun(ctx, entry.ID); err != nil {
		t.Fatalf("force run: %v", err)
	}
}

func TestSvc_AdminSurfaceDelegatesToRepoScopedByQueueName(t *testing.T) {
	ctx := context.Background()
	r := newServiceTestRepo(t)
	svc, err := New(r, baseTestConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	entry, err := svc.Submit(ctx, domain.SubmitArgs{
		Method: "GET", URL: "http://example.com", ContentType: encode.ContentTypeJSON,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	got, err := svc.Get(ctx, entry.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.QueueName != "q1" {
		t.Fatalf("expected entry scoped to q1, got %q", got.QueueName)
	}

	newURL := "http://example.org"
	updated, err := svc.Update(ctx, entry.ID, domain.EntryPatch{URL: &newURL})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.URL != newURL {
		t.Fatalf("expected updated URL, got %q", updated.URL)
	}

	entries, total, err := svc.List(ctx, 0, 10, domain.ListFilter{}, domain.SortIDDesc)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(entries) != 1 {
		t.Fatalf("expected one entry, got total=%d len=%d", total, len(entries))
	}

	lines, err := svc.Lines(ctx, entry.ID)
	if err != nil {
		t.Fatalf("lines: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("expected no run logs before any dispatch, got %d", len(lines))
	}

	if err := svc.Delete(ctx, entry.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, entry.ID); err == nil {
		t.Fatalf("expected error reading a deleted entry")
	}
}

func TestSvc_SnapshotReflectsPendingCount(t *testing.T) {
	ctx := context.Background()
	r := newServiceTestRepo(t)
	svc, err := New(r, baseTestConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := svc.Submit(ctx, domain.SubmitArgs{
		Method: "GET", URL: "http://example.com", ContentType: encode.ContentTypeJSON,
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	snap := svc.Snapshot()
	if snap.Name != "q1" {
		t.Fatalf("expected snapshot name q1, got %q", snap.Name)
	}
	if snap.Pending != 1 {
		t.Fatalf("expected 1 pending entry, got %d", snap.Pending)
	}
}

package registry

import (
	"context"
	"testing"

	"gantry/internal/services/queue/domain"
)

type fakeQueue struct {
	name string
}

func (f *fakeQueue) Submit(ctx context.Context, args domain.SubmitArgs) (domain.QueueEntry, error) {
	return domain.QueueEntry{}, nil
}
func (f *fakeQueue) ForceRun(ctx context.Context, id int64) error { return nil }
func (f *fakeQueue) Run(ctx context.Context) error                { return nil }
func (f *fakeQueue) Shutdown(ctx context.Context) error           { return nil }
func (f *fakeQueue) Snapshot() domain.QueueSnapshot               { return domain.QueueSnapshot{Name: f.name} }
func (f *fakeQueue) List(
	ctx context.Context, offset, count int, filter domain.ListFilter, sort domain.SortOrder,
) ([]domain.QueueEntry, int, error) {
	return nil, 0, nil
}
func (f *fakeQueue) Get(ctx context.Context, id int64) (domain.QueueEntry, error) {
	return domain.QueueEntry{}, nil
}
func (f *fakeQueue) Update(ctx context.Context, id int64, patch domain.EntryPatch) (domain.QueueEntry, error) {
	return domain.QueueEntry{}, nil
}
func (f *fakeQueue) Delete(ctx context.Context, id int64) error { return nil }
func (f *fakeQueue) Lines(ctx context.Context, id int64) ([]domain.QueueRunLog, error) {
	return nil, nil
}

func TestRegistry_RegisterGetNamesSnapshots(t *testing.T) {
	t.Cleanup(Reset)
	Reset()

	Register("beta", &fakeQueue{name: "beta"})
	Register("alpha", &fakeQueue{name: "alpha"})

	if _, ok := Get("missing"); ok {
		t.Fatalf("expected no queue registered under \"missing\"")
	}
	q, ok := Get("alpha")
	if !ok || q.Snapshot().Name != "alpha" {
		t.Fatalf("expected to find queue \"alpha\"")
	}

	names := Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Fatalf("expected sorted names [alpha beta], got %v", names)
	}

	snaps := Snapshots()
	if len(snaps) != 2 || snaps[0].Name != "alpha" || snaps[1].Name != "beta" {
		t.Fatalf("expected sorted snapshots, got %+v", snaps)
	}
}

func TestRegistry_UnregisterRemovesEntry(t *testing.T) {
	t.Cleanup(Reset)
	Reset()

	Register("alpha", &fakeQueue{name: "alpha"})
	Unregister("alpha")

	if _, ok := Get("alpha"); ok {
		t.Fatalf("expected \"alpha\" to be unregistered")
	}
}

func TestRegistry_RegisterReplacesExistingName(t *testing.T) {
	t.Cleanup(Reset)
	Reset()

	first := &fakeQueue{name: "alpha-v1"}
	second := &fakeQueue{name: "alpha-v2"}
	Register("alpha", first)
	Register("alpha", second)

	q, ok := Get("alpha")
	if !ok || q.Snapshot().Name != "alpha-v2" {
		t.Fatalf("expected the later registration to win, got %+v", q.Snapshot())
	}
}

package domain

import (
	"context"
	"time"
)

// SubmitArgs is the normalized form of a job submission, after the encoder
// has validated and canonicalized the caller's input
type SubmitArgs struct {
	Method      string
	URL         string
	Payload     string
	Headers     map[string]string
	ContentType string
	ETA         time.Time
}

// SubmitPort accepts new jobs into a queue
type SubmitPort interface {
	Submit(ctx context.Context, args SubmitArgs) (QueueEntry, error)
}

// ForceRunPort triggers an out-of-band dispatch of an already-queued entry
type ForceRunPort interface {
	ForceRun(ctx context.Context, id int64) error
}

// WorkerPort runs the queue's scheduler loop until ctx is canceled, or until
// the scheduler has drained its in-flight dispatches after cancellation
type WorkerPort interface {
	Run(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// AdminPort backs the read/write admin surface described in the external
// interfaces: paginated listing, single-entry reads, CRUD, and run logs
type AdminPort interface {
	Snapshot() QueueSnapshot
	List(ctx context.Context, offset, count int, filter ListFilter, sort SortOrder) ([]QueueEntry, int, error)
	Get(ctx context.Context, id int64) (QueueEntry, error)
	Update(ctx context.Context, id int64, patch EntryPatch) (QueueEntry, error)
	Delete(ctx context.Context, id int64) error
	Lines(ctx context.Context, id int64) ([]QueueRunLog, error)
}

// EntryPatch carries the mutable subset of a QueueEntry for PUT requests;
// QueueName is intentionally absent (updates may never change it)
type EntryPatch struct {
	Method      *string
	URL         *string
	Payload     *string
	Headers     map[string]string
	ContentType *string
	ETA         *time.Time
}

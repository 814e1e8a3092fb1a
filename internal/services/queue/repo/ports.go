package repo

import (
	"context"
	"time"

	"gantry/internal/modkit/repokit"
	"gantry/internal/platform/store"
	"gantry/internal/services/queue/domain"
)

// Repo is the queue's persistence surface used by the service layer
type Repo interface {
	Insert(ctx context.Context, e domain.QueueEntry) (int64, error)
	Get(ctx context.Context, queueName string, id int64) (domain.QueueEntry, error)
	Update(ctx context.Context, queueName string, id int64, patch domain.EntryPatch) (domain.QueueEntry, error)
	Delete(ctx context.Context, queueName string, id int64) error
	List(ctx context.Context, queueName string, offset, count int,
		filter domain.ListFilter, sort domain.SortOrder) ([]domain.QueueEntry, int, error)

	// SelectReady returns up to limit Waiting rows with NextTry <= now,
	// ordered by NextTry ascending
	SelectReady(ctx context.Context, queueName string, limit int, now time.Time) ([]domain.QueueEntry, error)

	// SelectForceable returns the entries from ids that are neither already
	// Running nor Completed, for force-run's "start regardless" phase
	SelectForceable(ctx context.Context, queueName string, ids []int64) ([]domain.QueueEntry, error)

	// StartDispatch atomically transitions a Waiting/forced entry to Running,
	// sets LastTried, and inserts a new QueueRunLog row, returning its ID
	StartDispatch(ctx context.Context, id int64, now time.Time) (runLogID int64, err error)

	// FinishRunLog records the outcome of one attempt on its run-log row
	FinishRunLog(ctx context.Context, runLogID int64, finished time.Time,
		statusCode int, statusMessage, result string) error

	// CompleteEntry transitions a Running row to Completed
	CompleteEntry(ctx context.Context, id int64) error
	// RequeueEntry transitions a Running row back to Waiting with the given
	// retry count and next attempt time
	RequeueEntry(ctx context.Context, id int64, retries int, nextTry time.Time) error
	// FailEntry transitions a Running row to Failed (retries exhausted)
	FailEntry(ctx context.Context, id int64, retries int) error

	// ReclaimStale resets Running rows whose LastTried predates cutoff back
	// to Waiting, for the startup sweep that mitigates a stuck completion
	// update (§9's documented open edge)
	ReclaimStale(ctx context.Context, queueName string, cutoff time.Time) (int, error)

	// PruneTerminal deletes terminal (Completed/Failed) rows whose
	// LastTried predates cutoff, along with their run logs, returning the
	// run logs for optional archival before they're gone
	PruneTerminal(ctx context.Context, queueName string, cutoff time.Time) ([]domain.QueueRunLog, error)

	// EarliestTerminalLastTried returns the earliest LastTried among
	// remaining terminal rows, for re-arming the prune watermark
	EarliestTerminalLastTried(ctx context.Context, queueName string) (time.Time, bool, error)

	// Lines returns every QueueRunLog whose TaskID equals id
	Lines(ctx context.Context, id int64) ([]domain.QueueRunLog, error)

	// PendingCount reports how many rows are Waiting or Running, for the
	// admin snapshot's "total pending size"
	PendingCount(ctx context.Context, queueName string) (int64, error)
}

// NewSQLRepo returns a Binder producing a database/sql-backed Repo for the
// given dialect (sqlite or postgres placeholder syntax)
func NewSQLRepo(dialect store.Dialect) repokit.Binder[Repo] {
	return sqlRepoBinder{dialect: dialect}
}

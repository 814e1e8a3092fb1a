package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gantry/internal/modkit/repokit"
	perr "gantry/internal/platform/errors"
	"gantry/internal/platform/store"
	"gantry/internal/services/queue/domain"
)

type sqlRepoBinder struct{ dialect store.Dialect }

func (b sqlRepoBinder) Bind(q repokit.Queryer) Repo {
	return &sqlRepo{q: q, dialect: b.dialect}
}

type sqlRepo struct {
	q       repokit.Queryer
	dialect store.Dialect
}

// ph returns the i-th (1-based) placeholder token for the bound dialect
func (r *sqlRepo) ph(i int) string {
	if r.dialect == store.DialectPostgres {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func toMicros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func fromMicros(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}

func encodeHeaders(h map[string]string) string {
	if len(h) == 0 {
		return "{}"
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func decodeHeaders(s string) map[string]string {
	if s == "" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

func (r *sqlRepo) Insert(ctx context.Context, e domain.QueueEntry) (int64, error) {
	args := []any{
		e.QueueName, e.Method, e.URL, e.Payload, encodeHeaders(e.Headers), e.ContentType,
		toMicros(e.ETA), toMicros(e.NextTry), toMicros(e.LastTried), e.Retries, string(e.Status),
	}
	base := `INSERT INTO queue_entries
		(queue_name, method, url, payload, headers, content_type, eta, next_try, last_tried, retries, status)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`

	if r.dialect == store.DialectPostgres {
		query := fmt.Sprintf(base+" RETURNING id",
			r.ph(1), r.ph(2), r.ph(3), r.ph(4), r.ph(5), r.ph(6), r.ph(7), r.ph(8), r.ph(9), r.ph(10), r.ph(11))
		var id int64
		if err := r.q.QueryRow(ctx, query, args...).Scan(&id); err != nil {
			return 0, perr.DBf("insert queue entry: %v", err)
		}
		return id, nil
	}

	query := fmt.Sprintf(base,
		r.ph(1), r.ph(2), r.ph(3), r.ph(4), r.ph(5), r.ph(6), r.ph(7), r.ph(8), r.ph(9), r.ph(10), r.ph(11))
	res, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return 0, perr.DBf("insert queue entry: %v", err)
	}
	id, err := lastInsertID(res)
	if err != nil {
		return 0, perr.DBf("insert queue entry: %v", err)
	}
	return id, nil
}

func lastInsertID(tag store.CommandTag) (int64, error) {
	type lastInserter interface{ LastInsertId() (int64, error) }
	if li, ok := tag.(lastInserter); ok {
		return li.LastInsertId()
	}
	return 0, errors.New("driver does not report last insert id")
}

const entryColumns = `id, queue_name, method, url, payload, headers, content_type,
	eta, next_try, last_tried, retries, status`

func scanEntry(row store.Row) (domain.QueueEntry, error) {
	var e domain.QueueEntry
	var eta, nextTry, lastTried int64
	var status, headers string
	if err := row.Scan(&e.ID, &e.QueueName, &e.Method, &e.URL, &e.Payload, &headers, &e.ContentType,
		&eta, &nextTry, &lastTried, &e.Retries, &status); err != nil {
		return domain.QueueEntry{}, err
	}
	e.ETA = fromMicros(eta)
	e.NextTry = fromMicros(nextTry)
	e.LastTried = fromMicros(lastTried)
	e.Status = domain.Status(status)
	e.Headers = decodeHeaders(headers)
	return e, nil
}

func scanEntryRows(rows store.Rows) (domain.QueueEntry, error) {
	var e domain.QueueEntry
	var eta, nextTry, lastTried int64
	var status, headers string
	if err := rows.Scan(&e.ID, &e.QueueName, &e.Method, &e.URL, &e.Payload, &headers, &e.ContentType,
		&eta, &nextTry, &lastTried, &e.Retries, &status); err != nil {
		return domain.QueueEntry{}, err
	}
	e.ETA = fromMicros(eta)
	e.NextTry = fromMicros(nextTry)
	e.LastTried = fromMicros(lastTried)
	e.Status = domain.Status(status)
	e.Headers = decodeHeaders(headers)
	return e, nil
}

func (r *sqlRepo) Get(ctx context.Context, queueName string, id int64) (domain.QueueEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM queue_entries WHERE queue_name = %s AND id = %s`,
		entryColumns, r.ph(1), r.ph(2))
	row := r.q.QueryRow(ctx, query, queueName, id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.QueueEntry{}, perr.NotFoundf("queue entry %d not found in %q", id, queueName)
		}
		return domain.QueueEntry{}, perr.DBf("get queue entry: %v", err)
	}
	return e, nil
}

func (r *sqlRepo) Update(
	ctx context.Context, queueName string, id int64, patch domain.EntryPatch,
) (domain.QueueEntry, error) {
	existing, err := r.Get(ctx, queueName, id)
	if err != nil {
		return domain.QueueEntry{}, err
	}

	if patch.Method != nil {
		existing.Method = *patch.Method
	}
	if patch.URL != nil {
		existing.URL = *patch.URL
	}
	if patch.Payload != nil {
		existing.Payload = *patch.Payload
	}
	if patch.Headers != nil {
		existing.Headers = patch.Headers
	}
	if patch.ContentType != nil {
		existing.ContentType = *patch.ContentType
	}
	if patch.ETA != nil {
		existing.ETA = *patch.ETA
		if existing.NextTry.Before(existing.ETA) {
			existing.NextTry = existing.ETA
		}
	}

	query := fmt.Sprintf(`
		UPDATE queue_entries
		SET method = %s, url = %s, payload = %s, headers = %s, content_type = %s, eta = %s, next_try = %s
		WHERE queue_name = %s AND id = %s`,
		r.ph(1), r.ph(2), r.ph(3), r.ph(4), r.ph(5), r.ph(6), r.ph(7), r.ph(8), r.ph(9))
	_, err = r.q.Exec(ctx, query,
		existing.Method, existing.URL, existing.Payload, encodeHeaders(existing.Headers), existing.ContentType,
		toMicros(existing.ETA), toMicros(existing.NextTry), queueName, id)
	if err != nil {
		return domain.QueueEntry{}, perr.DBf("update queue entry: %v", err)
	}
	return existing, nil
}

func (r *sqlRepo) Delete(ctx context.Context, queueName string, id int64) error {
	query := fmt.Sprintf(`DELETE FROM queue_entries WHERE queue_name = %s AND id = %s`, r.ph(1), r.ph(2))
	if _, err := r.q.Exec(ctx, query, queueName, id); err != nil {
		return perr.DBf("delete queue entry: %v", err)
	}
	query = fmt.Sprintf(`DELETE FROM queue_run_logs WHERE task_id = %s`, r.ph(1))
	_, err := r.q.Exec(ctx, query, id)
	return perr.WrapIf(err, perr.ErrorCodeDB, "delete queue entry run logs")
}

func (r *sqlRepo) List(
	ctx context.Context, queueName string, offset, count int,
	filter domain.ListFilter, sort domain.SortOrder,
) ([]domain.QueueEntry, int, error) {
	where := []string{fmt.Sprintf("queue_name = %s", r.ph(1))}
	args := []any{queueName}

	if filter.Status != nil {
		where = append(where, fmt.Sprintf("status = %s", r.ph(len(args)+1)))
		args = append(args, string(*filter.Status))
	}
	if len(filter.IDs) > 0 {
		placeholders := make([]string, len(filter.IDs))
		for i, id := range filter.IDs {
			placeholders[i] = r.ph(len(args) + 1)
			args = append(args, id)
		}
		where = append(where, fmt.Sprintf("id IN (%s)", strings.Join(placeholders, ", ")))
	}

	whereClause := strings.Join(where, " AND ")

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM queue_entries WHERE %s`, whereClause)
	var total int
	if err := r.q.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, perr.DBf("count queue entries: %v", err)
	}

	order := "next_try ASC"
	switch sort {
	case domain.SortNextTryDesc:
		order = "next_try DESC"
	case domain.SortIDDesc:
		order = "id DESC"
	}

	if count <= 0 {
		count = 50
	}
	limitPh := r.ph(len(args) + 1)
	offsetPh := r.ph(len(args) + 2)
	args = append(args, count, offset)

	listQuery := fmt.Sprintf(`SELECT %s FROM queue_entries WHERE %s ORDER BY %s LIMIT %s OFFSET %s`,
		entryColumns, whereClause, order, limitPh, offsetPh)

	rows, err := r.q.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, perr.DBf("list queue entries: %v", err)
	}
	defer rows.Close()

	var out []domain.QueueEntry
	for rows.Next() {
		e, err := scanEntryRows(rows)
		if err != nil {
			return nil, 0, perr.DBf("scan queue entry: %v", err)
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (r *sqlRepo) SelectReady(
	ctx context.Context, queueName string, limit int, now time.Time,
) ([]domain.QueueEntry, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM queue_entries
		WHERE queue_name = %s AND status = %s AND next_try <= %s
		ORDER BY next_try ASC
		LIMIT %s`,
		entryColumns, r.ph(1), r.ph(2), r.ph(3), r.ph(4))

	rows, err := r.q.Query(ctx, query, queueName, string(domain.StatusWaiting), toMicros(now), limit)
	if err != nil {
		return nil, perr.DBf("select ready queue entries: %v", err)
	}
	defer rows.Close()

	var out []domain.QueueEntry
	for rows.Next() {
		e, err := scanEntryRows(rows)
		if err != nil {
			return nil, perr.DBf("scan ready queue entry: %v", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *sqlRepo) SelectForceable(
	ctx context.Context, queueName string, ids []int64,
) ([]domain.QueueEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := []any{queueName}
	placeholders := make([]string, len(ids))
	for i, id := range ids {
		placeholders[i] = r.ph(len(args) + 1)
		args = append(args, id)
	}
	args = append(args, string(domain.StatusRunning), string(domain.StatusCompleted))

	query := fmt.Sprintf(`
		SELECT %s FROM queue_entries
		WHERE queue_name = %s AND id IN (%s) AND status NOT IN (%s, %s)`,
		entryColumns, r.ph(1), strings.Join(placeholders, ", "),
		r.ph(len(args)-1), r.ph(len(args)))

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, perr.DBf("select forceable queue entries: %v", err)
	}
	defer rows.Close()

	var out []domain.QueueEntry
	for rows.Next() {
		e, err := scanEntryRows(rows)
		if err != nil {
			return nil, perr.DBf("scan forceable queue entry: %v", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// StartDispatch runs the read-modify-insert as one transaction when the
// bound Queryer supports it (the normal case: repos are bound to the
// store's TxRunner). A Queryer bound to an already-open transaction has no
// further transaction to nest, so the steps run directly against it instead.
func (r *sqlRepo) StartDispatch(ctx context.Context, id int64, now time.Time) (int64, error) {
	if tx, ok := r.q.(store.TxRunner); ok {
		var logID int64
		err := tx.Tx(ctx, func(q repokit.Queryer) error {
			scoped := &sqlRepo{q: q, dialect: r.dialect}
			id, err := scoped.startDispatch(ctx, id, now)
			logID = id
			return err
		})
		return logID, err
	}
	return r.startDispatch(ctx, id, now)
}

func (r *sqlRepo) startDispatch(ctx context.Context, id int64, now time.Time) (int64, error) {
	var queueName, method, url, contentType string
	row := r.q.QueryRow(ctx,
		fmt.Sprintf(`SELECT queue_name, method, url, content_type FROM queue_entries WHERE id = %s`, r.ph(1)), id)
	if err := row.Scan(&queueName, &method, &url, &contentType); err != nil {
		return 0, perr.DBf("start dispatch: read entry: %v", err)
	}

	upd := fmt.Sprintf(`UPDATE queue_entries SET status = %s, last_tried = %s WHERE id = %s`,
		r.ph(1), r.ph(2), r.ph(3))
	if _, err := r.q.Exec(ctx, upd, string(domain.StatusRunning), toMicros(now), id); err != nil {
		return 0, perr.DBf("start dispatch: mark running: %v", err)
	}

	insArgs := []any{id, queueName, method, url, contentType, toMicros(now)}
	base := `INSERT INTO queue_run_logs (task_id, queue_name, method, url, content_type, started, finished, status_code)
		VALUES (%s, %s, %s, %s, %s, %s, 0, 0)`

	if r.dialect == store.DialectPostgres {
		query := fmt.Sprintf(base+" RETURNING id",
			r.ph(1), r.ph(2), r.ph(3), r.ph(4), r.ph(5), r.ph(6))
		var logID int64
		if err := r.q.QueryRow(ctx, query, insArgs...).Scan(&logID); err != nil {
			return 0, perr.DBf("start dispatch: insert run log: %v", err)
		}
		return logID, nil
	}

	query := fmt.Sprintf(base, r.ph(1), r.ph(2), r.ph(3), r.ph(4), r.ph(5), r.ph(6))
	res, err := r.q.Exec(ctx, query, insArgs...)
	if err != nil {
		return 0, perr.DBf("start dispatch: insert run log: %v", err)
	}
	return lastInsertID(res)
}

func (r *sqlRepo) FinishRunLog(
	ctx context.Context, runLogID int64, finished time.Time, statusCode int, statusMessage, result string,
) error {
	query := fmt.Sprintf(`
		UPDATE queue_run_logs SET finished = %s, status_code = %s, status_message = %s, result = %s
		WHERE id = %s`,
		r.ph(1), r.ph(2), r.ph(3), r.ph(4), r.ph(5))
	_, err := r.q.Exec(ctx, query, toMicros(finished), statusCode, statusMessage, result, runLogID)
	return perr.WrapIf(err, perr.ErrorCodeDB, "finish run log")
}

func (r *sqlRepo) CompleteEntry(ctx context.Context, id int64) error {
	query := fmt.Sprintf(`UPDATE queue_entries SET status = %s WHERE id = %s`, r.ph(1), r.ph(2))
	_, err := r.q.Exec(ctx, query, string(domain.StatusCompleted), id)
	return perr.WrapIf(err, perr.ErrorCodeDB, "complete queue entry")
}

func (r *sqlRepo) RequeueEntry(ctx context.Context, id int64, retries int, nextTry time.Time) error {
	query := fmt.Sprintf(`UPDATE queue_entries SET status = %s, retries = %s, next_try = %s WHERE id = %s`,
		r.ph(1), r.ph(2), r.ph(3), r.ph(4))
	_, err := r.q.Exec(ctx, query, string(domain.StatusWaiting), retries, toMicros(nextTry), id)
	return perr.WrapIf(err, perr.ErrorCodeDB, "requeue queue entry")
}

func (r *sqlRepo) FailEntry(ctx context.Context, id int64, retries int) error {
	query := fmt.Sprintf(`UPDATE queue_entries SET status = %s, retries = %s WHERE id = %s`,
		r.ph(1), r.ph(2), r.ph(3))
	_, err := r.q.Exec(ctx, query, string(domain.StatusFailed), retries, id)
	return perr.WrapIf(err, perr.ErrorCodeDB, "fail queue entry")
}

func (r *sqlRepo) ReclaimStale(ctx context.Context, queueName string, cutoff time.Time) (int, error) {
	query := fmt.Sprintf(`
		UPDATE queue_entries SET status = %s
		WHERE queue_name = %s AND status = %s AND last_tried < %s`,
		r.ph(1), r.ph(2), r.ph(3), r.ph(4))
	res, err := r.q.Exec(ctx, query,
		string(domain.StatusWaiting), queueName, string(domain.StatusRunning), toMicros(cutoff))
	if err != nil {
		return 0, perr.DBf("reclaim stale queue entries: %v", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *sqlRepo) PruneTerminal(ctx context.Context, queueName string, cutoff time.Time) ([]domain.QueueRunLog, error) {
	selectTerminal := fmt.Sprintf(`
		SELECT id FROM queue_entries
		WHERE queue_name = %s AND status IN (%s, %s) AND last_tried < %s`,
		r.ph(1), r.ph(2), r.ph(3), r.ph(4))
	rows, err := r.q.Query(ctx, selectTerminal,
		queueName, string(domain.StatusCompleted), string(domain.StatusFailed), toMicros(cutoff))
	if err != nil {
		return nil, perr.DBf("select terminal queue entries: %v", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, perr.DBf("scan terminal queue entry id: %v", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, r.pruneOrphanLogs(ctx)
	}

	var archived []domain.QueueRunLog
	for _, id := range ids {
		lines, err := r.Lines(ctx, id)
		if err != nil {
			return nil, err
		}
		archived = append(archived, lines...)
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = r.ph(i + 1)
		args[i] = id
	}
	idList := strings.Join(placeholders, ", ")

	if _, err := r.q.Exec(ctx,
		fmt.Sprintf(`DELETE FROM queue_run_logs WHERE task_id IN (%s)`, idList), args...); err != nil {
		return nil, perr.DBf("delete pruned run logs: %v", err)
	}
	if _, err := r.q.Exec(ctx,
		fmt.Sprintf(`DELETE FROM queue_entries WHERE id IN (%s)`, idList), args...); err != nil {
		return nil, perr.DBf("delete pruned queue entries: %v", err)
	}

	if err := r.pruneOrphanLogs(ctx); err != nil {
		return nil, err
	}

	return archived, nil
}

// pruneOrphanLogs removes any QueueRunLog whose TaskID no longer references
// an existing QueueEntry, covering transient orphans outside a prune pass
func (r *sqlRepo) pruneOrphanLogs(ctx context.Context) error {
	_, err := r.q.Exec(ctx,
		`DELETE FROM queue_run_logs WHERE task_id NOT IN (SELECT id FROM queue_entries)`)
	return perr.WrapIf(err, perr.ErrorCodeDB, "prune orphan run logs")
}

func (r *sqlRepo) EarliestTerminalLastTried(ctx context.Context, queueName string) (time.Time, bool, error) {
	query := fmt.Sprintf(`
		SELECT MIN(last_tried) FROM queue_entries
		WHERE queue_name = %s AND status IN (%s, %s)`,
		r.ph(1), r.ph(2), r.ph(3))
	var us sql.NullInt64
	row := r.q.QueryRow(ctx, query, queueName, string(domain.StatusCompleted), string(domain.StatusFailed))
	if err := row.Scan(&us); err != nil {
		return time.Time{}, false, perr.DBf("earliest terminal last_tried: %v", err)
	}
	if !us.Valid {
		return time.Time{}, false, nil
	}
	return fromMicros(us.Int64), true, nil
}

func (r *sqlRepo) Lines(ctx context.Context, id int64) ([]domain.QueueRunLog, error) {
	query := fmt.Sprintf(`
		SELECT id, task_id, queue_name, method, url, content_type, started, finished, result,
			status_code, status_message
		FROM queue_run_logs WHERE task_id = %s ORDER BY started ASC`, r.ph(1))
	rows, err := r.q.Query(ctx, query, id)
	if err != nil {
		return nil, perr.DBf("select run logs: %v", err)
	}
	defer rows.Close()

	var out []domain.QueueRunLog
	for rows.Next() {
		var l domain.QueueRunLog
		var started, finished int64
		if err := rows.Scan(&l.ID, &l.TaskID, &l.QueueName, &l.Method, &l.URL, &l.ContentType,
			&started, &finished, &l.Result, &l.StatusCode, &l.StatusMessage); err != nil {
			return nil, perr.DBf("scan run log: %v", err)
		}
		l.Started = fromMicros(started)
		l.Finished = fromMicros(finished)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *sqlRepo) PendingCount(ctx context.Context, queueName string) (int64, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM queue_entries WHERE queue_name = %s AND status IN (%s, %s)`,
		r.ph(1), r.ph(2), r.ph(3))
	var n int64
	row := r.q.QueryRow(ctx, query, queueName, string(domain.StatusWaiting), string(domain.StatusRunning))
	if err := row.Scan(&n); err != nil {
		return 0, perr.DBf("pending count: %v", err)
	}
	return n, nil
}

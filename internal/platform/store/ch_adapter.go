package store

import (
	"context"

	"gantry/internal/platform/store/ch"
)

// chAdapter adapts ch.CH to the Clickhouse seam
type chAdapter struct{ c *ch.CH }

func (a *chAdapter) Ping(ctx context.Context) error { return a.c.Ping(ctx) }

func (a *chAdapter) Close() error { return a.c.Close() }

func (a *chAdapter) InsertRunLogs(ctx context.Context, rows []ArchivedRunLog) error {
	out := make([]ch.Row, len(rows))
	for i, r := range rows {
		out[i] = ch.Row{
			QueueName:  r.QueueName,
			EntryID:    r.EntryID,
			TaskID:     r.TaskID,
			StartedAt:  microsToTime(r.StartedAt),
			FinishedAt: microsToTime(r.FinishedAt),
			Success:    r.Success,
			Result:     r.Result,
		}
	}
	return a.c.InsertRows(ctx, out)
}

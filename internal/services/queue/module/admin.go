package module

import (
	stdhttp "net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"gantry/internal/modkit/httpkit"
	perr "gantry/internal/platform/errors"
	"gantry/internal/platform/net/http/bind"
	"gantry/internal/services/queue/domain"
	"gantry/internal/services/queue/encode"
	"gantry/internal/services/queue/registry"
)

// listResult is the admin surface's literal response shape (spec's
// {offset, total, result}) for any endpoint returning more than one row,
// carried inside the platform's Envelope.Data the way every other module's
// responses already are
type listResult struct {
	Offset int                 `json:"offset"`
	Total  int                 `json:"total"`
	Result []domain.QueueEntry `json:"result"`
}

// linesResult is the same {offset, total, result} shape for run-log rows
type linesResult struct {
	Offset int                  `json:"offset"`
	Total  int                  `json:"total"`
	Result []domain.QueueRunLog `json:"result"`
}

// searchRequest is the body POST /queue/{name}/search accepts
type searchRequest struct {
	Offset int              `json:"offset"`
	Count  int              `json:"count"`
	Status *domain.Status   `json:"status,omitempty"`
	IDs    []int64          `json:"ids,omitempty"`
	Sort   domain.SortOrder `json:"sort"`
}

// entryPatchRequest mirrors domain.EntryPatch for the PUT body; QueueName is
// intentionally absent, per the "strips QueueName" rule
type entryPatchRequest struct {
	Method      *string           `json:"method,omitempty"`
	URL         *string           `json:"url,omitempty"`
	Payload     *string           `json:"payload,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	ContentType *string           `json:"content_type,omitempty"`
	ETA         *time.Time        `json:"eta,omitempty"`
}

func (p entryPatchRequest) toDomain() domain.EntryPatch {
	return domain.EntryPatch{
		Method:      p.Method,
		URL:         p.URL,
		Payload:     p.Payload,
		Headers:     p.Headers,
		ContentType: p.ContentType,
		ETA:         p.ETA,
	}
}

// Register mounts the admin REST surface described in the external
// interfaces table. Routes by {name} through the process-wide registry, so
// this is mounted once regardless of how many queues are configured.
func Register(r httpkit.Router) {
	r.Get("/queues", httpkit.Handle(listQueues))
	r.Get("/queue/{name}", httpkit.Handle(listEntries))
	r.Post("/queue/{name}", httpkit.Handle(submitEntry))
	r.Post("/queue/{name}/search", httpkit.Handle(searchEntries))
	r.Get("/queue/{name}/{id}", httpkit.Handle(getEntry))
	r.Put("/queue/{name}/{id}", httpkit.Handle(updateEntry))
	r.Delete("/queue/{name}/{id}", httpkit.Handle(deleteEntry))
	r.Post("/queue/{name}/{id}/run", httpkit.Handle(forceRun))
	r.Post("/queue/{name}/{id}/lines", httpkit.Handle(entryLines))
}

func lookupQueue(r *stdhttp.Request) (registry.Queue, error) {
	name := chi.URLParam(r, "name")
	q, ok := registry.Get(name)
	if !ok {
		return nil, perr.NotFoundf("unknown queue %q", name)
	}
	return q, nil
}

func entryID(r *stdhttp.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, perr.ValidationErrf("invalid entry id %q", raw)
	}
	return id, nil
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func listQueues(_ *stdhttp.Request) httpkit.Response {
	return httpkit.OK(registry.Snapshots())
}

func listEntries(r *stdhttp.Request) httpkit.Response {
	q, err := lookupQueue(r)
	if err != nil {
		return httpkit.Error(err)
	}

	query := r.URL.Query()
	offset := atoiOr(query.Get("offset"), 0)
	count := atoiOr(query.Get("count"), 50)

	var filter domain.ListFilter
	if raw := query.Get("status"); raw != "" {
		s := domain.Status(raw)
		filter.Status = &s
	}

	entries, total, err := q.List(r.Context(), offset, count, filter, domain.SortNextTryAsc)
	if err != nil {
		return httpkit.Error(err)
	}
	return httpkit.OK(listResult{Offset: offset, Total: total, Result: entries})
}

func searchEntries(r *stdhttp.Request) httpkit.Response {
	q, err := lookupQueue(r)
	if err != nil {
		return httpkit.Error(err)
	}

	in, err := bind.ParseJSON[searchRequest](r, bind.JSONOptions{AllowEmptyBody: true, MaxBytes: 1 << 20})
	if err != nil {
		return httpkit.Error(err)
	}
	if in.Count <= 0 {
		in.Count = 50
	}

	filter := domain.ListFilter{Status: in.Status, IDs: in.IDs}
	entries, total, err := q.List(r.Context(), in.Offset, in.Count, filter, in.Sort)
	if err != nil {
		return httpkit.Error(err)
	}
	return httpkit.OK(listResult{Offset: in.Offset, Total: total, Result: entries})
}

func getEntry(r *stdhttp.Request) httpkit.Response {
	q, err := lookupQueue(r)
	if err != nil {
		return httpkit.Error(err)
	}
	id, err := entryID(r)
	if err != nil {
		return httpkit.Error(err)
	}
	entry, err := q.Get(r.Context(), id)
	if err != nil {
		return httpkit.Error(err)
	}
	return httpkit.OK(entry)
}

func submitEntry(r *stdhttp.Request) httpkit.Response {
	q, err := lookupQueue(r)
	if err != nil {
		return httpkit.Error(err)
	}

	in, err := bind.ParseJSON[encode.SubmitJob](r)
	if err != nil {
		return httpkit.Error(err)
	}
	args, err := encode.Encode(in, time.Now().UTC())
	if err != nil {
		return httpkit.Error(err)
	}

	entry, err := q.Submit(r.Context(), args)
	if err != nil {
		return httpkit.Error(err)
	}
	return httpkit.OK(entry)
}

func updateEntry(r *stdhttp.Request) httpkit.Response {
	q, err := lookupQueue(r)
	if err != nil {
		return httpkit.Error(err)
	}
	id, err := entryID(r)
	if err != nil {
		return httpkit.Error(err)
	}
	in, err := bind.ParseJSON[entryPatchRequest](r)
	if err != nil {
		return httpkit.Error(err)
	}
	entry, err := q.Update(r.Context(), id, in.toDomain())
	if err != nil {
		return httpkit.Error(err)
	}
	return httpkit.OK(entry)
}

func deleteEntry(r *stdhttp.Request) httpkit.Response {
	q, err := lookupQueue(r)
	if err != nil {
		return httpkit.Error(err)
	}
	id, err := entryID(r)
	if err != nil {
		return httpkit.Error(err)
	}
	if err := q.Delete(r.Context(), id); err != nil {
		return httpkit.Error(err)
	}
	return httpkit.OK(map[string]any{})
}

func forceRun(r *stdhttp.Request) httpkit.Response {
	q, err := lookupQueue(r)
	if err != nil {
		return httpkit.Error(err)
	}
	id, err := entryID(r)
	if err != nil {
		return httpkit.Error(err)
	}
	if err := q.ForceRun(r.Context(), id); err != nil {
		return httpkit.Error(err)
	}
	return httpkit.OK(map[string]any{})
}

func entryLines(r *stdhttp.Request) httpkit.Response {
	q, err := lookupQueue(r)
	if err != nil {
		return httpkit.Error(err)
	}
	id, err := entryID(r)
	if err != nil {
		return httpkit.Error(err)
	}
	lines, err := q.Lines(r.Context(), id)
	if err != nil {
		return httpkit.Error(err)
	}
	return httpkit.OK(linesResult{Total: len(lines), Result: lines})
}

package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gantry/internal/platform/logger"
	"gantry/internal/services/queue/domain"
	"gantry/internal/services/queue/encode"
	"gantry/internal/services/queue/repo"
)

// maxResultBytes bounds how much of a response body lands in the run-log
// Result column; truncation is permitted but not required (spec §4.6 step 4)
const maxResultBytes = 8 << 10

// Dispatcher sends one QueueEntry's HTTP request and records the outcome.
// Grounded on the teacher's resilient-HTTP-client shape (adapters/ingest/
// github.Client) reduced to a single attempt per call — retry policy for
// a queue job lives in the scheduler's backoff, not here.
type Dispatcher struct {
	repo      repo.Repo
	client    *http.Client
	queueName string

	selfURL           string
	secureHeaderName  string
	secureHeaderValue string
}

// NewDispatcher builds a Dispatcher bound to one named queue
func NewDispatcher(r repo.Repo, queueName, selfURL, headerName, headerValue string, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		repo:              r,
		client:            &http.Client{Timeout: timeout},
		queueName:         queueName,
		selfURL:           strings.TrimRight(selfURL, "/"),
		secureHeaderName:  headerName,
		secureHeaderValue: headerValue,
	}
}

// Run executes one attempt for entry id: the transactional Running
// transition and run-log insert (step 1), building and sending the request
// (steps 2-3), recording the outcome (steps 4-5), then on every exit path
// past that point a short delay and a Signal() raise (step 6), so the
// scheduler's drain step reliably observes a finished task handle.
func (d *Dispatcher) Run(ctx context.Context, sig *signal, id int64) (success bool, outErr error) {
	log := logger.Named("queue-dispatcher")
	now := time.Now().UTC()

	logID, err := d.repo.StartDispatch(ctx, id, now)
	if err != nil {
		log.Error().Err(err).Int64("entry_id", id).Msg("start dispatch failed")
		return false, err
	}

	defer func() {
		time.Sleep(500 * time.Millisecond)
		sig.Raise()
	}()

	entry, err := d.repo.Get(ctx, d.queueName, id)
	if err != nil {
		d.finish(ctx, logID, now, 0, "", err.Error())
		return false, err
	}

	req, self, err := d.buildRequest(ctx, entry)
	if err != nil {
		d.finish(ctx, logID, now, 0, "", err.Error())
		return false, err
	}
	if self {
		req.Header.Set(d.secureHeaderName, d.secureHeaderValue)
	}

	resp, err := d.client.Do(req)
	finished := time.Now().UTC()
	if err != nil {
		log.Warn().Err(err).Int64("entry_id", id).Msg("dispatch request failed")
		d.finish(ctx, logID, finished, 0, "", err.Error())
		return false, err
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxResultBytes))
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	d.finish(ctx, logID, finished, resp.StatusCode, resp.Status, string(bodyBytes))

	if !ok {
		return false, fmt.Errorf("non-2xx response: %s", resp.Status)
	}
	return true, nil
}

func (d *Dispatcher) finish(ctx context.Context, logID int64, at time.Time, code int, message, result string) {
	if err := d.repo.FinishRunLog(ctx, logID, at, code, message, result); err != nil {
		logger.Named("queue-dispatcher").Error().Err(err).Int64("run_log_id", logID).Msg("finish run log failed")
	}
}

// buildRequest constructs the outbound request for entry, reporting whether
// the target resolved to a self-callback (the entry's URL began with "/")
func (d *Dispatcher) buildRequest(ctx context.Context, entry domain.QueueEntry) (*http.Request, bool, error) {
	self := strings.HasPrefix(entry.URL, "/")
	target := entry.URL
	if self {
		target = d.selfURL + entry.URL
	}

	body, contentType, err := d.buildBody(entry)
	if err != nil {
		return nil, false, err
	}

	req, err := http.NewRequestWithContext(ctx, entry.Method, target, body)
	if err != nil {
		return nil, false, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range entry.Headers {
		req.Header.Set(k, v)
	}
	return req, self, nil
}

// buildBody renders a QueueEntry's stored payload back into the wire form
// for its canonical content type, the inverse of encode.Encode's storage
// representation
func (d *Dispatcher) buildBody(entry domain.QueueEntry) (io.Reader, string, error) {
	switch entry.ContentType {
	case encode.ContentTypeJSON, encode.ContentTypeText, encode.ContentTypeHTML:
		if entry.Payload == "" {
			return nil, entry.ContentType, nil
		}
		return strings.NewReader(entry.Payload), entry.ContentType, nil

	case encode.ContentTypeBytes:
		if entry.Payload == "" {
			return nil, entry.ContentType, nil
		}
		raw, err := base64.StdEncoding.DecodeString(entry.Payload)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(raw), entry.ContentType, nil

	case encode.ContentTypeForm:
		fields, err := encode.FieldsFromPayload(entry.Payload)
		if err != nil {
			return nil, "", err
		}
		values := url.Values{}
		for _, k := range encode.SortedKeys(fields) {
			values.Set(k, fields[k])
		}
		return strings.NewReader(values.Encode()), entry.ContentType, nil

	case encode.ContentTypeMultipart:
		fields, err := encode.FieldsFromPayload(entry.Payload)
		if err != nil {
			return nil, "", err
		}
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		for _, k := range encode.SortedKeys(fields) {
			if ferr := w.WriteField(k, fields[k]); ferr != nil {
				return nil, "", ferr
			}
		}
		if cerr := w.Close(); cerr != nil {
			return nil, "", cerr
		}
		return &buf, w.FormDataContentType(), nil

	default:
		return strings.NewReader(entry.Payload), entry.ContentType, nil
	}
}

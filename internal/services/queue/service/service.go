// Package service implements the queue's scheduler, dispatcher, and the
// top-level Svc that composes them behind the domain ports
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	perr "gantry/internal/platform/errors"
	"gantry/internal/platform/parse"
	"gantry/internal/platform/ratelimit"
	"gantry/internal/services/queue/domain"
	"gantry/internal/services/queue/repo"
)

// Config is one queue's fully-parsed, validated configuration (spec §6's
// configuration table)
type Config struct {
	Name                        string
	Description                 string
	SelfURL                     string
	RateSpec                    string
	Rate                        parse.Rate
	ConcurrentRequests          int
	MaxRetries                  int
	ProcessingStartupDelay      time.Duration
	BackoffSpec                 string
	Backoff                     parse.Backoff
	SecureHeaderName            string
	SecureHeaderValue           string
	MaxProcessingTimePerRequest time.Duration
	OldTaskLingerTime           time.Duration
}

// Svc implements every queue domain port from one struct, mirroring the
// teacher's bouncer Svc implementing both WorkerPort and EnqueuePort
type Svc struct {
	cfg        Config
	repo       repo.Repo
	limiter    *ratelimit.Limiter
	scheduler  *Scheduler
	dispatcher *Dispatcher
}

var (
	_ domain.SubmitPort   = (*Svc)(nil)
	_ domain.ForceRunPort = (*Svc)(nil)
	_ domain.WorkerPort   = (*Svc)(nil)
	_ domain.AdminPort    = (*Svc)(nil)
)

// New validates cfg and wires a queue's service from its repo. A blank
// SecureHeaderValue is replaced with a freshly generated random token, never
// logged, per §6's self-callback header rule.
func New(r repo.Repo, cfg Config) (*Svc, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, perr.Configf("queue name is required")
	}
	if strings.TrimSpace(cfg.SelfURL) == "" {
		return nil, perr.Configf("queue %q: SelfUrl is required", cfg.Name)
	}
	cfg.SelfURL = strings.TrimRight(cfg.SelfURL, "/")

	if cfg.SecureHeaderValue == "" {
		token, err := randomToken()
		if err != nil {
			return nil, perr.Configf("queue %q: generating secure header token: %v", cfg.Name, err)
		}
		cfg.SecureHeaderValue = token
	}
	if cfg.ConcurrentRequests <= 0 {
		cfg.ConcurrentRequests = 1
	}
	if cfg.MaxProcessingTimePerRequest <= 0 {
		cfg.MaxProcessingTimePerRequest = 30 * time.Minute
	}
	if cfg.Rate.N <= 0 {
		return nil, perr.Configf("queue %q: Ratelimit must be positive", cfg.Name)
	}

	limiter := ratelimit.New(cfg.Rate.Window, cfg.Rate.N)
	dispatcher := NewDispatcher(r, cfg.Name, cfg.SelfURL, cfg.SecureHeaderName, cfg.SecureHeaderValue,
		cfg.MaxProcessingTimePerRequest)
	scheduler := NewScheduler(r, dispatcher, limiter, SchedulerConfig{
		QueueName:                   cfg.Name,
		Description:                 cfg.Description,
		RateSpec:                    cfg.RateSpec,
		BackoffSpec:                 cfg.BackoffSpec,
		Backoff:                     cfg.Backoff,
		ConcurrentRequests:          cfg.ConcurrentRequests,
		MaxRetries:                  cfg.MaxRetries,
		ProcessingStartupDelay:      cfg.ProcessingStartupDelay,
		MaxProcessingTimePerRequest: cfg.MaxProcessingTimePerRequest,
		OldTaskLingerTime:           cfg.OldTaskLingerTime,
	})

	return &Svc{cfg: cfg, repo: r, limiter: limiter, scheduler: scheduler, dispatcher: dispatcher}, nil
}

func randomToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NewSecureToken generates a fresh self-callback header value, the same way
// New does internally for a blank SecureHeaderValue. Exposed so a caller
// that needs to know the resolved value up front (to wire an admission
// check elsewhere in the process) can generate it once and pass it in
// rather than have New generate one it can never read back.
func NewSecureToken() (string, error) { return randomToken() }

// SecureHeader reports the header name/value this queue expects on
// self-callback requests
func (s *Svc) SecureHeader() (name, value string) {
	return s.cfg.SecureHeaderName, s.cfg.SecureHeaderValue
}

// WithArchive installs the optional ClickHouse archival callback invoked
// with every batch of run logs the scheduler prunes
func (s *Svc) WithArchive(fn func(context.Context, []domain.QueueRunLog)) {
	s.scheduler.WithArchive(fn)
}

// Submit inserts args as a new Waiting row and wakes the scheduler
func (s *Svc) Submit(ctx context.Context, args domain.SubmitArgs) (domain.QueueEntry, error) {
	now := time.Now().UTC()
	nextTry := args.ETA
	if nextTry.IsZero() || nextTry.Before(now) {
		nextTry = now
	}

	entry := domain.QueueEntry{
		QueueName:   s.cfg.Name,
		Method:      args.Method,
		URL:         args.URL,
		Payload:     args.Payload,
		Headers:     args.Headers,
		ContentType: args.ContentType,
		ETA:         args.ETA,
		NextTry:     nextTry,
		Status:      domain.StatusWaiting,
	}

	id, err := s.repo.Insert(ctx, entry)
	if err != nil {
		return domain.QueueEntry{}, err
	}
	entry.ID = id

	s.scheduler.Signal()
	return entry, nil
}

// ForceRun validates the entry exists, then queues it for immediate
// out-of-band dispatch on the scheduler's next iteration
func (s *Svc) ForceRun(ctx context.Context, id int64) error {
	if _, err := s.repo.Get(ctx, s.cfg.Name, id); err != nil {
		return err
	}
	s.scheduler.RequestForceRun(id)
	return nil
}

// Run drives the scheduler loop until ctx is canceled and drained
func (s *Svc) Run(ctx context.Context) error { return s.scheduler.Run(ctx) }

// Shutdown cancels the loop and waits (up to ctx) for in-flight dispatches
func (s *Svc) Shutdown(ctx context.Context) error { return s.scheduler.Shutdown(ctx) }

// Snapshot reports the admin surface's configured + live view of this queue
func (s *Svc) Snapshot() domain.QueueSnapshot { return s.scheduler.Snapshot() }

// List paginates this queue's entries
func (s *Svc) List(
	ctx context.Context, offset, count int, filter domain.ListFilter, sort domain.SortOrder,
) ([]domain.QueueEntry, int, error) {
	return s.repo.List(ctx, s.cfg.Name, offset, count, filter, sort)
}

// Get reads one entry by id, scoped to this queue
func (s *Svc) Get(ctx context.Context, id int64) (domain.QueueEntry, error) {
	return s.repo.Get(ctx, s.cfg.Name, id)
}

// Update applies patch to an entry; QueueName can never be changed (the
// admin surface's PUT strips it before this is called)
func (s *Svc) Update(ctx context.Context, id int64, patch domain.EntryPatch) (domain.QueueEntry, error) {
	return s.repo.Update(ctx, s.cfg.Name, id, patch)
}

// Delete removes an entry and its run logs, scoped to this queue
func (s *Svc) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, s.cfg.Name, id)
}

// Lines returns every run-log row recorded against id
func (s *Svc) Lines(ctx context.Context, id int64) ([]domain.QueueRunLog, error) {
	return s.repo.Lines(ctx, id)
}

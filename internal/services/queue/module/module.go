// Package module wires one named queue instance and exposes its ports,
// following the teacher's bouncer module's New(deps, overrides) shape
package module

import (
	"gantry/internal/modkit"
	"gantry/internal/modkit/httpkit"
	"gantry/internal/platform/parse"
	"gantry/internal/services/queue/registry"
	"gantry/internal/services/queue/repo"
	"gantry/internal/services/queue/service"
)

// Module wires one named queue and registers it into the process-wide
// registry for admin-surface routing
type Module struct {
	deps  modkit.Deps
	name  string
	opts  Options
	ports Ports
}

// New parses name's configuration, builds its repo/service, registers it,
// and returns the wired Module. overrides lets a caller (or test) pin fields
// FromConfig would otherwise read from the environment; a zero-valued field
// in overrides leaves the FromConfig default untouched.
func New(deps modkit.Deps, name string, overrides Options) (*Module, error) {
	opts := FromConfig(deps.Cfg, name)
	opts = mergeOverrides(opts, overrides)

	rate, err := parse.RateSpec(opts.RatelimitSpec)
	if err != nil {
		return nil, err
	}
	backoff, err := parse.BackoffSpec(opts.RetryBackoffSpec, opts.MaxRetries)
	if err != nil {
		return nil, err
	}

	if opts.SecureHeaderValue == "" {
		token, err := service.NewSecureToken()
		if err != nil {
			return nil, err
		}
		opts.SecureHeaderValue = token
	}

	binder := repo.NewSQLRepo(deps.DB.Dialect())
	r := binder.Bind(deps.DB)

	svc, err := service.New(r, service.Config{
		Name:                        opts.Name,
		Description:                 opts.Description,
		SelfURL:                     opts.SelfURL,
		RateSpec:                    opts.RatelimitSpec,
		Rate:                        rate,
		ConcurrentRequests:          opts.ConcurrentRequests,
		MaxRetries:                  opts.MaxRetries,
		ProcessingStartupDelay:      opts.ProcessingStartupDelay,
		BackoffSpec:                 opts.RetryBackoffSpec,
		Backoff:                     backoff,
		SecureHeaderName:            opts.SecureHeaderName,
		SecureHeaderValue:           opts.SecureHeaderValue,
		MaxProcessingTimePerRequest: opts.MaxProcessingTimePerRequest,
		OldTaskLingerTime:           opts.OldTaskLingerTime,
	})
	if err != nil {
		return nil, err
	}

	registry.Register(opts.Name, svc)

	m := &Module{
		deps: deps,
		name: opts.Name,
		opts: opts,
		ports: Ports{
			Submit:   svc,
			ForceRun: svc,
			Worker:   svc,
			Admin:    svc,
		},
	}
	return m, nil
}

func mergeOverrides(base, o Options) Options {
	if o.Description != "" {
		base.Description = o.Description
	}
	if o.SelfURL != "" {
		base.SelfURL = o.SelfURL
	}
	if o.RatelimitSpec != "" {
		base.RatelimitSpec = o.RatelimitSpec
	}
	if o.ConcurrentRequests != 0 {
		base.ConcurrentRequests = o.ConcurrentRequests
	}
	if o.MaxRetries != 0 {
		base.MaxRetries = o.MaxRetries
	}
	if o.ProcessingStartupDelay != 0 {
		base.ProcessingStartupDelay = o.ProcessingStartupDelay
	}
	if o.RetryBackoffSpec != "" {
		base.RetryBackoffSpec = o.RetryBackoffSpec
	}
	if o.SecureHeaderName != "" {
		base.SecureHeaderName = o.SecureHeaderName
	}
	if o.SecureHeaderValue != "" {
		base.SecureHeaderValue = o.SecureHeaderValue
	}
	if o.MaxProcessingTimePerRequest != 0 {
		base.MaxProcessingTimePerRequest = o.MaxProcessingTimePerRequest
	}
	if o.OldTaskLingerTime != 0 {
		base.OldTaskLingerTime = o.OldTaskLingerTime
	}
	return base
}

// MountRoutes is a no-op: the admin REST surface is process-wide, not
// per-queue (it routes by a {name} path segment through the registry), so
// it is mounted once via Register rather than once per Module
func (m *Module) MountRoutes(_ httpkit.Router) {}

// Ports returns this queue's port set
func (m *Module) Ports() any { return m.ports }

// Name returns the queue's name
func (m *Module) Name() string { return m.name }

// SecureHeader reports the header name/value this queue's self-callback
// requests must carry, for wiring a shared admission check in cmd/gantryd
func (m *Module) SecureHeader() (name, value string) {
	return m.opts.SecureHeaderName, m.opts.SecureHeaderValue
}

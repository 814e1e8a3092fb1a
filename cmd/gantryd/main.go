// Command gantryd is the composed binary: it opens the shared store, wires
// one or more named queues from GANTRY_QUEUE_<NAME>_* env prefixes, mounts
// the admin REST surface plus a /ping self-callback target, and runs every
// queue's scheduler loop alongside the HTTP listener until signaled to stop.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gantry/internal/modkit"
	modreg "gantry/internal/modkit/module"

	"gantry/internal/modkit/httpkit"
	"gantry/internal/platform/config"
	perr "gantry/internal/platform/errors"
	"gantry/internal/platform/logger"
	phttp "gantry/internal/platform/net/http"
	"gantry/internal/platform/store"

	"gantry/internal/services/queue/domain"
	"gantry/internal/services/queue/module"
	"gantry/internal/services/queue/repo"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := config.New()
	dbCfg := root.Prefix("GANTRY_DB_")
	l := logger.Get()

	st, err := store.Open(ctx, store.Config{DB: store.DBConfig{
		Dialect:     store.Dialect(dbCfg.MayString("DIALECT", string(store.DialectSQLite))),
		DSN:         dbCfg.MayString("DSN", "file:gantry.db"),
		MaxConns:    dbCfg.MayInt("MAX_CONNS", 4),
		LogSQL:      dbCfg.MayBool("LOG_SQL", false),
		PingTimeout: dbCfg.MayDuration("PING_TIMEOUT", 5*time.Second),
	}})
	if err != nil {
		l.Panic().Err(err).Msg("store.Open failed")
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			l.Error().Err(err).Msg("failed to close store")
		}
	}()

	if err := repo.Migrate(ctx, st.DB, st.DB.Dialect()); err != nil {
		l.Panic().Err(err).Msg("repo.Migrate failed")
	}

	deps := modkit.Deps{Cfg: root, DB: st.DB, Log: *l}

	names := root.MayCSV("GANTRY_QUEUES", []string{"default"})
	mods := make([]*module.Module, 0, len(names))
	workers := make([]domain.WorkerPort, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		m, err := module.New(deps, name, module.Options{})
		if err != nil {
			l.Panic().Err(err).Str("queue", name).Msg("failed to wire queue")
		}
		mods = append(mods, m)
		workers = append(workers, modreg.MustPortsOf[domain.WorkerPort](m))
	}

	srv := phttp.NewServer(root.Prefix("GANTRY_HTTP_"))
	r := srv.Router()
	r.Use(httpkit.CommonStack()...)

	module.Register(r)
	mountPing(r, mods)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	for i, w := range workers {
		name := mods[i].Name()
		go func(w domain.WorkerPort, name string) {
			if err := w.Run(ctx); err != nil {
				l.Error().Err(err).Str("queue", name).Msg("scheduler loop stopped")
			}
		}(w, name)
	}

	<-ctx.Done()
	l.Info().Msg("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for i, w := range workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			l.Error().Err(err).Str("queue", mods[i].Name()).Msg("queue shutdown error")
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("http shutdown error")
	}
	if err := <-errCh; err != nil {
		l.Error().Err(err).Msg("http server exited with error")
	}
}

// mountPing wires the shared /ping self-callback target every queue's
// dispatcher can be configured to hit; it accepts a request whose secure
// header matches any configured queue, since several queues can share one
// process but each picks its own SecureHeaderName/SecureHeaderValue
func mountPing(r httpkit.Router, mods []*module.Module) {
	r.Post("/ping", httpkit.Handle(func(req *http.Request) httpkit.Response {
		for _, m := range mods {
			name, value := m.SecureHeader()
			if name != "" && req.Header.Get(name) == value {
				return httpkit.OK(map[string]any{"pong": true})
			}
		}
		return httpkit.Error(perr.Forbiddenf("missing or invalid secure header"))
	}))
}

package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/cmsadmin/internal/admin"
	"github.com/3cpo-dev/cmsadmin/internal/config"
	cs "github.com/3cpo-dev/cmsadmin/internal/contentstore"
	"github.com/3cpo-dev/cmsadmin/internal/contentstore/contentful"
	"github.com/3cpo-dev/cmsadmin/internal/contentstore/memory"
	"github.com/3cpo-dev/cmsadmin/internal/journal"
	"github.com/3cpo-dev/cmsadmin/internal/reorder"
	"github.com/3cpo-dev/cmsadmin/internal/telemetry"
)

// App is the wired application: content store, coordinator, journal and
// monitoring, built from one Config.
type App struct {
	Config      config.Config
	Stores      *cs.Registry
	Store       cs.Store
	Journal     *journal.Store
	Coordinator *reorder.Coordinator
	Collector   *telemetry.Collector
	Monitor     *telemetry.Monitor
}

// NewApp builds the application. Close releases the journal.
func NewApp(cfg config.Config) (*App, error) {
	stores, err := NewRegistry(cfg)
	if err != nil {
		return nil, err
	}
	store, err := stores.Get(cfg.Store.Backend)
	if err != nil {
		return nil, err
	}

	var j *journal.Store
	if cfg.Journal.Path != "" {
		if j, err = journal.NewStore(cfg.Journal.Path); err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
	}

	app := &App{
		Config:    cfg,
		Stores:    stores,
		Store:     store,
		Journal:   j,
		Collector: telemetry.InitGlobal(cfg.Telemetry.Enabled),
	}
	opts := reorder.Options{OrderField: cfg.Store.OrderField, Locale: cfg.Store.Locale}
	if j != nil {
		opts.Journal = j
	}
	app.Coordinator = reorder.New(store, opts)

	app.Monitor = telemetry.NewMonitor(app.Collector)
	for name, fn := range telemetry.DefaultHealthChecks() {
		app.Monitor.RegisterHealthCheck(name, fn)
	}
	if p, ok := store.(cs.Pinger); ok {
		app.Monitor.RegisterHealthCheck("store", telemetry.PingCheck(p.Ping))
	}
	if j != nil {
		app.Monitor.RegisterHealthCheck("journal", telemetry.PingCheck(j.Ping))
	}

	log.Debug().
		Str("backend", store.Name()).
		Str("order_field", cfg.Store.OrderField).
		Str("locale", cfg.Store.Locale).
		Bool("journal", j != nil).
		Msg("Application wired")
	return app, nil
}

// NewRegistry registers the backend selected by cfg. The memory backend is
// always available.
func NewRegistry(cfg config.Config) (*cs.Registry, error) {
	reg := cs.NewRegistry()
	switch cfg.Store.Backend {
	case "contentful":
		reg.Register(contentful.New(cfg))
	case "memory":
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	mem := memory.New()
	if cfg.Store.Memory.Fixture != "" {
		var err error
		if mem, err = memory.LoadFixture(cfg.Store.Memory.Fixture); err != nil {
			return nil, err
		}
	}
	reg.Register(mem)
	return reg, nil
}

// AdminServer builds the HTTP admin surface over the app.
func (a *App) AdminServer(version string) *admin.Server {
	var history admin.History
	if a.Journal != nil {
		history = a.Journal
	}
	return admin.NewServer(version, admin.NewAuthenticator(a.Config), a.Coordinator, history, a.Monitor)
}

// Health runs every registered health check.
func (a *App) Health(ctx context.Context) error {
	status, checks := a.Monitor.Check(ctx)
	if status == telemetry.HealthStatusHealthy {
		return nil
	}
	var errs []error
	for _, c := range checks {
		if c.Status != telemetry.HealthStatusHealthy {
			errs = append(errs, fmt.Errorf("%s: %s", c.Name, c.Message))
		}
	}
	return errors.Join(errs...)
}

func (a *App) Close() error {
	if a.Journal == nil {
		return nil
	}
	return a.Journal.Close()
}

// Package app wires sellerhub's components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fortressi/sellerhub/backend"
	"github.com/fortressi/sellerhub/backend/memory"
	"github.com/fortressi/sellerhub/backend/supabase"
	"github.com/fortressi/sellerhub/config"
	"github.com/fortressi/sellerhub/httpapi"
	"github.com/fortressi/sellerhub/marketplace"
	"github.com/fortressi/sellerhub/metrics"
	"github.com/fortressi/sellerhub/saga"
	"github.com/fortressi/sellerhub/signup"
	"github.com/fortressi/sellerhub/storage/postgres"
)

type App struct {
	Config      *config.Config
	Logger      logrus.FieldLogger
	Metrics     *metrics.Metrics
	Backend     backend.Backend
	Store       saga.Store[*signup.State]
	Signup      *signup.Compensator
	Marketplace *marketplace.Manager

	cleanup []func() error
}

// New builds every dependency described by cfg. Close releases them.
func New(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
	}

	b, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}
	a.Backend = b

	if err := a.setupStore(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Signup, err = signup.New(a.Backend, a.Store,
		signup.WithLogger(logger),
		signup.WithMetrics(a.Metrics),
		signup.WithStaleAfter(cfg.Saga.StaleAfter),
	)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Marketplace = marketplace.NewManager(marketplace.NewDatastore(a.Backend))
	return a, nil
}

func newBackend(cfg *config.Config) (backend.Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendSupabase:
		client, err := supabase.New(supabase.Config{
			URL:        cfg.Supabase.URL,
			ServiceKey: cfg.Supabase.ServiceKey,
			Timeout:    cfg.Supabase.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create supabase client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.Config.Saga.Store {
	case config.StoreMemory:
		a.Store = saga.NewMemoryStore[*signup.State]()
	case config.StoreFile:
		store, err := saga.NewFileStore[*signup.State](a.Config.Saga.StateDir)
		if err != nil {
			return fmt.Errorf("failed to create saga file store: %w", err)
		}
		a.Store = store
	case config.StorePostgres:
		if err := postgres.MigrateUp(a.Config.Saga.DatabaseURL); err != nil {
			return err
		}
		db, err := postgres.Open(ctx, a.Config.Saga.DatabaseURL)
		if err != nil {
			return err
		}
		a.cleanup = append(a.cleanup, db.Close)
		a.Store = postgres.NewStore[*signup.State](db)
	default:
		return fmt.Errorf("unknown saga store %q", a.Config.Saga.Store)
	}
	return nil
}

// Router returns the HTTP handler for the app.
func (a *App) Router() *gin.Engine {
	return httpapi.NewRouter(httpapi.Deps{
		Signup:      a.Signup,
		Marketplace: a.Marketplace,
		Metrics:     a.Metrics,
		Logger:      a.Logger,
		JWTSecret:   a.Config.Supabase.JWTSecret,
		SignupRate:  a.Config.RateLimit.SignupPerSecond,
		SignupBurst: a.Config.RateLimit.SignupBurst,

		TrustedProxies: a.Config.RateLimit.TrustedProxies,
	})
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		if err := a.cleanup[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.cleanup = nil
	return errors.Join(errs...)
}

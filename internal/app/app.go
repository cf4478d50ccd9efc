// Package app wires the components shared by the API server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dvloznov/multibank/internal/accounts"
	"github.com/dvloznov/multibank/internal/aggregator"
	"github.com/dvloznov/multibank/internal/auth"
	"github.com/dvloznov/multibank/internal/config"
	"github.com/dvloznov/multibank/internal/events"
	"github.com/dvloznov/multibank/internal/export"
	"github.com/dvloznov/multibank/internal/identity"
	"github.com/dvloznov/multibank/internal/logger"
	"github.com/dvloznov/multibank/internal/store"
	"github.com/dvloznov/multibank/internal/store/driver"
	"google.golang.org/api/option"
)

// App holds the wired services.
type App struct {
	Config    config.Config
	Store     store.Store
	Auth      *auth.Resolver
	Profiles  *identity.Resolver
	Registrar *identity.Registrar
	Accounts  *accounts.Service
	Reader    *aggregator.Service
	Bus       *events.Bus
	Exporter  *export.Exporter // nil without an export bucket

	closers []io.Closer
}

// New validates cfg and builds the services. client supplies the auth
// identity. The store connects lazily on first use.
func New(ctx context.Context, cfg config.Config, client auth.Client) (*App, error) {
	log := logger.FromContext(ctx)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("New: %w", err)
	}

	a := &App{Config: cfg}

	s, err := driver.Open(cfg.Store.URL, cfg.Store.Key)
	if err != nil {
		return nil, fmt.Errorf("New: %w", err)
	}
	a.Store = s
	a.closers = append(a.closers, s)

	retries := cfg.Auth.Retries
	a.Auth = auth.NewResolver(client, auth.Options{
		Retries:   &retries,
		BaseDelay: cfg.Auth.BaseDelay,
	})

	a.Profiles = identity.NewResolver(s)
	directory := identity.NewDirectory(s)
	a.Registrar = identity.NewRegistrar(a.Profiles, identity.NewGenerator(directory, cfg.Identity.MaxAttempts), directory)

	a.Bus = events.NewBus()
	a.closers = append(a.closers, a.Bus)
	publishers := events.Multi{a.Bus}
	if cfg.Events.AMQPURL != "" {
		rp, err := events.NewRabbitPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange, cfg.Events.RoutingKey)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("New: %w", err)
		}
		publishers = append(publishers, rp)
		a.closers = append(a.closers, rp)
		log.Info().Str("exchange", cfg.Events.Exchange).Msg("Publishing account changes to RabbitMQ")
	}

	repo := accounts.NewRepository(s)
	a.Accounts = accounts.NewService(repo, publishers)
	a.Reader = aggregator.NewService(a.Auth, a.Profiles, repo, cfg.Lookback())

	if cfg.Export.Bucket != "" {
		var opts []option.ClientOption
		if cfg.StoreScheme() == config.SchemeBigQuery && cfg.Store.Key != "default" {
			opts = append(opts, option.WithCredentialsFile(cfg.Store.Key))
		}
		gcs, err := export.NewGCS(ctx, opts...)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("New: %w", err)
		}
		a.closers = append(a.closers, gcs)
		a.Exporter = export.NewExporter(gcs, cfg.Export.Bucket)
	}

	return a, nil
}

// Close releases every resource in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

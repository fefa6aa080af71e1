// Package app wires storage, buses, handlers and services into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/simnova/sharethrift-sub014/internal/config"
	"github.com/simnova/sharethrift-sub014/internal/events"
	"github.com/simnova/sharethrift-sub014/internal/handlers"
	"github.com/simnova/sharethrift-sub014/internal/mq"
	"github.com/simnova/sharethrift-sub014/internal/notify"
	"github.com/simnova/sharethrift-sub014/internal/searchindex"
	"github.com/simnova/sharethrift-sub014/internal/searchsync"
	"github.com/simnova/sharethrift-sub014/internal/service"
	"github.com/simnova/sharethrift-sub014/internal/storage"
	"github.com/simnova/sharethrift-sub014/internal/uow"
)

// App holds the wired components
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Store       *storage.SQLiteStorage
	Index       *searchindex.SQLiteIndex
	Transport   events.Transport
	Domain      *events.DomainBus
	Integration *events.IntegrationBus
	UoW         *uow.UnitOfWork

	Reservations *service.Service
	Search       *searchsync.Service
}

// New opens the databases and transport and registers every handler
func New(cfg *config.Config, logger *slog.Logger) (a *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a = &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if a.Store, err = storage.NewSQLiteStorage(cfg.DBPath); err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if a.Index, err = searchindex.Open(cfg.SearchDBPath, cfg.IndexCacheSize); err != nil {
		return nil, fmt.Errorf("open search index: %w", err)
	}
	if a.Transport, err = newTransport(cfg, logger); err != nil {
		return nil, err
	}

	a.Domain = events.NewDomainBus(logger)
	a.Integration = events.NewIntegrationBus(a.Store, a.Transport, cfg.Integration(), logger)
	a.UoW = uow.New(a.Store, a.Domain, a.Integration, logger)
	a.Search = searchsync.New(a.UoW, a.Index, cfg.Search(), logger)
	a.Reservations = service.New(a.UoW, logger)

	h := handlers.New(a.UoW, a.Search, notify.NewLogNotifier(logger), logger)
	if err = h.Register(a.Domain, a.Integration); err != nil {
		return nil, err
	}
	return a, nil
}

func newTransport(cfg *config.Config, logger *slog.Logger) (events.Transport, error) {
	switch cfg.Transport {
	case config.TransportRabbitMQ:
		t, err := mq.Dial(cfg.RabbitMQ(), logger)
		if err != nil {
			return nil, fmt.Errorf("connect transport: %w", err)
		}
		return t, nil
	default:
		return events.NewMemoryTransport(cfg.MemoryBuffer), nil
	}
}

// Run delivers integration messages until ctx is cancelled
func (a *App) Run(ctx context.Context) error {
	a.Logger.Info("integration bus starting",
		"transport", a.Config.Transport, "workers", a.Config.Workers, "driver", storage.DriverName)
	return a.Integration.Run(ctx)
}

// Close releases the transport and both databases
func (a *App) Close() error {
	var errs []error
	if a.Transport != nil {
		errs = append(errs, a.Transport.Close())
	}
	if a.Index != nil {
		errs = append(errs, a.Index.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}

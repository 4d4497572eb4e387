package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"aphdex/config"
	"aphdex/core/dispatch"
	"aphdex/core/events"
	"aphdex/core/state"
	"aphdex/core/types"
	"aphdex/observability"
	"aphdex/observability/logging"
	telemetry "aphdex/observability/otel"
	"aphdex/storage"
	"aphdex/storage/journal"
)

const serviceName = "aphdex"

// app owns everything a command needs: the state database, the event
// journal, the telemetry providers and the dispatcher built over them.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	db         storage.Database
	journal    *journal.Journal
	dispatcher *dispatch.Dispatcher
	tokens     []types.Address
	shutdown   telemetry.Shutdown
}

func setupLogger(cfg config.Logging) (*slog.Logger, error) {
	var level slog.Level
	if lvl := strings.TrimSpace(cfg.Level); lvl != "" {
		if err := level.UnmarshalText([]byte(lvl)); err != nil {
			return nil, fmt.Errorf("Logging.Level: %w", err)
		}
	}
	return logging.SetupWithOptions(serviceName, logging.Options{
		Env:        cfg.Env,
		File:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
		Level:      level,
	}), nil
}

func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	params, err := cfg.Params()
	if err != nil {
		return nil, err
	}
	tokens, err := cfg.TokenHandles()
	if err != nil {
		return nil, err
	}

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Logging.Env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
	})
	if err != nil {
		return nil, err
	}

	db, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, db: db, tokens: tokens, shutdown: shutdown}
	opts := dispatch.Options{
		Params:  params,
		Tokens:  tokens,
		Emitter: events.Multi{observability.Events()},
		Metrics: observability.Exchange(),
		Logger:  logger,
	}
	if cfg.Journal.Driver != "none" {
		j, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.journal = j
		opts.Journal = j
	}
	a.dispatcher = dispatch.New(state.NewManager(db), opts)
	logger.Debug("exchange opened",
		slog.String("contract", params.Contract.String()),
		slog.String("backend", cfg.Storage.Backend),
		slog.String("journal", cfg.Journal.Driver),
		logging.DSN(cfg.Journal.DSN),
		slog.Int("tokens", len(tokens)))
	return a, nil
}

// Close releases the journal, the database and the telemetry providers.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(ctx))
	}
	return errors.Join(errs...)
}

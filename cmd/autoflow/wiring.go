package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rendis/autoflow/internal/actions"
	"github.com/rendis/autoflow/internal/dispatch"
	"github.com/rendis/autoflow/internal/engine"
	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/internal/metrics"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/mcp"
)

// components is the wired engine shared by every command.
type components struct {
	store      *store.LibSQLStore
	events     *store.EventLog
	steps      *actions.Registry
	metrics    *metrics.Collector
	notifier   *mcp.RunNotifier
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

// build opens the database and wires store, step library, metrics and
// dispatcher.
func build(ctx context.Context, cfg Config, logger *slog.Logger) (*components, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	s, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	exprEngine := expressions.NewExprEngine()
	reg := actions.NewRegistry()
	if err := actions.RegisterBuiltins(reg, actions.BuiltinConfig{
		Logger: logger,
		Expr:   exprEngine,
	}); err != nil {
		_ = s.Close()
		return nil, err
	}

	c := &components{
		store:    s,
		events:   store.NewEventLog(s),
		steps:    reg,
		metrics:  metrics.New(),
		notifier: mcp.NewRunNotifier(),
		logger:   logger,
	}
	c.dispatcher, err = dispatch.New(dispatch.Deps{
		Store:    s,
		Steps:    reg,
		Events:   c.events,
		Resolver: expressions.NewResolver(exprEngine),
		Observer: c.metrics,
		Runs:     dispatch.RunObservers{c.metrics, c.notifier},
		Logger:   logger,
	}, dispatch.Config{
		PoolSize:      cfg.PoolSize,
		MaxChainDepth: cfg.MaxChainDepth,
		Engine:        engine.Config{MaxIterations: cfg.MaxIterations},
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	c.metrics.WatchPool(c.dispatcher.Pool())
	return c, nil
}

// Close drains the dispatcher and closes the store.
func (c *components) Close() {
	c.dispatcher.Close()
	if err := c.store.Close(); err != nil {
		c.logger.Warn("failed to close store", slog.String("error", err.Error()))
	}
}

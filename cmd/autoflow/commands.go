package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/rendis/autoflow/internal/actions"
	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/internal/scheduler"
	"github.com/rendis/autoflow/internal/validation"
	"github.com/rendis/autoflow/pkg/mcp"
)

func newRunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Save an automation and execute it once, printing the run as JSON",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "definition",
				Aliases:  []string{"d"},
				Usage:    "Automation file (YAML or JSON)",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "trigger",
				Aliases: []string{"t"},
				Usage:   "Trigger event file (YAML or JSON); empty payload when omitted",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := configFromCommand(cmd)
			logger := newLogger(cmd, cfg)

			a, app, err := readAutomation(cmd.String("definition"))
			if err != nil {
				return err
			}
			event, err := readTrigger(cmd.String("trigger"))
			if err != nil {
				return err
			}

			c, err := build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer c.Close()

			if result, err := c.dispatcher.Define(ctx, a); err != nil {
				printJSON(cmd.Root().Writer, result)
				return err
			}
			if app != nil {
				if err := c.dispatcher.SaveApp(ctx, app); err != nil {
					return err
				}
			}
			event.AutomationID = a.ID

			res, runErr := c.dispatcher.Run(ctx, event)
			if res != nil {
				printJSON(cmd.Root().Writer, res)
			}
			return runErr
		},
	}
}

func newValidateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Validate an automation file against the built-in step library",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "definition",
				Aliases:  []string{"d"},
				Usage:    "Automation file (YAML or JSON)",
				Required: true,
			},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			a, _, err := readAutomation(cmd.String("definition"))
			if err != nil {
				return err
			}

			reg := actions.NewRegistry()
			if err := actions.RegisterBuiltins(reg, actions.BuiltinConfig{}); err != nil {
				return err
			}
			v, err := validation.NewAutomationValidator(reg)
			if err != nil {
				return err
			}

			result := v.Validate(&a.Definition)
			printJSON(cmd.Root().Writer, result)
			return result.ToError()
		},
	}
}

func newServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the scheduler, the metrics endpoint and the MCP server on stdio",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "tick",
				Usage: "Scheduler tick interval",
				Value: scheduler.DefaultInterval,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := configFromCommand(cmd)
			logger := newLogger(cmd, cfg)

			c, err := build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer c.Close()

			sched := scheduler.NewScheduler(c.store, c.dispatcher, logger, scheduler.WithInterval(cmd.Duration("tick")))
			c.dispatcher.SetRegistrar(sched)
			c.dispatcher.AddRunObserver(sched)
			if err := sched.RecoverMissed(ctx); err != nil {
				logger.Warn("failed to recover missed schedules", slog.String("error", err.Error()))
			}
			if err := sched.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = sched.Stop() }()

			if cfg.MetricsAddr != "" {
				srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(c), ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("metrics server failed", slog.String("error", err.Error()))
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				logger.Info("metrics listening", slog.String("addr", cfg.MetricsAddr))
			}

			server := mcp.NewAutoflowServer(mcp.AutoflowServerDeps{
				Dispatcher: c.dispatcher,
				Store:      c.store,
				Events:     c.events,
				Steps:      c.steps,
				Notifier:   c.notifier,
				Logger:     logger,
			})
			logger.Info("autoflow serving", slog.String("version", version), slog.String("db_path", cfg.DBPath))
			return server.Serve(ctx)
		},
	}
}

func metricsMux(c *components) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.metrics.Handler())
	return mux
}

func newLogger(cmd *cli.Command, cfg Config) *slog.Logger {
	return logging.Setup(cmd.Root().ErrWriter, cfg.LogLevel, cfg.LogFormat)
}

func printJSON(w io.Writer, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(w, "marshal output: %v\n", err)
		return
	}
	fmt.Fprintln(w, string(data))
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func newApp(cfg Config) *cli.Command {
	return &cli.Command{
		Name:                  "autoflow",
		Usage:                 "Trigger-driven automation engine",
		Version:               version,
		EnableShellCompletion: true,
		Flags:                 configFlags(cfg),
		Commands: []*cli.Command{
			newRunCommand(),
			newValidateCommand(),
			newServeCommand(),
		},
	}
}

func main() {
	cfg, err := loadConfig(settingsPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot read %s: %v\n", settingsPath(), err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(cfg).Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

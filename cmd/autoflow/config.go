package main

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/rendis/autoflow/internal/dispatch"
	"github.com/rendis/autoflow/internal/engine"
)

// Config holds all autoflow configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	DBPath        string `json:"db_path"`
	LogLevel      string `json:"log_level"`
	LogFormat     string `json:"log_format"`
	PoolSize      int    `json:"pool_size"`
	MaxIterations int    `json:"max_iterations"`
	MaxChainDepth int    `json:"max_chain_depth"`
	MetricsAddr   string `json:"metrics_addr"`
}

func defaultConfig() Config {
	return Config{
		DBPath:        filepath.Join(autoflowDir(), "autoflow.db"),
		LogLevel:      "info",
		LogFormat:     "text",
		PoolSize:      dispatch.DefaultPoolSize,
		MaxIterations: engine.DefaultMaxIterations,
		MaxChainDepth: dispatch.DefaultMaxChainDepth,
		MetricsAddr:   ":9464",
	}
}

func autoflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".autoflow"
	}
	return filepath.Join(home, ".autoflow")
}

func settingsPath() string {
	return filepath.Join(autoflowDir(), "settings.json")
}

// loadConfig layers settings.json at path over the defaults. A missing file
// is not an error.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// configFlags exposes every config key as a global flag whose default is
// the file-layer value and whose env var overrides it.
func configFlags(cfg Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "db-path",
			Usage:   "libsql database file",
			Value:   cfg.DBPath,
			Sources: cli.EnvVars("AUTOFLOW_DB_PATH"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   cfg.LogLevel,
			Sources: cli.EnvVars("AUTOFLOW_LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   cfg.LogFormat,
			Sources: cli.EnvVars("AUTOFLOW_LOG_FORMAT"),
		},
		&cli.IntFlag{
			Name:    "pool-size",
			Usage:   "Maximum concurrent runs",
			Value:   cfg.PoolSize,
			Sources: cli.EnvVars("AUTOFLOW_POOL_SIZE"),
		},
		&cli.IntFlag{
			Name:    "max-iterations",
			Usage:   "Loop iteration bound (0 disables it)",
			Value:   cfg.MaxIterations,
			Sources: cli.EnvVars("AUTOMATION_MAX_ITERATIONS"),
		},
		&cli.IntFlag{
			Name:    "max-chain-depth",
			Usage:   "Highest chain count a run may reach (0 disables the limit)",
			Value:   cfg.MaxChainDepth,
			Sources: cli.EnvVars("AUTOMATION_MAX_CHAIN"),
		},
		&cli.StringFlag{
			Name:    "metrics-addr",
			Usage:   "Listen address of the /metrics endpoint (empty disables it)",
			Value:   cfg.MetricsAddr,
			Sources: cli.EnvVars("AUTOFLOW_METRICS_ADDR"),
		},
	}
}

// configFromCommand reads the resolved global flags.
func configFromCommand(cmd *cli.Command) Config {
	return Config{
		DBPath:        cmd.String("db-path"),
		LogLevel:      cmd.String("log-level"),
		LogFormat:     cmd.String("log-format"),
		PoolSize:      cmd.Int("pool-size"),
		MaxIterations: cmd.Int("max-iterations"),
		MaxChainDepth: cmd.Int("max-chain-depth"),
		MetricsAddr:   cmd.String("metrics-addr"),
	}
}

package main

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/shpitdev/geodatacheck/internal/app"
	"github.com/shpitdev/geodatacheck/internal/config"
	"github.com/shpitdev/geodatacheck/internal/logging"
)

// globalFlags are shared by every command that touches input data.
type globalFlags struct {
	configFile string
	envFiles   []string
	logLevel   string
	logFormat  string
	columnMap  []string
}

func (g *globalFlags) register(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&g.configFile, "config", "", "YAML config file")
	pf.StringSliceVar(&g.envFiles, "env-file", []string{".env", ".env.local"}, ".env files to load (missing files are skipped)")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug|info|warn|error (env: GEODATACHECK_LOG_LEVEL)")
	pf.StringVar(&g.logFormat, "log-format", "", "log format: auto|console|json (env: GEODATACHECK_LOG_FORMAT)")
	pf.StringArrayVar(&g.columnMap, "map", nil, "bind a field to a column, e.g. --map buildingId=EGID (repeatable)")
}

// load resolves configuration: defaults < config file < .env < environment < flags.
func (g *globalFlags) load() (config.Config, error) {
	if err := config.LoadDotEnv(g.envFiles...); err != nil {
		return config.Config{}, &app.ConfigError{Err: err}
	}
	cfg, err := config.Load(g.configFile)
	if err != nil {
		return config.Config{}, &app.ConfigError{Err: err}
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	if len(g.columnMap) > 0 {
		merged := make(map[string]string, len(cfg.Columns.Map)+len(g.columnMap))
		for k, v := range cfg.Columns.Map {
			merged[strings.ToLower(k)] = v
		}
		for _, kv := range g.columnMap {
			field, column, ok := strings.Cut(kv, "=")
			if !ok || strings.TrimSpace(field) == "" || strings.TrimSpace(column) == "" {
				return config.Config{}, usageError{fmt.Errorf("--map %q: expected field=column", kv)}
			}
			merged[strings.ToLower(strings.TrimSpace(field))] = strings.TrimSpace(column)
		}
		cfg.Columns.Map = merged
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, &app.ConfigError{Err: err}
	}
	return cfg, nil
}

func (g *globalFlags) logger(cmd *cobra.Command, cfg config.Config) (zerolog.Logger, error) {
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	if err != nil {
		return zerolog.Nop(), &app.ConfigError{Err: err}
	}
	return log, nil
}

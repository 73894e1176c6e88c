// Package cli wires the execagenda commands.
package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"execagenda/internal/agenda"
	"execagenda/internal/config"
	appLog "execagenda/internal/log"
	"execagenda/internal/recurrence"
	"execagenda/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
}

// NewRootCommand creates the root command for the execagenda CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "execagenda",
		Short: "Executive agenda with recurring tasks and events",
		Long: `execagenda keeps an executive's tasks and events, expands recurrence
rules into concrete occurrences and applies one/future/all edits to a series.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.LogLevel != "" {
				appLog.SetLevel(appLog.ParseLevel(opts.LogLevel))
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default $"+config.EnvConfig+" or "+config.DefaultPath+")")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error); overrides config")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewPreviewCommand(opts))
	cmd.AddCommand(NewRRuleCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))

	return cmd
}

// loadConfig reads the config file, applies environment overrides and sets
// the log level. --log-level wins over both.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	path := opts.ConfigPath
	if path == "" {
		path = config.PathFromEnv()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg.ApplyEnv()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	appLog.SetLevel(appLog.ParseLevel(level))
	appLog.Debug("config loaded", "path", path, "store", cfg.Store.Driver, "timezone", cfg.Timezone)
	return cfg, nil
}

// app is the runtime shared by the commands that touch the store.
type app struct {
	cfg   *config.Config
	loc   *time.Location
	store store.Store
	svc   *agenda.Service
}

func openApp(opts *RootOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.Store)
	if err != nil {
		return nil, err
	}
	svc := agenda.New(st,
		agenda.WithLocation(loc),
		agenda.WithGenerator(recurrence.NewGenerator(cfg.MaxOccurrences)),
	)
	return &app{cfg: cfg, loc: loc, store: st, svc: svc}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		appLog.Error("store close failed", err)
	}
}

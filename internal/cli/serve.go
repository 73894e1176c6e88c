package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	appLog "execagenda/internal/log"
	"execagenda/internal/scheduler"
	"execagenda/internal/web"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled ICS export",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}

func runServe(parent context.Context, opts *RootOptions, listen string) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	if listen != "" {
		a.cfg.Listen = listen
	}

	appLog.Info("execagenda starting",
		"listen", a.cfg.Listen,
		"timezone", a.cfg.Timezone,
		"store", a.cfg.Store.Driver,
		"max_occurrences", a.cfg.MaxOccurrences,
		"export_cron", a.cfg.Export.Cron,
		"cors_origins", len(a.cfg.CORSOrigins),
	)

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	sched, err := scheduler.New(a.svc, a.cfg.Export, a.loc)
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		sched.Stop(stopCtx)
	}()

	err = web.NewServer(a.cfg, a.svc, sched).Run(ctx)
	appLog.Info("execagenda exiting")
	return err
}

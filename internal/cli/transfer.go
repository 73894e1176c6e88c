package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"execagenda/internal/ics"
	appLog "execagenda/internal/log"
	"execagenda/internal/scheduler"
)

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		owner       string
		horizonDays int
		cacheDir    string
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "import <file|url>",
		Short: "Import events and todos from an iCalendar file or URL",
		Long: `Import VEVENTs and VTODOs into the agenda. Timed events become events,
all-day events and todos become tasks. RRULEs in the supported subset become
series; open-ended rules are bounded by --horizon-days. Anything else is
reported and skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			res, err := ics.NewFetcher(cacheDir).Fetch(ctx, args[0])
			if err != nil {
				return err
			}
			parsed, err := ics.ParseImport(res.Body, ics.ImportOptions{
				Location:    a.loc,
				OwnerID:     owner,
				HorizonDays: horizonDays,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			created := 0
			for _, c := range parsed.Candidates {
				kind := "single"
				if c.Rule != nil {
					kind = "series"
				}
				if dryRun {
					fmt.Fprintf(out, "would import %s %q (%s) from %s\n", kind, c.Template.Title, c.Template.Kind, c.Anchor.Format("2006-01-02"))
					continue
				}
				r, err := a.svc.Create(ctx, c.Template, c.Rule, c.Anchor)
				if err != nil {
					appLog.Error("import: create failed", err, "uid", c.UID)
					fmt.Fprintf(out, "failed %q: %v\n", c.Template.Title, err)
					continue
				}
				created += len(r.Activities)
				if r.Warning != nil {
					fmt.Fprintf(out, "warning %q: %v\n", c.Template.Title, r.Warning)
				}
			}
			for _, s := range parsed.Skipped {
				fmt.Fprintf(out, "skipped %s: %s\n", s.UID, s.Reason)
			}
			fmt.Fprintf(out, "%d candidate(s), %d activit(ies) created, %d skipped\n",
				len(parsed.Candidates), created, len(parsed.Skipped))
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id assigned to imported activities")
	cmd.Flags().IntVar(&horizonDays, "horizon-days", ics.DefaultHorizonDays, "bound for RRULEs without COUNT or UNTIL")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "data/ics-cache", "HTTP cache for URL imports (empty disables)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and report without storing")
	return cmd
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the agenda as an iCalendar file once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			exp := a.cfg.Export
			exp.Cron = ""
			if out != "" {
				exp.Path = out
			}
			sched, err := scheduler.New(a.svc, exp, a.loc)
			if err != nil {
				return err
			}
			n, err := sched.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %d activit(ies) to %s\n", n, exp.Path)
			return err
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path (default export.path from config)")
	return cmd
}

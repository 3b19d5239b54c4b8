// vitalsctl administers a vitals store: the archival setting, source
// priorities, cold exports and the daily job.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	verrors "github.com/xtxerr/vitals/internal/errors"
	"github.com/xtxerr/vitals/internal/logging"
	"github.com/xtxerr/vitals/internal/storage"
	"github.com/xtxerr/vitals/internal/storage/archival"
	"github.com/xtxerr/vitals/internal/storage/config"
	"github.com/xtxerr/vitals/internal/storage/parquet"
	"github.com/xtxerr/vitals/internal/storage/types"
)

func main() {
	app := &cliApp{}
	err := newRootCmd(app).Execute()
	if closeErr := app.close(); closeErr != nil {
		fmt.Fprintf(os.Stderr, "close store: %v\n", closeErr)
	}
	if err != nil {
		os.Exit(max(verrors.ErrorToCode(err), 1))
	}
}

// cliApp holds the service shared by commands. In shell mode it stays open
// across lines.
type cliApp struct {
	cfgPath string
	dsn     string
	svc     *storage.Service
}

// service opens the store on first use.
func (a *cliApp) service() (*storage.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}

	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		cfg = config.DefaultConfig()
	}
	if a.dsn != "" {
		cfg.Database.DSN = a.dsn
	}

	// Commands print their own results; keep the store quiet.
	logging.InitTo(os.Stderr, logging.ParseLevel("warn"), false)

	svc, err := storage.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	a.svc = svc
	return svc, nil
}

func (a *cliApp) close() error {
	if a.svc == nil {
		return nil
	}
	err := a.svc.Stop()
	a.svc = nil
	return err
}

func newRootCmd(app *cliApp) *cobra.Command {
	root := &cobra.Command{
		Use:          "vitalsctl",
		Short:        "Administer a vitals store",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&app.cfgPath, "config", "config.yaml", "config file path")
	root.PersistentFlags().StringVar(&app.dsn, "dsn", "", "database path (overrides config)")

	root.AddCommand(
		newSettingsCmd(app),
		newArchiveCmd(app),
		newEstimateCmd(app),
		newPrioritiesCmd(app),
		newExportCmd(app),
		newShellCmd(app),
	)
	return root
}

// settings command
func newSettingsCmd(app *cliApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the archival setting",
	}

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Show the archival setting and its policy state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.service()
			if err != nil {
				return err
			}
			plan, err := svc.PlanArchival(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Setting: %s\n", plan.Setting)
			fmt.Fprintf(out, "State:   %s\n", plan.State)
			if !plan.Setting.UpdatedAt.IsZero() {
				fmt.Fprintf(out, "Updated: %s\n", plan.Setting.UpdatedAt.UTC().Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	var archiveAfter, deleteAfter int
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Change the archival setting (0 disables a step)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if !flags.Changed("archive-after-days") && !flags.Changed("delete-after-days") {
				return verrors.NewValidation("settings", "set --archive-after-days or --delete-after-days")
			}

			svc, err := app.service()
			if err != nil {
				return err
			}
			setting, err := svc.ArchivalSetting(cmd.Context())
			if err != nil {
				return err
			}
			if flags.Changed("archive-after-days") {
				setting.ArchiveAfterDays = daysFlag(archiveAfter)
			}
			if flags.Changed("delete-after-days") {
				setting.DeleteAfterDays = daysFlag(deleteAfter)
			}

			updated, err := svc.UpdateArchivalSetting(cmd.Context(), setting)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Setting: %s\n", updated)
			return nil
		},
	}
	setCmd.Flags().IntVar(&archiveAfter, "archive-after-days", 0, "archive live rows older than this many days")
	setCmd.Flags().IntVar(&deleteAfter, "delete-after-days", 0, "delete data older than this many days")

	cmd.AddCommand(getCmd, setCmd)
	return cmd
}

func daysFlag(n int) *int {
	if n == 0 {
		return nil
	}
	return types.Days(n)
}

// archive command
func newArchiveCmd(app *cliApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Plan or run the daily archival job",
	}

	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what the daily job would do now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.service()
			if err != nil {
				return err
			}
			plan, err := svc.PlanArchival(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "State: %s\n", plan.State)
			if len(plan.Steps) == 0 {
				fmt.Fprintln(out, "Nothing to do")
			}
			for i, step := range plan.Steps {
				fmt.Fprintf(out, "  %d. %s\n", i+1, step)
			}
			return nil
		},
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daily job once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.service()
			if err != nil {
				return err
			}
			result, err := svc.RunArchival(cmd.Context())
			if result != nil {
				printRun(cmd, result)
			}
			return err
		},
	}

	cmd.AddCommand(planCmd, runCmd)
	return cmd
}

func printRun(cmd *cobra.Command, result *archival.RunResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s: %s\n", result.RunID, result.Plan.State)
	if r := result.Archive; r != nil {
		fmt.Fprintf(out, "  archived:         %d rows into %d groups (%d batches, exhausted=%t)\n",
			r.Rows, r.Groups, r.Batches, r.Exhausted)
		if r.Unarchivable > 0 {
			fmt.Fprintf(out, "  kept:             %d rows of non-archivable series\n", r.Unarchivable)
		}
	}
	if r := result.DeleteArchive; r != nil {
		fmt.Fprintf(out, "  archive deleted:  %d rows (%d files exported)\n", r.Rows, len(r.Files))
	}
	if r := result.DeleteLive; r != nil {
		fmt.Fprintf(out, "  live deleted:     %d rows\n", r.Rows)
	}
	fmt.Fprintf(out, "  duration:         %s\n", result.Duration)
}

// estimate command
func newEstimateCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "estimate",
		Short: "Estimate storage use under the current setting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.service()
			if err != nil {
				return err
			}
			est, err := svc.Estimate(cmd.Context())
			if err != nil {
				return err
			}

			width := 80
			if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
				width = w
			}

			out := cmd.OutOrStdout()
			fmt.Fprint(out, est.Format(width))
			if svc.Config().Export.Enabled {
				usage, err := svc.ExportUsage()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "exports: %s in %s\n", usage, svc.Config().Export.Dir)
			}
			return nil
		},
	}
}

// priorities command
func newPrioritiesCmd(app *cliApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "priorities",
		Short: "Manage provider and device type priorities",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List provider and device type priorities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.service()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			providers, err := svc.Priorities().Providers(ctx)
			if err != nil {
				return err
			}
			devices, err := svc.Priorities().DeviceTypes(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Providers:")
			if len(providers) == 0 {
				fmt.Fprintln(out, "  (none)")
			}
			for _, e := range providers {
				fmt.Fprintf(out, "  %3d  %s\n", e.Priority, e.Key)
			}
			fmt.Fprintln(out, "Device types:")
			if len(devices) == 0 {
				fmt.Fprintln(out, "  (none)")
			}
			for _, e := range devices {
				fmt.Fprintf(out, "  %3d  %s\n", e.Priority, e.Key)
			}
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:       "set provider|device NAME PRIORITY",
		Short:     "Rank a provider or device type (lower wins)",
		Args:      cobra.ExactArgs(3),
		ValidArgs: []string{"provider", "device"},
		RunE: func(cmd *cobra.Command, args []string) error {
			priority, err := strconv.Atoi(args[2])
			if err != nil {
				return verrors.NewInvalidValue("priority", args[2], "must be an integer")
			}
			svc, err := app.service()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			switch args[0] {
			case "provider":
				err = svc.Priorities().SetProvider(ctx, args[1], priority)
			case "device":
				err = svc.Priorities().SetDeviceType(ctx, args[1], priority)
			default:
				return verrors.NewInvalidValue("kind", args[0], "must be provider or device")
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s ranked %d\n", args[0], args[1], priority)
			return nil
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove provider|device NAME",
		Short: "Unrank a provider or device type",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.service()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			switch args[0] {
			case "provider":
				err = svc.Priorities().RemoveProvider(ctx, args[1])
			case "device":
				err = svc.Priorities().RemoveDeviceType(ctx, args[1])
			default:
				return verrors.NewInvalidValue("kind", args[0], "must be provider or device")
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s unranked\n", args[0], args[1])
			return nil
		},
	}

	cmd.AddCommand(listCmd, setCmd, removeCmd)
	return cmd
}

// export command
func newExportCmd(app *cliApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Inspect and prune cold exports",
	}

	var limit int
	inspectCmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Show an exported parquet file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := parquet.GetFileInfo(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "File:    %s\n", info.Path)
			fmt.Fprintf(out, "Size:    %d bytes\n", info.Size)
			fmt.Fprintf(out, "Rows:    %d\n", info.NumRows)
			fmt.Fprintf(out, "Columns: %d\n", info.NumCols)
			if limit <= 0 {
				return nil
			}

			r, err := parquet.NewArchiveReader(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			rows, err := r.Read(limit)
			if err != nil {
				return err
			}
			for _, row := range rows {
				fmt.Fprintf(out, "  %s  %s  %-28s %12s  n=%d\n",
					row.Date.Format("2006-01-02"), row.DataSourceID, row.SeriesType,
					row.Value.String(), row.SampleCount)
			}
			return nil
		},
	}
	inspectCmd.Flags().IntVar(&limit, "limit", 10, "rows to print (0 for none)")

	var dryRun bool
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete exports older than the export retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.service()
			if err != nil {
				return err
			}
			janitor := svc.Janitor()
			now := time.Now()

			run, verb := janitor.Run, "Deleted"
			if dryRun {
				run, verb = janitor.DryRun, "Would delete"
			}
			result := run(now)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %d files (%d bytes), kept %d\n",
				verb, result.FilesDeleted, result.BytesFreed, result.FilesSkipped)
			return errors.Join(result.Errors...)
		},
	}
	pruneCmd.Flags().BoolVar(&dryRun, "dry-run", false, "only report what would be deleted")

	cmd.AddCommand(inspectCmd, pruneCmd)
	return cmd
}

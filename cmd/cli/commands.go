package main

import (
	"fmt"
	"io"
	"strings"

	"gosens/app"
	"gosens/domain/core"
	"gosens/domain/summary"
	"gosens/internal/config"
	"gosens/internal/container"
	"gosens/internal/experiment"

	"github.com/spf13/cobra"
)

// modelFlags are shared by every command that opens the workbook
type modelFlags struct {
	workbook  string
	variables string
	outputs   string
	database  string
}

func (f *modelFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.workbook, "workbook", "", "Model workbook (default $MODEL_WORKBOOK)")
	cmd.PersistentFlags().StringVar(&f.variables, "variables", "", "Name of the variable specification range (default $VARIABLE_RANGE or greenbox)")
	cmd.PersistentFlags().StringVar(&f.outputs, "outputs", "", "Name of the output range (default $OUTPUT_RANGE or bluebox)")
	cmd.PersistentFlags().StringVar(&f.database, "database-url", "", "PostgreSQL run ledger (default $DATABASE_URL; in memory when empty)")
}

func (f *modelFlags) apply(cfg *config.Config) {
	if f.workbook != "" {
		cfg.Model.Workbook = f.workbook
	}
	if f.variables != "" {
		cfg.Model.VariableRange = f.variables
	}
	if f.outputs != "" {
		cfg.Model.OutputRange = f.outputs
	}
	if f.database != "" {
		cfg.Database.URL = f.database
	}
}

func newRootCmd() *cobra.Command {
	flags := &modelFlags{}
	rootCmd := &cobra.Command{
		Use:           "gosens",
		Short:         "Monte Carlo sensitivity analysis of spreadsheet models",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags.register(rootCmd)

	rootCmd.AddCommand(
		newRunCmd(flags),
		newInspectCmd(flags),
		newRestoreCmd(flags),
		newRunsCmd(flags),
	)
	return rootCmd
}

func newRunCmd(flags *modelFlags) *cobra.Command {
	var (
		samples         int
		progressEvery   int
		seed            uint64
		exportPath      string
		reportPath      string
		restoreBaseline bool
		save            bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sample the declared variables and record the model outputs",
		Long: `Draw samples for every variable of the specification range, push each row
through the workbook and collect the outputs. Rows the model rejects are
logged and dropped. The result is exported to a workbook with one sheet per
batch and one histogram sheet per column.

Example: gosens run --workbook model.xlsx --samples 5000 --seed 42 --report report.md`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			flags.apply(cfg)
			if cmd.Flags().Changed("samples") {
				cfg.Run.Samples = samples
			}
			if cmd.Flags().Changed("progress-every") {
				cfg.Run.ProgressEvery = progressEvery
			}
			if cmd.Flags().Changed("seed") {
				cfg.Run.Seed = seed
			}
			if cmd.Flags().Changed("export") {
				cfg.Run.ExportPath = exportPath
			}
			if cmd.Flags().Changed("report") {
				cfg.Run.ReportPath = reportPath
			}
			if cmd.Flags().Changed("save") {
				cfg.Run.SaveModel = save
			}

			c, err := container.New(cfg)
			if err != nil {
				return err
			}
			defer c.Shutdown()

			out := cmd.OutOrStdout()
			outcome, err := c.Service.Run(cmd.Context(), app.RunRequest{
				Samples:         cfg.Run.Samples,
				ProgressEvery:   cfg.Run.ProgressEvery,
				Seed:            cfg.Run.Seed,
				VariableRange:   cfg.Model.VariableRange,
				OutputRange:     cfg.Model.OutputRange,
				RestoreBaseline: restoreBaseline,
				OnProgress: func(p experiment.Progress) {
					fmt.Fprintf(out, "  %s\n", p)
				},
			})
			if outcome != nil {
				printOutcome(out, outcome)
			}
			if err != nil {
				return err
			}

			if cfg.Run.SaveModel {
				if err := c.SaveModel(); err != nil {
					return err
				}
				fmt.Fprintf(out, "Saved workbook %s\n", cfg.Model.Workbook)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&samples, "samples", 10000, "Number of rows to sample (default $SAMPLES)")
	cmd.Flags().IntVar(&progressEvery, "progress-every", 50, "Report progress every N rows (default $PROGRESS_EVERY)")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Random seed; 0 seeds from the clock (default $SEED)")
	cmd.Flags().StringVar(&exportPath, "export", "", "Result workbook; empty disables export (default $EXPORT_PATH)")
	cmd.Flags().StringVar(&reportPath, "report", "", "Markdown report path; an .html rendering is written next to it")
	cmd.Flags().BoolVar(&restoreBaseline, "restore", false, "Write the baseline back into the workbook once the run ends; otherwise the last sampled row stays")
	cmd.Flags().BoolVar(&save, "save", false, "Save the workbook after the run (default $SAVE_MODEL)")

	return cmd
}

func newInspectCmd(flags *modelFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Show the variable space derived from the specification",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			flags.apply(cfg)
			cfg.Run.ExportPath = ""

			c, err := container.New(cfg)
			if err != nil {
				return err
			}
			defer c.Shutdown()

			insp, err := c.Service.Inspect(cmd.Context(), cfg.Model.VariableRange, cfg.Model.OutputRange)
			if err != nil {
				return err
			}
			printInspection(cmd.OutOrStdout(), insp)
			return nil
		},
	}
}

func newRestoreCmd(flags *modelFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restore [run-id]",
		Short: "Write the baseline recorded with a run back into the workbook and save it",
		Long: `Restore the input cells to the values they held before the given run
sampled them. Needs the PostgreSQL run ledger, since in-memory records do not
outlive the process that made them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := core.ParseRunID(args[0])
			if err != nil {
				return err
			}

			cfg := config.FromEnv()
			flags.apply(cfg)
			if cfg.Database.URL == "" {
				return fmt.Errorf("restore needs DATABASE_URL or --database-url to look up run %s", id)
			}

			c, err := container.New(cfg)
			if err != nil {
				return err
			}
			defer c.Shutdown()

			rec, err := c.Service.Restore(cmd.Context(), id)
			if err != nil {
				return err
			}
			if err := c.SaveModel(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Restored %d inputs from run %s into %s\n", len(rec.Baseline), rec.ID, cfg.Model.Workbook)
			for _, name := range rec.Variables {
				fmt.Fprintf(out, "  %s = %g\n", name, rec.Baseline[name])
			}
			return nil
		},
	}
}

func newRunsCmd(flags *modelFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			flags.apply(cfg)

			c, err := container.New(cfg)
			if err != nil {
				return err
			}
			defer c.Shutdown()

			runs, err := c.Service.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			for _, r := range runs {
				status := "complete"
				if r.Canceled {
					status = "canceled"
				}
				fmt.Fprintf(out, "%s  %s  %d samples, %d ok, %d failed, %dms, %s\n",
					r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Size, r.Succeeded, r.Failed, r.ElapsedMS, status)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	return cmd
}

func printOutcome(w io.Writer, outcome *app.RunOutcome) {
	rec := outcome.Record
	fmt.Fprintf(w, "\n📊 RUN %s\n", rec.ID)
	fmt.Fprintf(w, "Samples: %d, succeeded: %d, failed: %d, elapsed: %dms\n", rec.Size, rec.Succeeded, rec.Failed, rec.ElapsedMS)
	if rec.Canceled {
		fmt.Fprintln(w, "Canceled before all samples were processed")
	}
	if rec.ExportTo != "" {
		fmt.Fprintf(w, "Exported to %s\n", rec.ExportTo)
	}

	if outcome.Report != nil {
		sections := []struct {
			title string
			role  summary.Role
		}{{"Inputs", summary.RoleInput}, {"Outputs", summary.RoleOutput}}
		for _, sec := range sections {
			cols := outcome.Report.ByRole(sec.role)
			if len(cols) == 0 {
				continue
			}
			fmt.Fprintf(w, "\n%s:\n", sec.title)
			for _, c := range cols {
				s := c.Stats
				fmt.Fprintf(w, "  %-20s mean %-12.4g sd %-12.4g p5 %-12.4g p95 %-12.4g\n", c.Name, s.Mean, s.StdDev, s.P5, s.P95)
			}
		}
	}

	if len(outcome.Failures) > 0 {
		fmt.Fprintf(w, "\nMalfunctioning rows: %d\n", len(outcome.Failures))
		for i, f := range outcome.Failures {
			if i == 5 {
				fmt.Fprintf(w, "  ... and %d more\n", len(outcome.Failures)-5)
				break
			}
			fmt.Fprintf(w, "  %v\n", f)
		}
	}
}

func printInspection(w io.Writer, insp *app.Inspection) {
	fmt.Fprintf(w, "Specification %s\n\n", core.Hash(insp.SpecHash).Short())
	fmt.Fprintf(w, "%-20s %10s %10s %10s %8s %8s %8s %10s %10s\n",
		"variable", "left", "mode", "right", "kappa", "alpha", "beta", "mean", "current")
	for _, v := range insp.Variables {
		fmt.Fprintf(w, "%-20s %10.4g %10.4g %10.4g %8.3g %8.3g %8.3g %10.4g %10.4g\n",
			v.Name, v.Left, v.Mode, v.Right, v.Kappa, v.Alpha, v.Beta, v.Mean, v.Baseline)
	}
	fmt.Fprintf(w, "\nOutputs: %s\n", strings.Join(insp.Outputs, ", "))
}

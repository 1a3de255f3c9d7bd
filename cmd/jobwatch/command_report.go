package main

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"jobwatch/internal/render"
	"jobwatch/pkg/metrics"
)

var (
	reportFormat string
	reportSQLite string
)

var reportCmd = &cobra.Command{
	Use:   "report [session]",
	Short: "Show stored session reports",
	Long:  "Without a session id, list the recorded sessions. Reports come from the shared store (--etcd) or a SQLite database (--sqlite).",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if reportSQLite != "" {
			return sqliteReport(cmd, args)
		}
		return storeReport(cmd, args)
	},
}

func registerReportCommand(root *cobra.Command) {
	root.AddCommand(reportCmd)
	reportCmd.Flags().StringVarP(&reportFormat, "format", "o", string(render.FormatTable), "Report format (table/json/yaml)")
	reportCmd.Flags().StringVar(&reportSQLite, "sqlite", "", "Read from this SQLite database instead of the store")
}

func storeReport(cmd *cobra.Command, args []string) error {
	format, err := render.ParseFormat(reportFormat)
	if err != nil {
		return err
	}
	st, err := requireStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	if len(args) == 1 {
		report, err := st.GetReport(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get report %s: %w", args[0], err)
		}
		return render.Report(cmd.OutOrStdout(), report, format)
	}

	reports, err := st.ListReports(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTARTED\tJOBS\tSUCCEEDED\tFAILED\tTIMED OUT\tCANCELLED")
	for _, r := range reports {
		c := r.Counts
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			r.Session, r.StartedAt.Format(time.RFC3339), c.Total, c.Succeeded, c.Failed, c.TimedOut, c.Cancelled)
	}
	return tw.Flush()
}

func sqliteReport(cmd *cobra.Command, args []string) error {
	db, err := metrics.OpenSQLite(reportSQLite)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)

	if len(args) == 1 {
		statuses, err := db.JobStatuses(ctx, args[0])
		if err != nil {
			return err
		}
		if len(statuses) == 0 {
			return fmt.Errorf("no jobs recorded for session %s", args[0])
		}
		names := make([]string, 0, len(statuses))
		for name := range statuses {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintln(tw, "JOB\tSTATUS")
		for _, name := range names {
			fmt.Fprintf(tw, "%s\t%s\n", name, statuses[name])
		}
		return tw.Flush()
	}

	rows, err := db.Sessions(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(tw, "SESSION\tJOBS\tSUCCEEDED\tFAILED\tTIMED OUT\tCANCELLED")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", r.ID, r.Total, r.Succeeded, r.Failed, r.TimedOut, r.Cancelled)
	}
	return tw.Flush()
}

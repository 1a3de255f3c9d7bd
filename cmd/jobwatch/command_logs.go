package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"jobwatch/pkg/model"
)

var logsCmd = &cobra.Command{
	Use:   "logs <handle>",
	Short: "Print the output a cluster worker saved for a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := requireStore()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()

		logs, err := st.GetJobLog(ctx, model.JobHandle(args[0]))
		if err != nil {
			return fmt.Errorf("failed to get logs: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "\n📄 Logs for job [%s]:\n", args[0])
		fmt.Fprintln(out, "================================================")
		fmt.Fprintln(out, logs)
		fmt.Fprintln(out, "================================================")
		return nil
	},
}

func registerLogsCommand(root *cobra.Command) {
	root.AddCommand(logsCmd)
}

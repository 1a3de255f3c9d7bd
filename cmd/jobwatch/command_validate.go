package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"jobwatch/internal/jobset"
	"jobwatch/internal/tracker"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a job set without running it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return validateJobSet(cmd)
	},
}

func registerValidateCommand(root *cobra.Command) {
	root.AddCommand(validateCmd)
	validateCmd.Flags().StringVarP(&jobSetFile, "file", "f", "jobset.yaml", "Job set file (yaml or json)")
}

func validateJobSet(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "□ Validating %s...\n", jobSetFile)

	set, err := jobset.Load(jobSetFile)
	var graphErr *tracker.InvalidGraphError
	if errors.As(err, &graphErr) {
		for _, p := range graphErr.Problems() {
			fmt.Fprintf(out, "  - %v\n", p)
		}
		return fmt.Errorf("%s: %v", jobSetFile, tracker.ErrInvalidGraph)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "✓ %d jobs, concurrency %d, poll every %s, timeout %s\n",
		len(set.Jobs), set.Config.Concurrency, set.Config.PollInterval, set.Config.Timeout)
	return nil
}

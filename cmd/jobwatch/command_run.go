package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"jobwatch/internal/backend"
	"jobwatch/internal/jobset"
	"jobwatch/internal/render"
	"jobwatch/internal/tracker"
	"jobwatch/pkg/metrics"
)

// errSessionFailed makes the process exit non-zero without printing the
// report a second time.
var errSessionFailed = errors.New("session did not succeed")

var (
	jobSetFile      string
	runBackend      string
	runFormat       string
	runSQLite       string
	runKubeconfig   string
	runNamespace    string
	runCleanup      bool
	runConcurrency  int
	runPollInterval time.Duration
	runTimeout      time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a job set and wait for every job to end",
	Long:  "Submit the jobs of a job set to a backend in dependency order, track them to completion and print the session report.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobSet(cmd)
	},
}

func registerRunCommand(root *cobra.Command) {
	root.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&jobSetFile, "file", "f", "jobset.yaml", "Job set file (yaml or json)")
	runCmd.Flags().StringVarP(&runBackend, "backend", "b", string(backend.KindSim), "Backend: sim, docker, kube or cluster")
	runCmd.Flags().StringVarP(&runFormat, "format", "o", string(render.FormatTable), "Report format (table/json/yaml)")
	runCmd.Flags().StringVar(&runSQLite, "sqlite", "", "Also record the report in this SQLite database")
	runCmd.Flags().StringVar(&runKubeconfig, "kubeconfig", "", "Kubeconfig for the kube backend (default in-cluster)")
	runCmd.Flags().StringVarP(&runNamespace, "namespace", "n", "default", "Namespace for the kube backend")
	runCmd.Flags().BoolVar(&runCleanup, "cleanup", false, "Remove finished containers afterwards (docker backend)")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "Override tracker.concurrency")
	runCmd.Flags().DurationVar(&runPollInterval, "poll-interval", 0, "Override tracker.pollInterval")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Override tracker.timeout")
}

func runJobSet(cmd *cobra.Command) error {
	format, err := render.ParseFormat(runFormat)
	if err != nil {
		return err
	}
	set, err := jobset.Load(jobSetFile)
	if err != nil {
		return err
	}

	cfg := set.Config
	flags := cmd.Flags()
	if flags.Changed("concurrency") {
		cfg.Concurrency = runConcurrency
	}
	if flags.Changed("poll-interval") {
		cfg.PollInterval = runPollInterval
	}
	if flags.Changed("timeout") {
		cfg.Timeout = runTimeout
	}
	cfg.Session = uuid.NewString()

	st, err := openStore()
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}

	factory, err := backend.NewFactory(backend.Config{
		Kind:       backend.Kind(runBackend),
		Kubeconfig: runKubeconfig,
		Namespace:  runNamespace,
		Store:      st,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	gw, err := factory.Gateway(cfg.Session)
	if err != nil {
		return err
	}

	emitters := metrics.Multi{metrics.NewLogEmitter(logger)}
	if st != nil {
		emitters = append(emitters, metrics.NewStoreEmitter(st))
	}
	if runSQLite != "" {
		db, err := metrics.OpenSQLite(runSQLite)
		if err != nil {
			return err
		}
		defer db.Close()
		emitters = append(emitters, db)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stderr := cmd.ErrOrStderr()
	fmt.Fprintf(stderr, "🚀 Session %s: %d jobs on %s (concurrency %d)\n", cfg.Session, len(set.Jobs), factory.Kind(), cfg.Concurrency)

	tr := tracker.New(gw, emitters, cfg, tracker.WithLogger(logger))
	report, err := tr.Start(ctx, set.Jobs)
	if err != nil {
		return err
	}

	if runCleanup {
		if err := cleanup(gw); err != nil {
			logger.Warn("cleanup failed", zap.Error(err))
		}
	}

	if err := render.Report(cmd.OutOrStdout(), report, format); err != nil {
		return err
	}
	if !report.Succeeded() {
		fmt.Fprintf(stderr, "❌ Session %s finished with %d failed, %d timed out, %d cancelled\n",
			report.Session, report.Counts.Failed, report.Counts.TimedOut, report.Counts.Cancelled)
		return errSessionFailed
	}
	fmt.Fprintf(stderr, "✅ Session %s succeeded in %s\n", report.Session, report.Duration.Round(time.Millisecond))
	return nil
}

type cleaner interface {
	Cleanup(ctx context.Context) error
}

func cleanup(gw any) error {
	c, ok := gw.(cleaner)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return c.Cleanup(ctx)
}

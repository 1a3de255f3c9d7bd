package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"jobwatch/pkg/store"
)

var (
	debugMode     bool
	etcdEndpoints []string
	logger        = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:           "jobwatch",
	Short:         "Track async jobs to completion",
	Long:          "jobwatch submits a set of interdependent jobs to a backend, polls them until every one ends and reports the outcome",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := newLogger(debugMode)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringSliceVar(&etcdEndpoints, "etcd", nil, "etcd endpoints for the shared store (comma separated)")

	registerRunCommand(rootCmd)
	registerValidateCommand(rootCmd)
	registerReportCommand(rootCmd)
	registerLogsCommand(rootCmd)
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

// openStore connects to etcd when endpoints were given. A nil store means
// the command runs without one.
func openStore() (store.Store, error) {
	if len(etcdEndpoints) == 0 {
		return nil, nil
	}
	s, err := store.NewEtcdManager(etcdEndpoints, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return s, nil
}

func requireStore() (store.Store, error) {
	s, err := openStore()
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("--etcd is required")
	}
	return s, nil
}

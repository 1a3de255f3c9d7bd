package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"jobwatch/internal/api"
	"jobwatch/internal/backend"
	"jobwatch/internal/master/scheduler"
	"jobwatch/pkg/metrics"
	"jobwatch/pkg/store"
)

var (
	etcdEndpoints []string
	listenAddr    string
	backendKind   string
	kubeconfig    string
	namespace     string
	sqlitePath    string
	resync        time.Duration
	debugMode     bool
)

var rootCmd = &cobra.Command{
	Use:          "master",
	Short:        "Schedule cluster jobs and serve the session API",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMaster()
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringSliceVar(&etcdEndpoints, "etcd", []string{"localhost:2379"}, "etcd endpoints")
	flags.StringVar(&listenAddr, "listen", ":8080", "HTTP listen address")
	flags.StringVar(&backendKind, "backend", string(backend.KindCluster), "Backend for API sessions: sim, docker, kube or cluster")
	flags.StringVar(&kubeconfig, "kubeconfig", "", "Kubeconfig for the kube backend (default in-cluster)")
	flags.StringVar(&namespace, "namespace", "default", "Namespace for the kube backend")
	flags.StringVar(&sqlitePath, "sqlite", "", "Also record session reports in this SQLite database")
	flags.DurationVar(&resync, "resync", scheduler.DefaultResync, "Interval between scheduling passes over unplaced jobs")
	flags.BoolVar(&debugMode, "debug", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMaster() error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	etcdManager, err := store.NewEtcdManager(etcdEndpoints, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to etcd: %w", err)
	}
	defer etcdManager.Close()
	logger.Info("connected to etcd", zap.Strings("endpoints", etcdEndpoints))

	factory, err := backend.NewFactory(backend.Config{
		Kind:       backend.Kind(backendKind),
		Kubeconfig: kubeconfig,
		Namespace:  namespace,
		Store:      etcdManager,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	emitters := metrics.Multi{metrics.NewLogEmitter(logger), metrics.NewStoreEmitter(etcdManager)}
	if sqlitePath != "" {
		db, err := metrics.OpenSQLite(sqlitePath)
		if err != nil {
			return err
		}
		defer db.Close()
		emitters = append(emitters, db)
	}

	manager := api.NewManager(factory.Gateway,
		api.WithEmitter(emitters),
		api.WithReports(etcdManager),
		api.WithLogger(logger))
	server := api.NewServer(manager, listenAddr, logger)
	sched := scheduler.NewScheduler(etcdManager, scheduler.WithLogger(logger), scheduler.WithResync(resync))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	err = server.Run(ctx)
	stop()
	wg.Wait()
	logger.Info("master stopped")
	return err
}

func newLogger() (*zap.Logger, error) {
	if debugMode {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

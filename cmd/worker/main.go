package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/api/resource"

	"jobwatch/internal/worker"
	"jobwatch/internal/worker/executor"
	"jobwatch/pkg/model"
	"jobwatch/pkg/store"
)

var (
	etcdEndpoints []string
	nodeID        string
	address       string
	cpu           string
	memory        string
	heartbeat     time.Duration
	debugMode     bool
)

var rootCmd = &cobra.Command{
	Use:          "worker",
	Short:        "Run cluster jobs bound to this node",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker()
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringSliceVar(&etcdEndpoints, "etcd", []string{"localhost:2379"}, "etcd endpoints")
	flags.StringVar(&nodeID, "id", "", "Node id (default hostname)")
	flags.StringVar(&address, "address", "127.0.0.1", "Address advertised for this node")
	flags.StringVar(&cpu, "cpu", "4", "CPU capacity offered to jobs")
	flags.StringVar(&memory, "memory", "8Gi", "Memory capacity offered to jobs")
	flags.DurationVar(&heartbeat, "heartbeat", worker.DefaultHeartbeat, "Node heartbeat interval")
	flags.BoolVar(&debugMode, "debug", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runWorker() error {
	capacity, err := parseCapacity(cpu, memory)
	if err != nil {
		return err
	}

	var logger *zap.Logger
	if debugMode {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return err
	}
	defer logger.Sync()

	etcdManager, err := store.NewEtcdManager(etcdEndpoints, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to etcd: %w", err)
	}
	defer etcdManager.Close()

	exec, err := executor.NewDockerExecutor(logger)
	if err != nil {
		return fmt.Errorf("failed to create docker client: %w", err)
	}

	agent := worker.NewAgent(etcdManager, exec,
		worker.WithID(nodeID),
		worker.WithAddress(address),
		worker.WithCapacity(capacity),
		worker.WithHeartbeat(heartbeat),
		worker.WithLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	agent.Run(ctx)
	logger.Info("worker stopped")
	return nil
}

func parseCapacity(cpu, memory string) (model.Resource, error) {
	c, err := resource.ParseQuantity(cpu)
	if err != nil {
		return model.Resource{}, fmt.Errorf("--cpu %q: %w", cpu, err)
	}
	m, err := resource.ParseQuantity(memory)
	if err != nil {
		return model.Resource{}, fmt.Errorf("--memory %q: %w", memory, err)
	}
	return model.Resource{MilliCPU: c.MilliValue(), Memory: m.Value()}, nil
}

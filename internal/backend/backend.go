// Package backend picks the gateway implementation a session runs on.
package backend

import (
	"errors"
	"fmt"
	"strings"

	"github.com/docker/docker/client"
	"go.uber.org/zap"
	"k8s.io/client-go/kubernetes"

	"jobwatch/pkg/gateway"
	"jobwatch/pkg/gateway/cluster"
	"jobwatch/pkg/gateway/docker"
	"jobwatch/pkg/gateway/kube"
	"jobwatch/pkg/gateway/sim"
	"jobwatch/pkg/store"
)

type Kind string

const (
	KindSim     Kind = "sim"
	KindDocker  Kind = "docker"
	KindKube    Kind = "kube"
	KindCluster Kind = "cluster"
)

// Kinds lists the accepted backend names.
var Kinds = []Kind{KindSim, KindDocker, KindKube, KindCluster}

type Config struct {
	Kind       Kind
	Kubeconfig string // empty means in-cluster
	Namespace  string
	Store      store.Store // required by the cluster backend

	// Pre-built clients, mostly for tests. Built from the environment
	// when nil.
	Docker client.APIClient
	Kube   kubernetes.Interface

	Logger *zap.Logger
}

// Factory hands out one gateway per session over shared clients.
type Factory struct {
	cfg Config
}

// NewFactory checks cfg and connects the clients the backend needs.
func NewFactory(cfg Config) (*Factory, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	cfg.Kind = Kind(strings.ToLower(string(cfg.Kind)))

	switch cfg.Kind {
	case KindSim:
	case KindDocker:
		if cfg.Docker == nil {
			cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
			if err != nil {
				return nil, fmt.Errorf("docker client: %w", err)
			}
			cfg.Docker = cli
		}
	case KindKube:
		if cfg.Kube == nil {
			cs, err := kube.NewClientset(cfg.Kubeconfig)
			if err != nil {
				return nil, err
			}
			cfg.Kube = cs
		}
	case KindCluster:
		if cfg.Store == nil {
			return nil, errors.New("cluster backend needs a store (--etcd)")
		}
	default:
		return nil, fmt.Errorf("unknown backend %q (one of %v)", cfg.Kind, Kinds)
	}
	return &Factory{cfg: cfg}, nil
}

func (f *Factory) Kind() Kind { return f.cfg.Kind }

// Gateway returns a gateway whose jobs are tagged with session.
func (f *Factory) Gateway(session string) (gateway.Gateway, error) {
	logger := f.cfg.Logger.With(zap.String("session", session))
	switch f.cfg.Kind {
	case KindSim:
		return sim.New(sim.Behavior{Polls: 2}), nil
	case KindDocker:
		return docker.New(f.cfg.Docker, docker.WithSession(session), docker.WithLogger(logger)), nil
	case KindKube:
		return kube.New(f.cfg.Kube,
			kube.WithNamespace(f.cfg.Namespace),
			kube.WithInstance(session),
			kube.WithLogger(logger)), nil
	case KindCluster:
		return cluster.New(f.cfg.Store, cluster.WithSession(session), cluster.WithLogger(logger)), nil
	}
	return nil, fmt.Errorf("unknown backend %q", f.cfg.Kind)
}

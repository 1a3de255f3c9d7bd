package backend

import (
	"testing"

	"gotest.tools/v3/assert"
	"k8s.io/client-go/kubernetes/fake"

	"jobwatch/pkg/gateway"
	"jobwatch/pkg/gateway/cluster"
	"jobwatch/pkg/gateway/docker"
	"jobwatch/pkg/gateway/docker/dockertest"
	"jobwatch/pkg/gateway/kube"
	"jobwatch/pkg/gateway/sim"
	"jobwatch/pkg/store"
)

func TestGatewayPerKind(t *testing.T) {
	daemon := dockertest.New(t)
	cases := []struct {
		cfg   Config
		check func(gateway.Gateway) bool
	}{
		{Config{Kind: "SIM"}, func(g gateway.Gateway) bool { _, ok := g.(*sim.Gateway); return ok }},
		{Config{Kind: KindDocker, Docker: daemon.Client(t)}, func(g gateway.Gateway) bool { _, ok := g.(*docker.Gateway); return ok }},
		{Config{Kind: KindKube, Kube: fake.NewSimpleClientset()}, func(g gateway.Gateway) bool { _, ok := g.(*kube.Gateway); return ok }},
		{Config{Kind: KindCluster, Store: store.NewMemory()}, func(g gateway.Gateway) bool { _, ok := g.(*cluster.Gateway); return ok }},
	}
	for _, tc := range cases {
		t.Run(string(tc.cfg.Kind), func(t *testing.T) {
			f, err := NewFactory(tc.cfg)
			assert.NilError(t, err)
			gw, err := f.Gateway("s-1")
			assert.NilError(t, err)
			assert.Check(t, tc.check(gw), "got %T", gw)
		})
	}
}

func TestFactoryErrors(t *testing.T) {
	_, err := NewFactory(Config{Kind: "slurm"})
	assert.ErrorContains(t, err, `unknown backend "slurm"`)

	_, err = NewFactory(Config{Kind: KindCluster})
	assert.ErrorContains(t, err, "needs a store")
}

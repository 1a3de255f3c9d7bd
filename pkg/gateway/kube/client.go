package kube

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

// NewClientset builds a clientset from kubeconfig. An empty path means
// in-cluster configuration; a leading "~/" expands to the home directory.
func NewClientset(kubeconfig string) (kubernetes.Interface, error) {
	var (
		config *rest.Config
		err    error
	)

	if kubeconfig == "" {
		config, err = rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("in-cluster config: %w", err)
		}
	} else {
		if strings.HasPrefix(kubeconfig, "~/") {
			home := homedir.HomeDir()
			if home == "" {
				return nil, fmt.Errorf("could not locate home directory for kubeconfig")
			}
			kubeconfig = filepath.Join(home, kubeconfig[2:])
		}
		if _, err := os.Stat(kubeconfig); err != nil {
			return nil, fmt.Errorf("kubeconfig: %w", err)
		}
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build config from kubeconfig %s: %w", kubeconfig, err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}
	return clientset, nil
}

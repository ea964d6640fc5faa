package k8s

import (
	"context"
	"os"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/reproserver/reproserver/pkg/types"
)

// Launcher schedules a worker pod for each run. Supervision of the pod is
// the Supervisor's job, so Launch returns as soon as the objects exist.
type Launcher struct {
	scheduler *Scheduler
}

// NewLauncher creates a Launcher around the given scheduler.
func NewLauncher(scheduler *Scheduler) *Launcher {
	return &Launcher{scheduler: scheduler}
}

func (l *Launcher) Launch(ctx context.Context, info *types.RunInfo) error {
	return l.scheduler.CreateRun(ctx, info)
}

func (l *Launcher) Detached() bool {
	return true
}

// NewClient builds a clientset from the in-cluster service account, falling
// back to the kubeconfig named by KUBECONFIG for development.
func NewClient() (kubernetes.Interface, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := os.Getenv("KUBECONFIG")
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, err
		}
	}
	return kubernetes.NewForConfig(cfg)
}

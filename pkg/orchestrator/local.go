package orchestrator

import (
	"context"

	"github.com/reproserver/reproserver/pkg/runner"
	"github.com/reproserver/reproserver/pkg/types"
)

// LocalLauncher runs the docker driver in this process. Container ports are
// published on all interfaces so the proxy can reach them.
type LocalLauncher struct {
	driver *runner.Driver
}

// NewLocalLauncher creates a LocalLauncher around the given driver.
func NewLocalLauncher(driver *runner.Driver) *LocalLauncher {
	return &LocalLauncher{driver: driver}
}

func (l *LocalLauncher) Launch(ctx context.Context, info *types.RunInfo) error {
	return l.driver.Run(ctx, info, "0.0.0.0")
}

func (l *LocalLauncher) Detached() bool {
	return false
}

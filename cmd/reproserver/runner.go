package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/reproserver/reproserver/pkg/config"
	"github.com/reproserver/reproserver/pkg/connector"
	"github.com/reproserver/reproserver/pkg/log"
	"github.com/reproserver/reproserver/pkg/proxy"
	"github.com/reproserver/reproserver/pkg/runner"
)

var runnerCmd = &cobra.Command{
	Use:   "runner <run-id>",
	Short: "Execute one run inside a worker pod, then exit",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunner,
}

func runRunner(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)

	runID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid run id %q", args[0])
	}

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if cfg.APIEndpoint == "" {
		return fmt.Errorf("API_ENDPOINT is required")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	conn := connector.NewHTTP(cfg.APIEndpoint, cfg.ConnectionToken)

	// Sidecar proxy for web traffic into the experiment. It stays up as
	// long as the pod does, even after the run finished.
	go func() {
		internal := proxy.NewInternal(cfg.ConnectionToken, Version)
		addr := fmt.Sprintf(":%d", proxy.ProxyPort)
		log.Info(fmt.Sprintf("In-pod proxy listening on %s", addr))
		if err := http.ListenAndServe(addr, internal); err != nil {
			log.Errorf("In-pod proxy stopped", err)
		}
	}()

	if err := runner.WaitForDocker(ctx); err != nil {
		reportFailure(ctx, conn, runID, "Internal error")
		return err
	}

	info, err := conn.InitRunGetInfo(ctx, runID)
	if err != nil {
		reportFailure(ctx, conn, runID, "Internal error")
		return fmt.Errorf("initializing run %d: %v", runID, err)
	}

	driver := runner.NewDriver(
		conn, runner.DefaultToolsDir,
		runner.FeatureContainers, runner.FeaturePorts,
	)
	if err := driver.Run(ctx, info, "127.0.0.1"); err != nil {
		reportFailure(ctx, conn, runID, err.Error())
		return err
	}
	return nil
}

// reportFailure records the failure on a best-effort basis, the pod
// supervisor catches anything that slips through.
func reportFailure(ctx context.Context, conn connector.Connector, runID int64, message string) {
	if err := conn.RunFailed(ctx, runID, message); err != nil {
		log.Errorf("Reporting run failure", err)
	}
}

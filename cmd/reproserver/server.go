package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/reproserver/reproserver/pkg/api"
	"github.com/reproserver/reproserver/pkg/config"
	"github.com/reproserver/reproserver/pkg/connector"
	"github.com/reproserver/reproserver/pkg/k8s"
	"github.com/reproserver/reproserver/pkg/log"
	"github.com/reproserver/reproserver/pkg/metrics"
	"github.com/reproserver/reproserver/pkg/objectstore"
	"github.com/reproserver/reproserver/pkg/orchestrator"
	"github.com/reproserver/reproserver/pkg/proxy"
	"github.com/reproserver/reproserver/pkg/runner"
	"github.com/reproserver/reproserver/pkg/storage"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the control plane: runner API, orchestrator, pod supervisor",
	RunE:  runServer,
}

func runServer(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("opening database: %v", err)
	}
	defer store.Close()

	objects, err := objectstore.New(objectstore.Config{
		URL:          cfg.S3URL,
		ClientURL:    cfg.S3ClientURL,
		AccessKey:    cfg.S3Key,
		SecretKey:    cfg.S3Secret,
		BucketPrefix: cfg.S3BucketPrefix,
	})
	if err != nil {
		return fmt.Errorf("connecting to object store: %v", err)
	}
	if err := objects.EnsureBuckets(context.Background()); err != nil {
		return fmt.Errorf("preparing buckets: %v", err)
	}

	conn := connector.NewDirect(store, objects)
	inFlight := orchestrator.NewInFlight()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var launcher orchestrator.Launcher
	switch cfg.RunnerType {
	case config.RunnerK8s:
		client, err := k8s.NewClient()
		if err != nil {
			return fmt.Errorf("connecting to cluster: %v", err)
		}
		sched := k8s.NewScheduler(client, k8s.SchedulerConfig{
			Namespace:     cfg.RunNamespace,
			NamePrefix:    cfg.RunNamePrefix,
			Labels:        cfg.RunLabels,
			ConfigDir:     cfg.K8sConfigDir,
			OverrideImage: cfg.OverrideRunnerImage,
		})
		sup := k8s.NewSupervisor(
			client, cfg.RunNamespace, cfg.RunLabels,
			sched, conn, store, inFlight,
		)
		go func() {
			if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
				log.Errorf("Supervisor stopped", err)
			}
		}()
		launcher = k8s.NewLauncher(sched)
	default:
		driver := runner.NewDriver(
			conn, runner.DefaultToolsDir,
			runner.FeatureContainers, runner.FeaturePorts,
		)
		launcher = orchestrator.NewLocalLauncher(driver)
	}

	orch := orchestrator.New(conn, launcher, inFlight)

	health := proxy.NewHealth()
	mux := chi.NewRouter()
	mux.Mount("/", api.NewServer(conn, store, cfg.ConnectionToken).Router())
	mux.Handle("/metrics", metrics.Handler())

	// Stand-in for the web frontend: lets operators trigger a run directly
	mux.Post("/runs/{id}/run", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(connector.AuthHeader) != cfg.ConnectionToken {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "Invalid run id", http.StatusBadRequest)
			return
		}
		if err := orch.Run(r.Context(), id); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	server := &http.Server{
		Addr:    cfg.WebListen,
		Handler: proxy.WithHealth(health, mux),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(fmt.Sprintf("Listening on %s", cfg.WebListen))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info(fmt.Sprintf("Got signal %v, draining", sig))
	}

	// Flip health to 503 and give the load balancer time to notice, then
	// let in-flight requests and runs finish
	health.SetDraining()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTime)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Shutdown error", err)
	}
	cancel()
	orch.Wait()
	return nil
}

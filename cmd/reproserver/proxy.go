package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/reproserver/reproserver/pkg/config"
	"github.com/reproserver/reproserver/pkg/log"
	"github.com/reproserver/reproserver/pkg/proxy"
	"github.com/reproserver/reproserver/pkg/shortid"
)

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Run the public-facing proxy for web applications inside runs",
	RunE:  runProxy,
}

func runProxy(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if cfg.ShortIDsSalt == "" {
		return fmt.Errorf("SHORTIDS_SALT is required")
	}

	ids := shortid.NewMulti(cfg.ShortIDsSalt, 5)
	decode := func(shortID string) (int64, error) {
		return ids.Decode("run", shortID)
	}

	var targetAddr proxy.TargetAddr
	var token string
	switch cfg.RunnerType {
	case config.RunnerK8s:
		targetAddr = proxy.K8sTargetAddr(cfg.RunNamePrefix)
		token = cfg.ConnectionToken
	default:
		// Docker publishes run ports on the host, no in-pod proxy to
		// authenticate against
		targetAddr = proxy.DockerTargetAddr(cfg.DockerRunsHost)
	}

	health := proxy.NewHealth()
	server := &http.Server{
		Addr: cfg.ProxyListen,
		Handler: proxy.WithHealth(
			health,
			proxy.NewExternal(decode, targetAddr, token, Version),
		),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(fmt.Sprintf("Proxy listening on %s", cfg.ProxyListen))
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

	health.SetDraining()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTime)
	defer cancel()
	return server.Shutdown(ctx)
}

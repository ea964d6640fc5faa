package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "/data", cfg.DataDir)
	assert.Equal(t, RunnerDocker, cfg.RunnerType)
	assert.Equal(t, "run-", cfg.RunNamePrefix)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTime)
}

func TestFromEnvRunLabels(t *testing.T) {
	t.Setenv("RUN_LABELS", "app: reproserver\ntier: runs")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"app": "reproserver", "tier": "runs"}, cfg.RunLabels)
}

func TestFromEnvBadRunLabels(t *testing.T) {
	t.Setenv("RUN_LABELS", "[not, a, mapping]")
	_, err := FromEnv()
	assert.Error(t, err)
}

func TestFromEnvRunnerType(t *testing.T) {
	t.Setenv("RUNNER_TYPE", "k8s")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, RunnerK8s, cfg.RunnerType)

	t.Setenv("RUNNER_TYPE", "mesos")
	_, err = FromEnv()
	assert.Error(t, err)
}

func TestShutdownTime(t *testing.T) {
	t.Setenv("SHUTDOWN_TIME", "5")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTime)
}

func TestShutdownTimeLegacyName(t *testing.T) {
	t.Setenv("TORNADO_SHUTDOWN_TIME", "12")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 12*time.Second, cfg.ShutdownTime)
}

func TestShutdownTimeInvalid(t *testing.T) {
	t.Setenv("SHUTDOWN_TIME", "soon")
	_, err := FromEnv()
	assert.Error(t, err)
}

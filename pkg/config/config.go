package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Runner selects how runs are executed.
const (
	RunnerDocker = "docker" // docker CLI against the local daemon
	RunnerK8s    = "k8s"    // one pod per run in a Kubernetes cluster
)

// Config holds all process configuration, read from the environment.
type Config struct {
	// DataDir is where the embedded database lives.
	DataDir string

	// ConnectionToken is the shared secret between the control plane,
	// worker pods, and the in-pod proxy.
	ConnectionToken string

	// APIEndpoint is the base URL worker pods use to reach the runner API.
	APIEndpoint string

	// RunnerType selects the run launcher, "docker" or "k8s".
	RunnerType string

	// OverrideRunnerImage replaces the image of the runner container in
	// the pod template when set.
	OverrideRunnerImage string

	// K8sConfigDir is the directory holding the runner pod template
	// (runner-pod-spec.yaml).
	K8sConfigDir string

	// RunNamespace is the namespace runs are created in.
	RunNamespace string

	// RunNamePrefix is prepended to the run id to form pod and service
	// names.
	RunNamePrefix string

	// RunLabels are extra labels applied to each run pod, parsed from a
	// YAML mapping.
	RunLabels map[string]string

	// ShutdownTime is how long to keep serving after SIGTERM while the
	// load balancer drains.
	ShutdownTime time.Duration

	// ShortIDsSalt seeds the short id permutation. Changing it breaks
	// every published URL.
	ShortIDsSalt string

	// WebProxyDomain is the base domain for hostname-based proxy
	// addressing, e.g. "web.example.org".
	WebProxyDomain string

	// DockerRunsHost is the host where run ports are published when
	// running against a local docker daemon.
	DockerRunsHost string

	// Object store connection.
	S3URL          string
	S3ClientURL    string
	S3Key          string
	S3Secret       string
	S3BucketPrefix string

	// Listen addresses.
	WebListen   string
	ProxyListen string
}

// FromEnv reads configuration from the environment. Missing required
// variables are an error; optional ones get defaults.
func FromEnv() (*Config, error) {
	cfg := &Config{
		DataDir:             envDefault("DATA_DIR", "/data"),
		ConnectionToken:     os.Getenv("CONNECTION_TOKEN"),
		APIEndpoint:         os.Getenv("API_ENDPOINT"),
		RunnerType:          envDefault("RUNNER_TYPE", RunnerDocker),
		OverrideRunnerImage: os.Getenv("OVERRIDE_RUNNER_IMAGE"),
		K8sConfigDir:        envDefault("K8S_CONFIG_DIR", "/etc/reproserver-k8s"),
		RunNamespace:        envDefault("RUN_NAMESPACE", "default"),
		RunNamePrefix:       envDefault("RUN_NAME_PREFIX", "run-"),
		ShortIDsSalt:        os.Getenv("SHORTIDS_SALT"),
		WebProxyDomain:      os.Getenv("WEB_PROXY_DOMAIN"),
		DockerRunsHost:      envDefault("DOCKER_RUNS_HOST", "localhost"),
		S3URL:               os.Getenv("S3_URL"),
		S3ClientURL:         os.Getenv("S3_CLIENT_URL"),
		S3Key:               os.Getenv("S3_KEY"),
		S3Secret:            os.Getenv("S3_SECRET"),
		S3BucketPrefix:      os.Getenv("S3_BUCKET_PREFIX"),
		WebListen:           envDefault("WEB_LISTEN", ":8000"),
		ProxyListen:         envDefault("PROXY_LISTEN", ":8001"),
	}

	if cfg.RunnerType != RunnerDocker && cfg.RunnerType != RunnerK8s {
		return nil, fmt.Errorf("unknown RUNNER_TYPE %q", cfg.RunnerType)
	}

	shutdown, err := shutdownTime()
	if err != nil {
		return nil, err
	}
	cfg.ShutdownTime = shutdown

	if labels := os.Getenv("RUN_LABELS"); labels != "" {
		if err := yaml.Unmarshal([]byte(labels), &cfg.RunLabels); err != nil {
			return nil, fmt.Errorf("parsing RUN_LABELS: %w", err)
		}
	}

	return cfg, nil
}

// shutdownTime reads SHUTDOWN_TIME, falling back to the name the previous
// deployment used.
func shutdownTime() (time.Duration, error) {
	value := os.Getenv("SHUTDOWN_TIME")
	if value == "" {
		value = os.Getenv("TORNADO_SHUTDOWN_TIME")
	}
	if value == "" {
		return 30 * time.Second, nil
	}
	seconds, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parsing SHUTDOWN_TIME: %w", err)
	}
	return time.Duration(seconds) * time.Second, nil
}

func envDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

package k8s

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/apimachinery/pkg/util/yaml"
	"k8s.io/client-go/kubernetes"

	"github.com/reproserver/reproserver/pkg/log"
	"github.com/reproserver/reproserver/pkg/runner"
	"github.com/reproserver/reproserver/pkg/types"
)

// RunLabel is the pod label carrying the numeric run id.
const RunLabel = "run"

// ProxyPort is the port every run service exposes, served by the sidecar
// proxy inside the pod.
const ProxyPort = 5597

// RunnerContainerName is the container in the pod template that executes
// the run.
const RunnerContainerName = "runner"

// Scheduler creates the worker pod and companion service for a run.
type Scheduler struct {
	client        kubernetes.Interface
	namespace     string
	namePrefix    string
	labels        map[string]string
	configDir     string
	overrideImage string
}

// SchedulerConfig collects the operator-supplied settings.
type SchedulerConfig struct {
	Namespace     string
	NamePrefix    string
	Labels        map[string]string
	ConfigDir     string
	OverrideImage string
}

// NewScheduler creates a Scheduler.
func NewScheduler(client kubernetes.Interface, cfg SchedulerConfig) *Scheduler {
	return &Scheduler{
		client:        client,
		namespace:     cfg.Namespace,
		namePrefix:    cfg.NamePrefix,
		labels:        cfg.Labels,
		configDir:     cfg.ConfigDir,
		overrideImage: cfg.OverrideImage,
	}
}

// ObjectName returns the name shared by a run's pod and service.
func (s *Scheduler) ObjectName(runID int64) string {
	return s.namePrefix + strconv.FormatInt(runID, 10)
}

// runLabels returns the operator labels plus the per-run selector label.
func (s *Scheduler) runLabels(runID int64) map[string]string {
	labels := make(map[string]string, len(s.labels)+1)
	for name, value := range s.labels {
		labels[name] = value
	}
	labels[RunLabel] = strconv.FormatInt(runID, 10)
	return labels
}

// CreateRun creates the worker pod from the operator template and a service
// exposing the in-pod proxy port.
func (s *Scheduler) CreateRun(ctx context.Context, info *types.RunInfo) error {
	extra, err := runner.ParseExtraConfig(info.ExtraConfig)
	if err != nil {
		return err
	}

	spec, err := s.loadPodSpec(info.ID, extra)
	if err != nil {
		return err
	}

	name := s.ObjectName(info.ID)
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: s.runLabels(info.ID),
		},
		Spec: *spec,
	}
	if _, err := s.client.CoreV1().Pods(s.namespace).Create(ctx, pod, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("creating pod: %w", err)
	}
	log.WithRunID(info.ID).Info().Str("pod", name).Msg("Pod created")

	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: s.runLabels(info.ID),
		},
		Spec: corev1.ServiceSpec{
			Selector: s.runLabels(info.ID),
			Ports: []corev1.ServicePort{
				{
					Protocol:   corev1.ProtocolTCP,
					Port:       ProxyPort,
					TargetPort: intstr.FromInt(ProxyPort),
				},
			},
		},
	}
	if _, err := s.client.CoreV1().Services(s.namespace).Create(ctx, svc, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("creating service: %w", err)
	}
	log.WithRunID(info.ID).Info().Str("service", name).Msg("Service created")
	return nil
}

// DeleteRun removes the run's pod and service, tolerating objects that are
// already gone.
func (s *Scheduler) DeleteRun(ctx context.Context, runID int64) error {
	name := s.ObjectName(runID)
	err := s.client.CoreV1().Pods(s.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("deleting pod: %w", err)
	}
	err = s.client.CoreV1().Services(s.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("deleting service: %w", err)
	}
	return nil
}

// loadPodSpec reads the operator pod template and applies the per-run
// changes: run id argument, image override, recognised extra_config
// sidecars and ports.
func (s *Scheduler) loadPodSpec(runID int64, extra *types.ExtraConfig) (*corev1.PodSpec, error) {
	data, err := os.ReadFile(filepath.Join(s.configDir, "runner-pod-spec.yaml"))
	if err != nil {
		return nil, fmt.Errorf("reading pod template: %w", err)
	}
	var spec corev1.PodSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing pod template: %w", err)
	}

	found := false
	for i := range spec.Containers {
		if spec.Containers[i].Name != RunnerContainerName {
			continue
		}
		found = true
		spec.Containers[i].Args = append(
			spec.Containers[i].Args,
			strconv.FormatInt(runID, 10),
		)
		if s.overrideImage != "" {
			spec.Containers[i].Image = s.overrideImage
		}
	}
	if !found {
		return nil, fmt.Errorf("pod template has no %q container", RunnerContainerName)
	}

	for _, sidecar := range extra.Containers {
		container := corev1.Container{
			Name:    sidecar.Name,
			Image:   sidecar.Image,
			Command: sidecar.Command,
			Args:    sidecar.Args,
		}
		for _, env := range sidecar.Env {
			container.Env = append(container.Env, corev1.EnvVar{
				Name:  env.Name,
				Value: env.Value,
			})
		}
		spec.Containers = append(spec.Containers, container)
	}

	for _, port := range extra.Ports {
		target := RunnerContainerName
		if port.Container != "" {
			target = port.Container
		}
		for i := range spec.Containers {
			if spec.Containers[i].Name == target {
				spec.Containers[i].Ports = append(spec.Containers[i].Ports, corev1.ContainerPort{
					Name:          port.Name,
					ContainerPort: int32(port.ContainerPort),
				})
			}
		}
	}

	return &spec, nil
}

package k8s

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"

	"github.com/reproserver/reproserver/pkg/connector"
	"github.com/reproserver/reproserver/pkg/log"
	"github.com/reproserver/reproserver/pkg/orchestrator"
	"github.com/reproserver/reproserver/pkg/storage"
)

// logTailLines is how much of a failed container's log gets captured.
const logTailLines = 300

// Supervisor watches run pods and reconciles their terminal state back into
// the run records. It owns the in-flight entries of cluster runs.
type Supervisor struct {
	client      kubernetes.Interface
	namespace   string
	labels      map[string]string
	scheduler   *Scheduler
	conn        connector.Connector
	store       storage.Store
	inFlight    *orchestrator.InFlight
	deleteDelay time.Duration
}

// NewSupervisor creates a Supervisor sharing the orchestrator's in-flight
// set. labels is the operator selector, without the per-run label.
func NewSupervisor(
	client kubernetes.Interface,
	namespace string,
	labels map[string]string,
	scheduler *Scheduler,
	conn connector.Connector,
	store storage.Store,
	inFlight *orchestrator.InFlight,
) *Supervisor {
	return &Supervisor{
		client:      client,
		namespace:   namespace,
		labels:      labels,
		scheduler:   scheduler,
		conn:        conn,
		store:       store,
		inFlight:    inFlight,
		deleteDelay: 60 * time.Second,
	}
}

// selector renders the operator labels as a watch selector.
func (s *Supervisor) selector() string {
	parts := make([]string, 0, len(s.labels))
	for name, value := range s.labels {
		parts = append(parts, name+"="+value)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// Run performs the full sync then watches for pod changes until ctx ends.
// The watch is restarted on disconnect and on expired history.
func (s *Supervisor) Run(ctx context.Context) error {
	logger := log.WithComponent("supervisor")

	resourceVersion, err := s.fullSync(ctx)
	if err != nil {
		return err
	}

	for {
		w, err := s.client.CoreV1().Pods(s.namespace).Watch(ctx, metav1.ListOptions{
			LabelSelector:   s.selector(),
			ResourceVersion: resourceVersion,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn().Err(err).Msg("Pod watch failed, restarting")
			resourceVersion = ""
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		resourceVersion = s.consume(ctx, w)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Info().Msg("Pod watch ended, restarting")
	}
}

// consume drains one watch stream, returning the resource version to resume
// from. An empty version forces a fresh list on 410 or decode trouble.
func (s *Supervisor) consume(ctx context.Context, w watch.Interface) string {
	defer w.Stop()
	logger := log.WithComponent("supervisor")
	resourceVersion := ""
	for {
		select {
		case <-ctx.Done():
			return resourceVersion
		case event, ok := <-w.ResultChan():
			if !ok {
				return resourceVersion
			}
			if event.Type == watch.Error {
				// Expired history means our resource version is too old
				logger.Warn().Msg("Pod watch error event, restarting")
				return ""
			}
			pod, ok := event.Object.(*corev1.Pod)
			if !ok {
				continue
			}
			resourceVersion = pod.ResourceVersion

			if event.Type == watch.Deleted {
				s.podDeleted(ctx, pod)
				continue
			}
			if pod.DeletionTimestamp != nil {
				continue
			}
			s.reconcile(ctx, pod)
		}
	}
}

// fullSync adopts every existing run pod and removes services whose pod is
// gone. Returns the list's resource version for the watch to start from.
func (s *Supervisor) fullSync(ctx context.Context) (string, error) {
	logger := log.WithComponent("supervisor")

	pods, err := s.client.CoreV1().Pods(s.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: s.selector(),
	})
	if err != nil {
		return "", fmt.Errorf("listing pods: %w", err)
	}

	podNames := make(map[string]struct{}, len(pods.Items))
	for i := range pods.Items {
		pod := &pods.Items[i]
		podNames[pod.Name] = struct{}{}
		runID, err := podRunID(pod)
		if err != nil {
			logger.Warn().Str("pod", pod.Name).Err(err).Msg("Ignoring unlabelled pod")
			continue
		}
		logger.Info().Int64("run_id", runID).Msg("Attaching to run pod")
		s.inFlight.Add(runID)
		s.reconcile(ctx, pod)
	}

	services, err := s.client.CoreV1().Services(s.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: s.selector(),
	})
	if err != nil {
		return "", fmt.Errorf("listing services: %w", err)
	}
	for i := range services.Items {
		svc := &services.Items[i]
		if _, ok := podNames[svc.Name]; ok {
			continue
		}
		logger.Info().Str("service", svc.Name).Msg("Deleting orphan service")
		err := s.client.CoreV1().Services(s.namespace).Delete(ctx, svc.Name, metav1.DeleteOptions{})
		if err != nil && !apierrors.IsNotFound(err) {
			return "", fmt.Errorf("deleting service: %w", err)
		}
	}

	return pods.ResourceVersion, nil
}

// reconcile handles one observed pod state. Terminal pods are acted on only
// once: the first observation that pops the in-flight entry wins.
func (s *Supervisor) reconcile(ctx context.Context, pod *corev1.Pod) {
	runID, err := podRunID(pod)
	if err != nil {
		return
	}
	logger := log.WithRunID(runID)

	terminated := false
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Terminated != nil {
			terminated = true
			break
		}
	}
	if !terminated {
		return
	}
	if !s.inFlight.Remove(runID) {
		return
	}

	success := false
	for _, cs := range pod.Status.ContainerStatuses {
		term := cs.State.Terminated
		if term == nil {
			continue
		}
		if cs.Name == RunnerContainerName && term.ExitCode == 0 {
			logger.Info().Msg("Run pod succeeded")
			success = true
			continue
		}
		if term.ExitCode != 0 {
			s.dumpContainerLog(ctx, pod.Name, cs.Name, term.ExitCode)
		}
	}

	if !success {
		logger.Warn().Msg("Run pod failed")
		if err := s.conn.RunFailed(ctx, runID, "Internal error"); err != nil {
			logger.Error().Err(err).Msg("Failed to record run failure")
		}
	}

	s.scheduleDelete(runID)
}

// podDeleted handles a pod that disappeared. If the run never finished, it
// is failed, and the companion service is removed.
func (s *Supervisor) podDeleted(ctx context.Context, pod *corev1.Pod) {
	runID, err := podRunID(pod)
	if err != nil {
		return
	}
	logger := log.WithRunID(runID)

	if !s.inFlight.Remove(runID) {
		// Already reconciled from its terminal status
		return
	}
	logger.Warn().Msg("Run pod was deleted")

	run, err := s.store.GetRun(runID)
	if err != nil {
		logger.Error().Err(err).Msg("Run not in database, can't set status")
	} else if run.Done == nil {
		if err := s.conn.RunFailed(ctx, runID, "Internal error"); err != nil {
			logger.Error().Err(err).Msg("Failed to record run failure")
		}
	}

	err = s.client.CoreV1().Services(s.namespace).Delete(
		context.Background(), s.scheduler.ObjectName(runID), metav1.DeleteOptions{},
	)
	if err != nil && !apierrors.IsNotFound(err) {
		logger.Warn().Err(err).Msg("Failed to delete service")
	}
}

// scheduleDelete removes the pod and service after a grace period, keeping
// the pod around briefly for post-mortem inspection.
func (s *Supervisor) scheduleDelete(runID int64) {
	go func() {
		time.Sleep(s.deleteDelay)
		if err := s.scheduler.DeleteRun(context.Background(), runID); err != nil {
			log.WithRunID(runID).Warn().Err(err).Msg("Failed to delete run objects")
		}
	}()
}

// dumpContainerLog captures the tail of a failed container's log into the
// process log.
func (s *Supervisor) dumpContainerLog(ctx context.Context, podName, containerName string, exitCode int32) {
	logger := log.WithComponent("supervisor")
	tail := int64(logTailLines)
	raw, err := s.client.CoreV1().Pods(s.namespace).GetLogs(podName, &corev1.PodLogOptions{
		Container: containerName,
		TailLines: &tail,
	}).Do(ctx).Raw()
	if err != nil {
		logger.Warn().Err(err).Str("container", containerName).Msg("Couldn't fetch container log")
		return
	}

	var indented strings.Builder
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		indented.WriteString("    ")
		indented.WriteString(scanner.Text())
		indented.WriteString("\n")
	}
	logger.Warn().
		Str("container", containerName).
		Int32("exit_code", exitCode).
		Msg("Container exited\n" + strings.TrimRight(indented.String(), "\n"))
}

// podRunID extracts the numeric run id from the pod's run label.
func podRunID(pod *corev1.Pod) (int64, error) {
	value, ok := pod.Labels[RunLabel]
	if !ok {
		return 0, fmt.Errorf("pod %s has no %s label", pod.Name, RunLabel)
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("pod %s has bad %s label: %w", pod.Name, RunLabel, err)
	}
	return id, nil
}

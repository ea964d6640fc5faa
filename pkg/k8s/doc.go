/*
Package k8s schedules and supervises run pods on a Kubernetes cluster.

# Scheduler

The Scheduler creates one worker pod and one companion service per run.
The pod spec comes from an operator-supplied template file; the run id is
appended to the runner container's args, the runner image can be
overridden, and recognized extra_config entries add sidecar containers
and container ports. The service selects the pod's labels and exposes the
in-pod proxy port. Deletion tolerates objects that are already gone.

# Supervisor

The Supervisor owns the in-flight entries of cluster runs. On startup it
performs a full sync, adopting every existing run pod and deleting
services whose pod is gone, then watches pods with a label selector:

  - The watch resumes from the last observed resource version; expired
    history or a decode problem clears the version, which forces a fresh
    list on the next attempt.
  - Pods carrying a deletion timestamp are skipped until the DELETED
    event arrives.
  - A pod with a terminated container is acted on exactly once: the
    first observation that pops the in-flight entry wins. Failed
    containers get their log tail captured into the process log, and a
    non-successful runner marks the run failed.
  - Pod and service are deleted after a grace period, keeping the pod
    around briefly for post-mortem inspection.
  - A pod deleted before its run finished also fails the run.

The supervisor is a single goroutine; the shared in-flight set is the
only arbiter between it, the orchestrator, and the delayed deletes, so
observing the same pod twice is harmless.
*/
package k8s

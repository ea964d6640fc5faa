/*
Package runner executes a run inside a docker container, driving the
docker CLI against the local daemon.

# Execution model

The driver creates a sleeping container from the base image derived from
the bundle's metadata, then stages everything through exec and cp before
the experiment starts:

  - Execution tools (busybox, rpztar, rpzsudo) are copied under a
    randomly named directory so bundle contents cannot shadow them.
  - The bundle and input files are streamed from their presigned URLs
    straight into the container through exec pipes; they never touch the
    worker's filesystem.
  - The assembled run script replays each recorded command in its
    original working directory, environment, and uid/gid, and aborts on
    the first failure.
  - Script output goes through the connector's log pump, followed by a
    final status line on the run log.
  - Output files are copied out and uploaded; the container and the
    scratch directory are removed on every path.

# Lifecycle

All state changes go through the Connector; the driver holds no state
between runs. The caller reports any returned error with RunFailed.
WaitForDocker exists for the pod entrypoint case, where the docker daemon
is a sidecar that may still be booting.

# extra_config

A run can require features by name. Unrecognized required features fail
the run before a container is created; recognized ones add sidecar
containers and published ports.
*/
package runner

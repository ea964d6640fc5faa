/*
Package orchestrator accepts run requests and launches them without
blocking the caller.

Run initializes and validates the run synchronously, so the caller gets
validation errors back, then hands the RunInfo to a Launcher on a
background goroutine. Launch failures are recorded on the run with
RunFailed. A WaitGroup tracks the background goroutines so a draining
process can wait for them.

# Launchers

LocalLauncher drives the docker driver in this process and blocks for
the life of the run; the in-flight entry is released when Launch
returns. The cluster launcher only creates the worker pod and service,
then reports itself detached: the pod supervisor owns the in-flight
entry from that point and releases it when the pod terminates.

# In-flight set

InFlight is the shared record of runs currently executing. It rejects
duplicate ids, mirrors its size into the current-runs gauge, and its
Remove reports whether the entry was present, which lets concurrent
observers of the same terminal state act exactly once.
*/
package orchestrator

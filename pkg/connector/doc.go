/*
Package connector defines the contract between a runner and durable run
state: run initialization and validation, lifecycle transitions, log
append, and output upload.

The runner only ever talks through a Connector, which keeps the execution
code identical whether it runs inside the control-plane process or inside
a worker pod on another machine.

# Implementations

DirectConnector:
  - Works in-process against the Bolt store and the object store
  - Performs parameter and input validation during InitRunGetInfo
  - Clears previous log lines and output files, making init idempotent
  - Hashes output files server-side before upload
  - Log interval of 1 second between batches

HTTPConnector:
  - Used from worker pods, talks to the control plane's runner API
  - Authenticates every request with the shared secret header
  - Receives presigned bundle and input URLs baked into the init response
  - Log interval of 3 seconds, since every batch is a network round trip

# Log pump

RunCmdAndLog executes a subprocess and relays its combined output to the
run's log. A reader goroutine collects lines into a buffer while the
publisher loop flushes the buffer as one LogMultiple call per batch,
pausing LogInterval between batches. Lines are never dropped or
reordered; a line longer than maxLogLineBytes is split across several log
lines so oversized output cannot stall the pump.

# Errors

Validation failures carry a user-facing message and are recognizable with
IsBadRequest; a nonexistent run surfaces as ErrUnknownRun. Callers map
these onto HTTP 400 and 404 respectively.
*/
package connector

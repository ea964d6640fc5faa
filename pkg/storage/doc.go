/*
Package storage provides durable state for experiments, runs, run logs,
and output files.

The Store interface is the seam between the control plane and its
database. The default implementation is BoltDB: embedded, transactional,
a single file under the data directory, with no external database to
operate.

# Layout

One bucket per entity, values serialized as JSON:

	experiments     keyed by bundle hash
	uploads         keyed by a bucket sequence id
	runs            keyed by a bucket sequence id (the run id)
	logs            one sub-bucket per run, lines keyed by sequence
	outputs         one sub-bucket per run, files keyed by sequence

Run log lines live in per-run sub-buckets so appending is a pure insert
and reading a run's log is a single cursor scan in insertion order.

# Semantics

Reads use db.View, writes use db.Update; BoltDB serializes writers and
gives readers consistent snapshots, so Store implementations are safe
for concurrent use without additional locking. SetStarted writes the
start time only once and reports whether it did, which makes repeated
start notifications harmless. ClearRunResults drops a run's log and
output sub-buckets wholesale; re-initializing a run is therefore
idempotent. Missing entities surface as ErrNotFound.
*/
package storage

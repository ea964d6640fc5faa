/*
Package types defines the data model shared across reproserver
components.

Experiment describes an uploaded bundle: its content hash, the
parameters and paths recorded inside it, and the compact metadata JSON
the runner derives its base image and commands from. A Run is one
execution of an experiment, from submission through started and done,
with its parameter values, input files, log lines, and output files
attached. RunInfo is the flattened descriptor handed to runners over
the wire; it carries everything the worker needs so no further lookups
happen from inside the pod.

Everything here is plain data with JSON tags. Values are copied freely
between processes, so no struct carries behavior or unexported state.
*/
package types

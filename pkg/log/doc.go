/*
Package log provides structured logging for all reproserver components,
wrapping zerolog.

A process-global logger is configured once at startup with Init: JSON
output in production, a console writer for development, and a minimum
level below which events are dropped at the call site. zerolog loggers
are safe for concurrent use, so the global and every derived child can
be shared freely across goroutines.

Components derive child loggers instead of repeating fields on every
call: WithComponent tags long-lived loops (the supervisor, the proxy)
and WithRunID tags everything done on behalf of one run, which is what
operators grep for when a run misbehaves. The package-level helpers
(Info, Warn, Errorf and friends) cover one-off messages where a child
logger isn't worth the ceremony.
*/
package log

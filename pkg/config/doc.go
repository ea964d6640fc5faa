/*
Package config reads process configuration from the environment.

All three processes (server, proxy, runner) read the same Config once at
startup with FromEnv and pass it explicitly to the components they wire;
nothing reads the environment after startup. Missing required variables
and malformed values fail fast with an error naming the variable.

Most settings default sensibly for a single-host docker deployment;
cluster deployments add the namespace, pod template directory, run
labels, and name prefix. RUN_LABELS is a YAML mapping. SHUTDOWN_TIME
keeps a legacy alias from the previous deployment's name for it.
*/
package config

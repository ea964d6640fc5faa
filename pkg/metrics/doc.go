/*
Package metrics declares the Prometheus metrics exported by reproserver.

Metrics are package-level variables registered in init(), matching how
the rest of the codebase reaches them: components update the vars
directly rather than threading a registry through every constructor.
Handler returns the promhttp handler each process serves from its
listen address.

# Exported metrics

	current_runs                              gauge, mirrors the in-flight set
	proxy_requests_total{proto,status}        counter, http/ws by success/error
	reproserver_api_requests_total            counter per route and status
	reproserver_api_request_duration_seconds  histogram per route

The proxy counter's four label combinations are pre-seeded to zero in
init() so rate() queries work before the first request arrives.
*/
package metrics

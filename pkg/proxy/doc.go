/*
Package proxy exposes web applications running inside run containers to
the outside world.

# Forwarding engine

Both proxies are built on one Forwarder. A Router callback inspects the
incoming request and returns a Destination (upstream host, rewritten URI,
extra headers, the Host header to present upstream, and whether redirects
get rewritten) or an error, which becomes a 403. The engine then:

  - Forwards plain HTTP with the request body streamed through, copying
    headers minus the hop-by-hop set, and streams the response back,
    dropping Content-Length, Connection, and Transfer-Encoding.
  - Upgrades WebSocket requests and relays frames in both directions
    with one goroutine per direction. A failed upstream connect echoes
    the upstream's HTTP status verbatim.
  - Answers 503 with a plain-text explanation when the upstream is
    unreachable, and counts every request in proxy_requests_total by
    protocol and outcome.

# External proxy

The public entry point. A run and port are resolved either from the
hostname (<short-id>-<port>.<domain>) or from the path
(/results/<short-id>/port/<port>); the path form strips its prefix and
rewrites 3xx responses into 200s carrying the redirect metadata in
headers, for the service-worker client. Cluster targets get the shared
secret and the port in headers; docker targets are dialed directly.

# Internal proxy

Runs inside the worker pod on the service port. It rejects requests
without the shared secret and forwards to the container port named in
the port header (hostname fallback for legacy callers), presenting the
original external Host so the application is unaware of the proxy.

# Health

The health handler answers only when the probe header is present, and
flips to 503 while the process is draining. Draining state is an atomic
flag, safe to set from the signal handler while requests are in flight.
*/
package proxy

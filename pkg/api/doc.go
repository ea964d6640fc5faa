/*
Package api is the control-plane HTTP API used by runner pods.

Worker pods never get database or object-store credentials; everything a
run needs flows through these endpoints, authenticated with the shared
secret on every request. The handlers are a thin HTTP skin over the
direct connector.

# Endpoints

Under /runners/run/{id}:

	POST init           validate and initialize, returns RunInfo with
	                    presigned bundle and input URLs baked in
	POST start          mark the run started (idempotent)
	POST set-progress   update the progress hint
	POST done           mark the run completed
	POST failed         mark the run failed with a final log line
	POST log            append log lines with their original timestamps
	PUT  output/{name}  upload one output file, hashed server-side

Lifecycle endpoints answer 204. Connector validation errors become 400
JSON bodies with the user-facing message, an unknown run becomes 404,
and anything else is a 500 with the detail kept out of the response.

Every request is counted and timed per chi route pattern, so path
parameters do not explode the metric cardinality.
*/
package api

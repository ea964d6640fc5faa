/*
Package objectstore stores bundles, input files, and output files in an
S3-compatible object store, keyed by content hash.

Three buckets exist, each carrying the deployment's bucket prefix:
experiments for uploaded bundles, inputs for user-submitted input files,
and outputs for run results. Content addressing makes uploads idempotent
and lets identical files share storage.

Two endpoints are configured. The internal endpoint is what the control
plane and workers reach; the client endpoint is what browsers reach,
used for URLs handed to users. Workers never receive credentials in
either case; they get time-limited presigned URLs instead. DownloadURL
signs against the internal endpoint, ServeURL against the client one
with a content disposition for the download filename.

Check probes the endpoint with a short timeout and is safe to call from
a health handler. The S3 client is safe for concurrent use.
*/
package objectstore

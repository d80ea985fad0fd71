// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to trigger a crawl run manually.
//   - GET /v1/runs/{run_id} and /v1/runs/{run_id}/listings for run inspection.
package api

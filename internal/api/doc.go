// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs and /v1/runs/background to trigger scraper runs.
//   - GET /v1/sources for every source's settings and last run counters.
//   - GET/PATCH /v1/sources/{source}/config and /v1/sources/seace/auth for
//     per-source settings; passwords are always masked on the way out.
//   - GET /v1/sessions/{id}/logs?after= for incremental log polling.
//   - GET /v1/alerts and POST /v1/alerts/{id}/read for stored alerts.
package api

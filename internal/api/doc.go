// Package api hosts the operator HTTP endpoint that runs beside a stage:
//   - GET /healthz reports that the process is alive.
//   - GET /readyz runs the registered readiness checks.
//   - GET /metrics serves the Prometheus registry.
package api

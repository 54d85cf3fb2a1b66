// Package api hosts the HTTP server, middleware, and REST handlers for hosts
// and operators. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/stories and /v1/stories/{story_id}/... to present a carousel
//     and drive it with commands, gestures and lifecycle events.
//   - GET /api/stories and /api/stories/{story_id}/segments for viewing
//     statistics via the ViewRepository interface, plus archived timelines.
package api

// Package prometheus serves storeauth metrics in Prometheus text format.
//
// An [Exporter] is an [net/http.Handler]; the server command mounts it at
// /metrics. Counters are named storeauth_*_total and the one histogram is
// storeauth_validate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry.
//   - Mutate engine state.
package prometheus

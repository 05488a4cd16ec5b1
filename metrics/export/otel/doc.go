// Package otel publishes storeauth counters and the validation latency
// histogram through OpenTelemetry observable instruments.
//
// Each counter becomes an Int64ObservableCounter and each histogram bucket an
// Int64ObservableGauge. One callback reads the engine snapshot per
// collection, so nothing is recorded twice.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel

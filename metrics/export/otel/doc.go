// Package otel binds cookieauth counters to an OpenTelemetry Meter.
//
// [NewExporter] registers one Int64ObservableCounter per counter and one
// Int64ObservableGauge per latency bucket. A single callback reads the
// Manager's snapshot on each collection. The caller owns the MeterProvider.
package otel

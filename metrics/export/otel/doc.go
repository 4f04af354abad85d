// Package otel publishes authcore engine metrics as OpenTelemetry observable
// instruments. The caller owns the MeterProvider; [New] only registers
// instruments and one callback that reads Engine.MetricsSnapshot.
package otel

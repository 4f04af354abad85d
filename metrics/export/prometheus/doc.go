// Package prometheus exports authcore engine metrics through
// client_golang. Register [Collector] with any registry, or serve
// [Collector.Handler] directly.
package prometheus

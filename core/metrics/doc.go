// Package metrics defines the observability contract of the relay. Sinks like
// the Prometheus and InfluxDB implementations in infra/metrics record handled
// commands, chat traffic and hardware status transitions. Several configured
// sinks are combined with NewMultiSink automatically.
package metrics

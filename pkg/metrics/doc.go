// Package metrics exports Prometheus instrumentation and the
// component health report.
//
// # Metrics
//
// Counter-style metrics (operations, backups, HTTP requests) are
// incremented at the call sites that perform the work. Gauge-style
// metrics (servers by status, subscriber count) are polled by
// Collector, which reads snapshots from the manager and event hub on
// a fixed interval.
//
// # Health
//
// Components report their health with UpdateComponent; GetHealth
// aggregates the reports for the health endpoint. Any unhealthy
// component marks the whole process unhealthy, which matches how the
// dashboard surfaces a lost container daemon.
package metrics

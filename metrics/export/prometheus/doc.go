// Package prometheus exposes cookieauth counters through client_golang.
//
// [Exporter] implements prometheus.Collector. Register it with your own
// registry, or mount [Exporter.Handler], which serves it from a private one.
// Counters are named cookieauth_*_total; the latency histogram is
// cookieauth_authenticate_latency_seconds.
package prometheus

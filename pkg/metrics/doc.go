/*
Package metrics provides Prometheus metrics collection and exposition for the
runtime.

Metrics are grouped by the concern they observe:

  - Turn execution: counts by scheduling cause, failures, execution latency.
  - Journal: append latency, segment rotations, bytes truncated on recovery.
  - Snapshot: write latency, snapshots written per branch.
  - Scheduler: queue depth, actors currently blocked on flow control.
  - Branch/time-travel: forks, back/goto step counts.
  - Reactions: standing reactions fired.

All metrics are registered with the default Prometheus registry at package
init. Handler returns the standard promhttp handler for mounting on an HTTP
mux; "loomd serve" exposes it at /metrics.

Package metrics also exposes a small component health checker (see health.go)
independent of Prometheus: pkg/runtime registers the journal, scheduler, and
dataspace components as healthy on startup and does not update their status
afterwards; "loomd serve" reports per-component status at /health without
scraping metrics.
*/
package metrics

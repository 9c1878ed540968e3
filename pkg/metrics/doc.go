/*
Package metrics exposes Corral's Prometheus metrics.

All collectors are package-level and registered in init; the HTTP adapter
serves them at /metrics via Handler().

Cluster:
  - corral_hosts_tracked: hosts with live device state
  - corral_devices_total{state}: devices by free/occupied
  - corral_sync_duration_seconds: duration of one sweep
  - corral_syncs_total{trigger}: sweeps by periodic/manual/resync

Allocation:
  - corral_allocations_total{outcome}: requests by free/preempt/rejection
  - corral_kills_total: processes killed for preemption

Quota:
  - corral_quota_dumps_total: ledger persistence runs

API:
  - corral_api_requests_total{route,status}
  - corral_api_request_duration_seconds{route}
*/
package metrics

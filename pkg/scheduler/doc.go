/*
Package scheduler drives Corral's background tasks and serializes access to
shared state.

Two long-lived periodic tasks run on their own goroutines:

  - sync-and-debit, every sync interval: refresh cluster state through the
    gateway, then debit every observed user proportionally to the number of
    devices held (interval_hours × device_count)
  - persistence, every dump interval: write the quota ledger to disk

A single goroutine services both the sync timer and out-of-band resync
requests from the allocation engine, so a slow sweep never overlaps another.
Manually triggered syncs are throttled by a dead-time since the last sweep
and rejected as busy rather than queued.

The scheduler owns the process-wide lock. Cluster refresh, quota
debit/rotate/dump, and the entire allocation decision (including its kill
side effects) all run under it: allocation is a read-decide-act sequence
whose snapshot must not be invalidated mid-decision. Coarse single-lock
serialization is acceptable because syncs and allocations are infrequent
relative to typical device counts.

The scheduler also exposes the operations the HTTP adapter serves:
TriggerSync, Runtime, Quota, and Allocate.
*/
package scheduler

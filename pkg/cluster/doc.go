/*
Package cluster tracks which devices exist on each host and which users
currently occupy them.

The Tracker rebuilds its state from gateway query results: each successful
refresh replaces a host's device map wholesale, so state always reflects only
the most recent successful query per host, with no history retained. A failed
refresh drops the host's devices for the cycle but keeps the hostname-to-
address mapping so the host keeps being retried.

Derived views feed the allocation engine:

  - FreeDevices: devices with an empty occupant set
  - KillableDevices: occupied devices whose occupants all have a tracked,
    exhausted quota balance; a device with an untracked occupant or an
    occupant in credit is never killable

RefreshAll also returns a per-user occupancy tally (user held N devices this
sweep) that the scheduler turns into proportional quota debits.

The Tracker is not internally synchronized; the scheduler serializes all
access under the process-wide lock.
*/
package cluster

// Package config loads and validates the daemon's YAML configuration:
// tracked host addresses, sync/dump intervals, the manual-sync dead-time,
// SSH identity and timeouts, quota file locations, and logging options.
// An empty host list fails validation; the daemon has nothing to track.
package config

/*
Package types defines the core data structures shared across Corral packages.

This package contains the fundamental types for cluster state (hosts, device
reports, runtime snapshots), allocation results, and credential verification
outcomes. By centralizing type definitions, packages can share a common
vocabulary without circular dependencies.

# Core Types

Host:
  - Hostname: stable name reported by the machine itself
  - Address: network socket used to reach it
  - Mapping learned on first successful query, retained across failures

DeviceReport:
  - Decoded result of one device-status query
  - Per-GPU process lists (username, pid, command)
  - Replaces a host's tracked state wholesale on each successful refresh

Allocation:
  - Hostname plus sorted device indices granted to a requester

CredentialStatus:
  - valid / invalid / unreachable
  - invalid means explicit authentication rejection; unreachable covers
    every other connection failure and is never conflated with it

Runtime:
  - hostname -> device index -> sorted occupant usernames
  - JSON-serializable snapshot handed to the HTTP adapter

# Usage

	report := &types.DeviceReport{
		Hostname: "node-7",
		GPUs: []types.GPU{
			{Index: 0, Processes: []types.Process{{Username: "alice", PID: 4242, Command: "python train.py"}}},
		},
	}
*/
package types

/*
Package gateway owns the authenticated SSH connections to cluster hosts and
exposes the typed remote operations the rest of Corral builds on.

The gateway isolates per-host failures: a timeout or transport error against
one host evicts that host's cached connection and surfaces as an error the
caller drops for the cycle, never as a crash or a stalled sweep.

# Architecture

	┌──────────────────── REMOTE EXECUTION GATEWAY ────────────────────┐
	│                                                                   │
	│  ┌─────────────────────────────────────────────┐                 │
	│  │                  Pool                        │                 │
	│  │  - one cached connection per host address    │                 │
	│  │  - system identity (public key auth)         │                 │
	│  │  - probe with no-op before caching           │                 │
	│  │  - MarkBroken evicts on any failure          │                 │
	│  └──────────────────┬──────────────────────────┘                 │
	│                     │                                             │
	│  ┌──────────────────▼──────────────────────────┐                 │
	│  │            Typed operations                  │                 │
	│  │  QueryDevices(addr)  -> DeviceReport         │                 │
	│  │  KillProcess(addr, pid)                      │                 │
	│  │  TestCredential(addr, user, pass)            │                 │
	│  └──────────────────┬──────────────────────────┘                 │
	│                     │ golang.org/x/crypto/ssh                     │
	│                     ▼                                             │
	│            cluster hosts (sshd)                                   │
	└──────────────────────────────────────────────────────────────────┘

# Connection Policy

System-identity connections are cached because establishing a connection is
the dominant cost of the periodic refresh. Credential-check connections are
never cached: they authenticate with a user-supplied password whose
authorization is scoped to a single allocation decision, and caching such a
session would be both a security liability and a correctness hazard. They
are opened, verified, and closed within TestCredential.

# Timeouts

Every remote path is bounded: Config.ConnectTimeout covers TCP dial plus SSH
handshake, Config.ExecTimeout covers each command execution. There is no
unbounded wait anywhere in the gateway.

# Remote Commands

Device status is queried with `gpustat --json` and decoded into a
types.DeviceReport. Process termination uses `kill -9 <pid>`. Connection
liveness is probed with `hostname`. No call site constructs command strings
ad hoc; the commands live here, once.
*/
package gateway

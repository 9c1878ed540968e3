/*
Package quota maintains the per-user GPU-hour ledger for the active calendar
month.

# Storage Format

One flat text file per month, quota_YYYY-MM.txt, lines of

	username balance

with arbitrary whitespace between the fields. Lines starting with # and blank
lines are ignored on load; malformed lines are logged and skipped, never
fatal. Balances are floats and may go negative.

# Lifecycle

	Start ──> Rotate (seed from template if the month's file is absent)
	  │
	  ├── Debit / Query / QueryUser   (rotate transparently on month turnover)
	  │
	  ├── Dump                        (driven periodically by the scheduler)
	  │
	Stop ───> final Dump              (no in-memory debits are lost)

Rotation is idempotent within a month: the expected file path is computed from
the current date and compared against the loaded one, so repeated calls are
no-ops until the month actually turns over. On turnover the outgoing ledger is
persisted first, then the new month's file is created as a copy of the fixed
seed template and loaded.

# Tracking Policy

A user must pre-exist in the seed template to be tracked. Debit never creates
entries: untracked users are logged and ignored, and absence from the ledger
means "not subject to quota", not "unlimited debt".

The Ledger is not internally synchronized; the scheduler serializes all
access, including the periodic persistence task, under the process-wide lock.
*/
package quota

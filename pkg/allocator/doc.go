/*
Package allocator decides allocation requests: satisfy from free capacity,
reclaim via preemption, or reject.

# Decision Procedure

Each request runs the following steps synchronously, with no persisted state:

 1. Free capacity: shuffle host order, return the first host with enough free
    devices, granting a uniform random subset of them.
 2. Requester standing: with free capacity insufficient everywhere, a
    requester whose tracked balance is strictly negative is rejected; a user
    already in debt may not trigger preemption of others.
 3. Preemption capacity: shuffle host order again, pick the first host where
    free plus killable devices cover the request.
 4. Identity: verify the requester's credential against that host. No kill
    happens without verified identity; an authentication rejection and an
    unreachable host produce distinct errors.
 5. Victims: choose the shortfall uniformly at random from the killable set.
 6. Eviction: re-query the host's live process list and kill every process on
    the victim devices. Individual kill failures are logged and skipped.
 7. Post-condition: schedule an immediate out-of-band resync and return the
    union of free and reclaimed indices, sorted.
 8. Otherwise reject for lack of resource.

The shuffling in steps 1, 3 and 5 spreads load across hosts and devices
instead of repeatedly draining the lexicographically first ones.

# Errors

Rejections are sentinel errors (ErrQuotaExhausted, ErrCredentialInvalid,
ErrInsufficientResources, ErrInvalidCount); ErrInternal wraps failures that
happen after identity was already confirmed, so callers can always tell an
auth problem from an operational one.

The Engine is not internally synchronized; the scheduler serializes Allocate
with syncs under the process-wide lock so the read-decide-act sequence never
interleaves with a refresh.
*/
package allocator

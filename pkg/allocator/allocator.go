package allocator

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/corralproject/corral/pkg/log"
	"github.com/corralproject/corral/pkg/metrics"
	"github.com/corralproject/corral/pkg/types"
)

// Rejection reasons surfaced to callers. Everything else that can go wrong is
// wrapped in ErrInternal so authentication failure is never conflated with a
// failure that happened after identity was confirmed.
var (
	ErrInvalidCount          = errors.New("gpu count must be between 1 and 8")
	ErrQuotaExhausted        = errors.New("you have run out of quota")
	ErrCredentialInvalid     = errors.New("linux auth failed, wrong username/password")
	ErrInsufficientResources = errors.New("lack of resource")
	ErrInternal              = errors.New("server internal error")
)

// Cluster is the state-tracker surface the engine reads.
type Cluster interface {
	FreeDevices() map[string]types.DeviceSet
	KillableDevices(quotas map[string]float64) map[string]types.DeviceSet
	Resolve(hostname string) (string, bool)
}

// Quota is the ledger surface the engine reads.
type Quota interface {
	Query() map[string]float64
}

// Gateway is the remote-execution surface the engine drives during
// preemption.
type Gateway interface {
	QueryDevices(addr string) (*types.DeviceReport, error)
	KillProcess(addr string, pid int) error
	TestCredential(addr, username, password string) types.CredentialStatus
}

// Engine decides allocation requests: satisfy from free capacity, reclaim via
// preemption, or reject. It holds no per-request state; every decision is made
// synchronously against the current cluster and quota snapshots.
//
// The engine is not internally synchronized; the scheduler serializes Allocate
// with syncs under the process-wide lock.
type Engine struct {
	cluster Cluster
	quota   Quota
	gw      Gateway

	// resync schedules an immediate out-of-band cluster refresh after a
	// preemption so subsequent requests see updated occupancy.
	resync func()
}

// NewEngine creates an allocation engine.
func NewEngine(cluster Cluster, quota Quota, gw Gateway, resync func()) *Engine {
	return &Engine{cluster: cluster, quota: quota, gw: gw, resync: resync}
}

// Allocate decides one request. On success it returns the target hostname and
// the sorted device indices granted. Rejections are returned as the sentinel
// errors above; ErrInternal wraps unexpected failures after identity was
// already confirmed valid.
func (e *Engine) Allocate(username, password string, count int) (*types.Allocation, error) {
	logger := log.WithComponent("allocator")

	if count < 1 || count > types.MaxDevicesPerRequest {
		metrics.AllocationsTotal.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidCount
	}

	// Free capacity first. Host order is shuffled so allocations spread
	// instead of always filling the first host.
	free := e.cluster.FreeDevices()
	for _, hostname := range shuffledKeys(free) {
		if len(free[hostname]) < count {
			continue
		}
		ids := pick(free[hostname], count)
		logger.Info().Str("user", username).Str("host", hostname).Ints("gpus", ids).Msg("allocated from free capacity")
		metrics.AllocationsTotal.WithLabelValues("free").Inc()
		return &types.Allocation{Hostname: hostname, GPUIDs: ids}, nil
	}

	// A requester already in debt may not trigger preemption of others.
	quotas := e.quota.Query()
	if balance, tracked := quotas[username]; tracked && balance < 0 {
		metrics.AllocationsTotal.WithLabelValues("quota_exhausted").Inc()
		return nil, ErrQuotaExhausted
	}

	killable := e.cluster.KillableDevices(quotas)
	for _, hostname := range shuffledKeys(killable) {
		if len(free[hostname])+len(killable[hostname]) < count {
			continue
		}

		addr, ok := e.cluster.Resolve(hostname)
		if !ok {
			// Should not happen: a hostname only enters state through
			// a successful query that also records its address.
			logger.Error().Str("host", hostname).Msg("no address for hostname, skipping")
			continue
		}

		// No kills without verified identity.
		switch e.gw.TestCredential(addr, username, password) {
		case types.CredentialInvalid:
			metrics.AllocationsTotal.WithLabelValues("auth_failed").Inc()
			return nil, ErrCredentialInvalid
		case types.CredentialUnreachable:
			metrics.AllocationsTotal.WithLabelValues("internal_error").Inc()
			return nil, fmt.Errorf("%w: credential check against %s failed", ErrInternal, hostname)
		}

		freeIDs := free[hostname].Sorted()
		victims := pick(killable[hostname], count-len(freeIDs))

		if err := e.evict(addr, hostname, victims); err != nil {
			metrics.AllocationsTotal.WithLabelValues("internal_error").Inc()
			return nil, err
		}

		e.resync()

		ids := append(freeIDs, victims...)
		sort.Ints(ids)
		logger.Info().Str("user", username).Str("host", hostname).Ints("gpus", ids).Ints("reclaimed", victims).Msg("allocated with preemption")
		metrics.AllocationsTotal.WithLabelValues("preempt").Inc()
		return &types.Allocation{Hostname: hostname, GPUIDs: ids}, nil
	}

	metrics.AllocationsTotal.WithLabelValues("insufficient").Inc()
	return nil, ErrInsufficientResources
}

// evict re-queries the host's live process list and kills every process on the
// victim devices. Individual kill failures are logged and do not abort the
// remaining kills; only a failed re-query aborts the eviction.
func (e *Engine) evict(addr, hostname string, victims []int) error {
	logger := log.WithComponent("allocator")

	report, err := e.gw.QueryDevices(addr)
	if err != nil {
		return fmt.Errorf("%w: re-query of %s failed: %v", ErrInternal, hostname, err)
	}

	victimSet := make(map[int]struct{}, len(victims))
	for _, id := range victims {
		victimSet[id] = struct{}{}
	}

	for _, gpu := range report.GPUs {
		if _, ok := victimSet[gpu.Index]; !ok {
			continue
		}
		for _, proc := range gpu.Processes {
			logger.Info().Str("host", hostname).Int("gpu", gpu.Index).
				Str("user", proc.Username).Int("pid", proc.PID).Str("command", proc.Command).
				Msg("killing process")
			if err := e.gw.KillProcess(addr, proc.PID); err != nil {
				logger.Error().Str("host", hostname).Int("pid", proc.PID).Err(err).Msg("kill failed")
				continue
			}
			metrics.KillsTotal.Inc()
		}
	}
	return nil
}

// shuffledKeys returns the map's hostnames in uniformly random order.
func shuffledKeys(m map[string]types.DeviceSet) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	rand.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
	return keys
}

// pick selects n devices uniformly at random from the set, returned sorted.
func pick(set types.DeviceSet, n int) []int {
	ids := set.Sorted()
	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	ids = ids[:n]
	sort.Ints(ids)
	return ids
}

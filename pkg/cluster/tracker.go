package cluster

import (
	"sort"

	"github.com/corralproject/corral/pkg/log"
	"github.com/corralproject/corral/pkg/types"
)

// Gateway is the remote-query surface the tracker needs. Implemented by
// gateway.Pool; faked in tests.
type Gateway interface {
	QueryDevices(addr string) (*types.DeviceReport, error)
}

// Tracker maintains the in-memory map of host -> device -> occupant users,
// rebuilt from gateway query results. It retains the hostname -> address
// mapping across failures so unreachable hosts keep being retried.
//
// Tracker is not internally synchronized; the scheduler serializes all access
// under the process-wide lock.
type Tracker struct {
	gw    Gateway
	addrs []string

	// resolv maps a reported hostname to the address it was reached at.
	// Entries are never removed, only the device state is.
	resolv map[string]string

	// devices maps hostname -> device index -> occupant username set.
	// A host's entry reflects only its most recent successful query.
	devices map[string]map[int]map[string]struct{}
}

// NewTracker creates a tracker over the configured host addresses.
func NewTracker(gw Gateway, addrs []string) *Tracker {
	return &Tracker{
		gw:      gw,
		addrs:   addrs,
		resolv:  make(map[string]string),
		devices: make(map[string]map[int]map[string]struct{}),
	}
}

// RefreshAll queries every configured host and rebuilds the device map. Each
// host's device set is replaced wholesale on success; on failure the host's
// previous state is dropped so stale occupancy is never retained. One host's
// failure never aborts the sweep.
//
// The returned tally counts, per user, how many devices the user occupied
// across the whole cluster; the scheduler debits quota proportionally to it.
func (t *Tracker) RefreshAll() map[string]int {
	logger := log.WithComponent("cluster")
	tally := make(map[string]int)

	for _, addr := range t.addrs {
		report, err := t.gw.QueryDevices(addr)
		if err != nil {
			logger.Error().Str("host", addr).Err(err).Msg("refresh failed, dropping host state")
			t.dropByAddr(addr)
			continue
		}

		if _, ok := t.resolv[report.Hostname]; !ok {
			t.resolv[report.Hostname] = addr
		}

		devs := make(map[int]map[string]struct{}, len(report.GPUs))
		for _, gpu := range report.GPUs {
			users := make(map[string]struct{})
			for _, proc := range gpu.Processes {
				users[proc.Username] = struct{}{}
			}
			devs[gpu.Index] = users

			for user := range users {
				tally[user]++
			}
		}
		t.devices[report.Hostname] = devs

		logger.Debug().Str("host", report.Hostname).Int("devices", len(devs)).Msg("host state refreshed")
	}

	return tally
}

// dropByAddr removes the device state of whichever hostname resolves to addr.
// The resolv entry itself is kept for reconnection.
func (t *Tracker) dropByAddr(addr string) {
	for hostname, a := range t.resolv {
		if a == addr {
			delete(t.devices, hostname)
			return
		}
	}
}

// FreeDevices returns, per hostname, the devices with an empty occupant set.
// Computed fresh from current state on every call.
func (t *Tracker) FreeDevices() map[string]types.DeviceSet {
	free := make(map[string]types.DeviceSet, len(t.devices))
	for hostname, devs := range t.devices {
		set := make(types.DeviceSet)
		for id, users := range devs {
			if len(users) == 0 {
				set[id] = struct{}{}
			}
		}
		free[hostname] = set
	}
	return free
}

// KillableDevices returns, per hostname, the occupied devices whose occupants
// all have a tracked, exhausted (<= 0) balance in the quota snapshot. A device
// with any untracked occupant, or any occupant holding positive balance, is
// never killable. Free devices are excluded: killable is a subset of occupied.
func (t *Tracker) KillableDevices(quotas map[string]float64) map[string]types.DeviceSet {
	killable := make(map[string]types.DeviceSet, len(t.devices))
	for hostname, devs := range t.devices {
		set := make(types.DeviceSet)
		for id, users := range devs {
			if len(users) == 0 {
				continue
			}
			if allExhausted(users, quotas) {
				set[id] = struct{}{}
			}
		}
		killable[hostname] = set
	}
	return killable
}

func allExhausted(users map[string]struct{}, quotas map[string]float64) bool {
	for user := range users {
		balance, tracked := quotas[user]
		if !tracked || balance > 0 {
			return false
		}
	}
	return true
}

// Resolve maps a hostname to the address it was last reached at.
func (t *Tracker) Resolve(hostname string) (string, bool) {
	addr, ok := t.resolv[hostname]
	return addr, ok
}

// Snapshot returns a copy of the current occupancy state with occupant names
// sorted, safe to hand to callers outside the lock.
func (t *Tracker) Snapshot() types.Runtime {
	rt := make(types.Runtime, len(t.devices))
	for hostname, devs := range t.devices {
		hostRT := make(map[int][]string, len(devs))
		for id, users := range devs {
			names := make([]string, 0, len(users))
			for user := range users {
				names = append(names, user)
			}
			sort.Strings(names)
			hostRT[id] = names
		}
		rt[hostname] = hostRT
	}
	return rt
}

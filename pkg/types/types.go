package types

import "sort"

// Host represents a tracked cluster machine. Hostname is the name the machine
// reports about itself; Address is the socket used to reach it. The mapping is
// learned on the first successful query and retained across failures so the
// tracker keeps attempting reconnection.
type Host struct {
	Hostname string
	Address  string
}

// Process is a single GPU process as reported by the remote status query.
type Process struct {
	Username string `json:"username"`
	PID      int    `json:"pid"`
	Command  string `json:"command"`
}

// GPU is one device in a device report.
type GPU struct {
	Index     int       `json:"index"`
	Processes []Process `json:"processes"`
}

// DeviceReport is the decoded result of one device-status query against a
// host: the hostname the machine reports plus every device and its processes.
type DeviceReport struct {
	Hostname string `json:"hostname"`
	GPUs     []GPU  `json:"gpus"`
}

// Allocation is a successful allocation result: a single host and the sorted
// device indices granted on it.
type Allocation struct {
	Hostname string `json:"hostname"`
	GPUIDs   []int  `json:"gpu_ids"`
}

// CredentialStatus is the outcome of verifying a user-supplied credential
// against a host. Invalid (explicit authentication rejection) is never
// conflated with Unreachable (any other connection failure).
type CredentialStatus int

const (
	CredentialValid CredentialStatus = iota
	CredentialInvalid
	CredentialUnreachable
)

func (s CredentialStatus) String() string {
	switch s {
	case CredentialValid:
		return "valid"
	case CredentialInvalid:
		return "invalid"
	default:
		return "unreachable"
	}
}

// Runtime is a point-in-time snapshot of cluster occupancy:
// hostname -> device index -> sorted occupant usernames.
type Runtime map[string]map[int][]string

// DeviceSet is a set of device indices on one host.
type DeviceSet map[int]struct{}

// Sorted returns the set's indices in ascending order.
func (s DeviceSet) Sorted() []int {
	ids := make([]int, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// MaxDevicesPerRequest bounds a single allocation request.
const MaxDevicesPerRequest = 8

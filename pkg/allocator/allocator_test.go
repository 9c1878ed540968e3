package allocator

import (
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralproject/corral/pkg/log"
	"github.com/corralproject/corral/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

type fakeCluster struct {
	free     map[string]types.DeviceSet
	killable map[string]types.DeviceSet
	resolv   map[string]string
}

func (c *fakeCluster) FreeDevices() map[string]types.DeviceSet { return c.free }
func (c *fakeCluster) KillableDevices(map[string]float64) map[string]types.DeviceSet {
	return c.killable
}
func (c *fakeCluster) Resolve(hostname string) (string, bool) {
	addr, ok := c.resolv[hostname]
	return addr, ok
}

type fakeQuota map[string]float64

func (q fakeQuota) Query() map[string]float64 { return q }

type fakeGateway struct {
	cred        types.CredentialStatus
	credChecked bool
	report      *types.DeviceReport
	queryErr    error
	killed      []int
	killErr     map[int]error
}

func (g *fakeGateway) QueryDevices(addr string) (*types.DeviceReport, error) {
	if g.queryErr != nil {
		return nil, g.queryErr
	}
	return g.report, nil
}

func (g *fakeGateway) KillProcess(addr string, pid int) error {
	if err := g.killErr[pid]; err != nil {
		return err
	}
	g.killed = append(g.killed, pid)
	return nil
}

func (g *fakeGateway) TestCredential(addr, username, password string) types.CredentialStatus {
	g.credChecked = true
	return g.cred
}

func devSet(ids ...int) types.DeviceSet {
	set := make(types.DeviceSet)
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// twoHostCluster models the scenario used throughout: s1 with the given free
// devices, s2 fully occupied by bob with two killable devices.
func twoHostCluster(s1Free types.DeviceSet) *fakeCluster {
	return &fakeCluster{
		free:     map[string]types.DeviceSet{"s1": s1Free, "s2": devSet()},
		killable: map[string]types.DeviceSet{"s1": devSet(), "s2": devSet(0, 1)},
		resolv:   map[string]string{"s1": "10.0.0.1:22", "s2": "10.0.0.2:22"},
	}
}

func TestAllocateFromFreeCapacity(t *testing.T) {
	cl := twoHostCluster(devSet(0, 1))
	gw := &fakeGateway{}
	resynced := false
	e := NewEngine(cl, fakeQuota{"alice": 10, "bob": -5}, gw, func() { resynced = true })

	result, err := e.Allocate("alice", "pw", 2)
	require.NoError(t, err)
	assert.Equal(t, &types.Allocation{Hostname: "s1", GPUIDs: []int{0, 1}}, result)

	assert.False(t, gw.credChecked, "free-capacity path must not check credentials")
	assert.Empty(t, gw.killed, "free-capacity path must not kill")
	assert.False(t, resynced)
}

func TestAllocateReturnsRandomSubsetOfFree(t *testing.T) {
	cl := &fakeCluster{
		free:     map[string]types.DeviceSet{"s1": devSet(0, 1, 2, 3)},
		killable: map[string]types.DeviceSet{"s1": devSet()},
		resolv:   map[string]string{"s1": "10.0.0.1:22"},
	}
	e := NewEngine(cl, fakeQuota{}, &fakeGateway{}, func() {})

	result, err := e.Allocate("alice", "pw", 2)
	require.NoError(t, err)
	assert.Len(t, result.GPUIDs, 2)
	assert.True(t, result.GPUIDs[0] < result.GPUIDs[1], "indices must be sorted")
	for _, id := range result.GPUIDs {
		assert.Contains(t, []int{0, 1, 2, 3}, id)
	}
}

func TestAllocateQuotaGate(t *testing.T) {
	cl := twoHostCluster(devSet())
	gw := &fakeGateway{cred: types.CredentialValid}
	e := NewEngine(cl, fakeQuota{"alice": -0.5, "bob": -3}, gw, func() {})

	_, err := e.Allocate("alice", "pw", 2)
	assert.ErrorIs(t, err, ErrQuotaExhausted)
	assert.False(t, gw.credChecked, "rejection must happen before any host lookup")
	assert.Empty(t, gw.killed)
}

func TestAllocateUntrackedRequesterPassesQuotaGate(t *testing.T) {
	cl := twoHostCluster(devSet())
	gw := &fakeGateway{
		cred:   types.CredentialValid,
		report: &types.DeviceReport{Hostname: "s2", GPUs: []types.GPU{}},
	}
	e := NewEngine(cl, fakeQuota{"bob": -3}, gw, func() {})

	_, err := e.Allocate("guest", "pw", 2)
	require.NoError(t, err)
}

func TestAllocateWithPreemption(t *testing.T) {
	cl := twoHostCluster(devSet())
	gw := &fakeGateway{
		cred: types.CredentialValid,
		report: &types.DeviceReport{Hostname: "s2", GPUs: []types.GPU{
			{Index: 0, Processes: []types.Process{{Username: "bob", PID: 4001, Command: "python train.py"}}},
			{Index: 1, Processes: []types.Process{{Username: "bob", PID: 4002, Command: "python eval.py"}}},
		}},
	}
	resynced := false
	e := NewEngine(cl, fakeQuota{"alice": 10, "bob": -3}, gw, func() { resynced = true })

	result, err := e.Allocate("alice", "pw", 2)
	require.NoError(t, err)
	assert.Equal(t, &types.Allocation{Hostname: "s2", GPUIDs: []int{0, 1}}, result)

	assert.True(t, gw.credChecked)
	assert.ElementsMatch(t, []int{4001, 4002}, gw.killed)
	assert.True(t, resynced, "preemption must schedule an out-of-band resync")
}

func TestAllocateCredentialInvalid(t *testing.T) {
	cl := twoHostCluster(devSet())
	gw := &fakeGateway{cred: types.CredentialInvalid}
	e := NewEngine(cl, fakeQuota{"alice": 10, "bob": -3}, gw, func() {})

	_, err := e.Allocate("alice", "wrong", 2)
	assert.ErrorIs(t, err, ErrCredentialInvalid)
	assert.Empty(t, gw.killed, "no kill without verified identity")
}

func TestAllocateCredentialUnreachable(t *testing.T) {
	cl := twoHostCluster(devSet())
	gw := &fakeGateway{cred: types.CredentialUnreachable}
	e := NewEngine(cl, fakeQuota{"alice": 10, "bob": -3}, gw, func() {})

	_, err := e.Allocate("alice", "pw", 2)
	assert.ErrorIs(t, err, ErrInternal)
	assert.NotErrorIs(t, err, ErrCredentialInvalid)
	assert.Empty(t, gw.killed)
}

func TestAllocateRequeryFailure(t *testing.T) {
	cl := twoHostCluster(devSet())
	gw := &fakeGateway{cred: types.CredentialValid, queryErr: fmt.Errorf("connection reset")}
	e := NewEngine(cl, fakeQuota{"alice": 10, "bob": -3}, gw, func() {})

	_, err := e.Allocate("alice", "pw", 2)
	assert.ErrorIs(t, err, ErrInternal)
}

func TestAllocateKillErrorsDoNotAbort(t *testing.T) {
	cl := twoHostCluster(devSet())
	gw := &fakeGateway{
		cred: types.CredentialValid,
		report: &types.DeviceReport{Hostname: "s2", GPUs: []types.GPU{
			{Index: 0, Processes: []types.Process{{Username: "bob", PID: 4001, Command: "python"}}},
			{Index: 1, Processes: []types.Process{{Username: "bob", PID: 4002, Command: "python"}}},
		}},
		killErr: map[int]error{4001: fmt.Errorf("no such process")},
	}
	e := NewEngine(cl, fakeQuota{"alice": 10, "bob": -3}, gw, func() {})

	result, err := e.Allocate("alice", "pw", 2)
	require.NoError(t, err, "an individual kill failure must not abort the allocation")
	assert.Equal(t, []int{0, 1}, result.GPUIDs)
	assert.Equal(t, []int{4002}, gw.killed)
}

func TestAllocateMixedFreeAndReclaimed(t *testing.T) {
	cl := &fakeCluster{
		free:     map[string]types.DeviceSet{"s2": devSet(2)},
		killable: map[string]types.DeviceSet{"s2": devSet(0, 1)},
		resolv:   map[string]string{"s2": "10.0.0.2:22"},
	}
	gw := &fakeGateway{
		cred: types.CredentialValid,
		report: &types.DeviceReport{Hostname: "s2", GPUs: []types.GPU{
			{Index: 0, Processes: []types.Process{{Username: "bob", PID: 4001, Command: "python"}}},
			{Index: 1, Processes: []types.Process{{Username: "bob", PID: 4002, Command: "python"}}},
			{Index: 2},
		}},
	}
	e := NewEngine(cl, fakeQuota{"bob": -3}, gw, func() {})

	result, err := e.Allocate("alice", "pw", 2)
	require.NoError(t, err)

	// The free device is always granted; exactly one victim joins it.
	assert.Len(t, result.GPUIDs, 2)
	assert.Contains(t, result.GPUIDs, 2)
	assert.Len(t, gw.killed, 1, "only one device's processes are killed")
}

func TestAllocateInsufficientResources(t *testing.T) {
	cl := twoHostCluster(devSet(0))
	gw := &fakeGateway{cred: types.CredentialValid}
	e := NewEngine(cl, fakeQuota{"alice": 10, "bob": -3}, gw, func() {})

	_, err := e.Allocate("alice", "pw", 4)
	assert.ErrorIs(t, err, ErrInsufficientResources)
	assert.Empty(t, gw.killed, "terminal rejection has no side effects")
}

func TestAllocateCountBounds(t *testing.T) {
	e := NewEngine(twoHostCluster(devSet(0, 1)), fakeQuota{}, &fakeGateway{}, func() {})

	for _, count := range []int{0, -1, 9, 100} {
		_, err := e.Allocate("alice", "pw", count)
		assert.ErrorIs(t, err, ErrInvalidCount, "count %d", count)
	}
}

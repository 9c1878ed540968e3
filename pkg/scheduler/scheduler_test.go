package scheduler

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralproject/corral/pkg/cluster"
	"github.com/corralproject/corral/pkg/log"
	"github.com/corralproject/corral/pkg/quota"
	"github.com/corralproject/corral/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

// fakeGateway serves crafted reports and records kills; it satisfies both the
// tracker's and the allocation engine's gateway surfaces.
type fakeGateway struct {
	reports map[string]*types.DeviceReport
	cred    types.CredentialStatus
	killed  []int
}

func (g *fakeGateway) QueryDevices(addr string) (*types.DeviceReport, error) {
	report, ok := g.reports[addr]
	if !ok {
		return nil, fmt.Errorf("host %s unreachable", addr)
	}
	return report, nil
}

func (g *fakeGateway) KillProcess(addr string, pid int) error {
	g.killed = append(g.killed, pid)
	return nil
}

func (g *fakeGateway) TestCredential(addr, username, password string) types.CredentialStatus {
	return g.cred
}

func newTestScheduler(t *testing.T, cfg Config, gw *fakeGateway, addrs []string) (*Scheduler, string) {
	t.Helper()

	dir := t.TempDir()
	seedPath := filepath.Join(dir, "quota_init.txt")
	require.NoError(t, os.WriteFile(seedPath, []byte("alice 50\nbob 10\n"), 0o644))

	dataDir := filepath.Join(dir, "data")
	tracker := cluster.NewTracker(gw, addrs)
	ledger := quota.NewLedger(dataDir, seedPath)
	return New(cfg, tracker, ledger, gw), dataDir
}

func TestSyncAndDebitProportionality(t *testing.T) {
	gw := &fakeGateway{reports: map[string]*types.DeviceReport{
		"10.0.0.1:22": {Hostname: "s1", GPUs: []types.GPU{
			{Index: 0, Processes: []types.Process{{Username: "alice", PID: 1, Command: "python"}}},
			{Index: 1, Processes: []types.Process{{Username: "alice", PID: 2, Command: "python"}}},
			{Index: 2},
		}},
	}}
	cfg := Config{SyncInterval: 30 * time.Minute, DumpInterval: time.Hour, ForceSyncDeadtime: time.Minute}
	s, _ := newTestScheduler(t, cfg, gw, []string{"10.0.0.1:22"})
	require.NoError(t, s.ledger.Start())

	s.syncAndDebit()

	// Two devices for half an hour is one hour of quota.
	balances, err := s.Quota("alice")
	require.NoError(t, err)
	assert.InDelta(t, 49.0, balances["alice"], 1e-9)

	// bob held nothing and is not debited.
	balances, err = s.Quota("bob")
	require.NoError(t, err)
	assert.InDelta(t, 10.0, balances["bob"], 1e-9)
}

func TestTriggerSyncThrottle(t *testing.T) {
	gw := &fakeGateway{reports: map[string]*types.DeviceReport{
		"10.0.0.1:22": {Hostname: "s1", GPUs: []types.GPU{{Index: 0}}},
	}}
	cfg := Config{SyncInterval: time.Hour, DumpInterval: time.Hour, ForceSyncDeadtime: time.Hour}
	s, _ := newTestScheduler(t, cfg, gw, []string{"10.0.0.1:22"})
	require.NoError(t, s.ledger.Start())

	assert.True(t, s.TriggerSync(), "first trigger is accepted")
	assert.False(t, s.TriggerSync(), "trigger inside the dead-time is rejected, not queued")
}

func TestTriggerSyncThrottleAppliesAfterFailedSweep(t *testing.T) {
	// No reachable hosts: the sweep fails for every address but still
	// counts for the dead-time.
	gw := &fakeGateway{reports: map[string]*types.DeviceReport{}}
	cfg := Config{SyncInterval: time.Hour, DumpInterval: time.Hour, ForceSyncDeadtime: time.Hour}
	s, _ := newTestScheduler(t, cfg, gw, []string{"10.0.0.1:22"})
	require.NoError(t, s.ledger.Start())

	assert.True(t, s.TriggerSync())
	assert.False(t, s.TriggerSync())
}

func TestQuotaUnknownUser(t *testing.T) {
	gw := &fakeGateway{reports: map[string]*types.DeviceReport{}}
	cfg := Config{SyncInterval: time.Hour, DumpInterval: time.Hour}
	s, _ := newTestScheduler(t, cfg, gw, nil)
	require.NoError(t, s.ledger.Start())

	_, err := s.Quota("mallory")
	assert.ErrorIs(t, err, ErrUserNotFound)

	balances, err := s.Quota("")
	require.NoError(t, err)
	assert.Len(t, balances, 2)
}

func TestAllocateEndToEndWithPreemption(t *testing.T) {
	gw := &fakeGateway{
		reports: map[string]*types.DeviceReport{
			"10.0.0.1:22": {Hostname: "s1", GPUs: []types.GPU{
				{Index: 0, Processes: []types.Process{{Username: "alice", PID: 1, Command: "python"}}},
				{Index: 1, Processes: []types.Process{{Username: "alice", PID: 2, Command: "python"}}},
			}},
			"10.0.0.2:22": {Hostname: "s2", GPUs: []types.GPU{
				{Index: 0, Processes: []types.Process{{Username: "bob", PID: 3, Command: "python"}}},
				{Index: 1, Processes: []types.Process{{Username: "bob", PID: 4, Command: "python"}}},
			}},
		},
		cred: types.CredentialValid,
	}
	cfg := Config{SyncInterval: 6 * time.Hour, DumpInterval: time.Hour, ForceSyncDeadtime: time.Minute}
	s, _ := newTestScheduler(t, cfg, gw, []string{"10.0.0.1:22", "10.0.0.2:22"})
	require.NoError(t, s.ledger.Start())

	// One long sweep drives bob's balance of 10 negative (2 devices for
	// 6 hours is 12 hours), making his devices killable.
	s.syncAndDebit()
	balances, err := s.Quota("bob")
	require.NoError(t, err)
	require.Negative(t, balances["bob"])

	result, err := s.Allocate("carol", "pw", 2)
	require.NoError(t, err)
	assert.Equal(t, "s2", result.Hostname)
	assert.Equal(t, []int{0, 1}, result.GPUIDs)
	assert.ElementsMatch(t, []int{3, 4}, gw.killed)
}

func TestStartStopLifecycle(t *testing.T) {
	gw := &fakeGateway{reports: map[string]*types.DeviceReport{
		"10.0.0.1:22": {Hostname: "s1", GPUs: []types.GPU{
			{Index: 0, Processes: []types.Process{{Username: "alice", PID: 1, Command: "python"}}},
		}},
	}}
	cfg := Config{SyncInterval: 10 * time.Millisecond, DumpInterval: 10 * time.Millisecond, ForceSyncDeadtime: 0}
	s, dataDir := newTestScheduler(t, cfg, gw, []string{"10.0.0.1:22"})

	require.NoError(t, s.Start())
	time.Sleep(50 * time.Millisecond)

	// The initial sweep has debited alice a sliver of quota.
	balances, err := s.Quota("alice")
	require.NoError(t, err)
	assert.Less(t, balances["alice"], 50.0)

	s.Stop()

	// The final dump landed.
	data, err := os.ReadFile(filepath.Join(dataDir, fmt.Sprintf("quota_%s.txt", time.Now().Format("2006-01"))))
	require.NoError(t, err)
	assert.Contains(t, string(data), "alice")
	assert.Contains(t, string(data), "bob")
}

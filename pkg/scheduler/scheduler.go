package scheduler

import (
	"errors"
	"sync"
	"time"

	"github.com/corralproject/corral/pkg/allocator"
	"github.com/corralproject/corral/pkg/cluster"
	"github.com/corralproject/corral/pkg/log"
	"github.com/corralproject/corral/pkg/metrics"
	"github.com/corralproject/corral/pkg/quota"
	"github.com/corralproject/corral/pkg/types"
)

// ErrUserNotFound is returned by Quota when a specific username is untracked.
var ErrUserNotFound = errors.New("username not found")

// Config holds the scheduler's timing parameters.
type Config struct {
	// SyncInterval is the period of the sync-and-debit task.
	SyncInterval time.Duration
	// DumpInterval is the period of ledger persistence.
	DumpInterval time.Duration
	// ForceSyncDeadtime is the minimum gap between syncs before a manual
	// trigger is accepted.
	ForceSyncDeadtime time.Duration
}

// Scheduler drives the periodic background tasks and serializes every
// mutation of shared state under a single process-wide lock: cluster refresh,
// quota debit/rotate/dump, and the entire allocation decision including its
// kill side effects. It exposes the operations the HTTP adapter calls.
type Scheduler struct {
	cfg     Config
	tracker *cluster.Tracker
	ledger  *quota.Ledger
	engine  *allocator.Engine

	// mu is the process-wide lock. Allocation is a read-decide-act
	// sequence that must not interleave with a sync invalidating its
	// snapshot mid-decision.
	mu sync.Mutex

	// lastSync is the completion time of the most recent sweep,
	// successful or not; manual triggers inside the dead-time are
	// rejected, not queued.
	lastSync time.Time

	// resyncCh carries out-of-band refresh requests from the allocation
	// engine. Buffer of one: a pending resync absorbs further requests.
	resyncCh chan struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New wires the scheduler over its collaborators. The allocation engine is
// constructed here so its out-of-band resync trigger lands on this
// scheduler's channel.
func New(cfg Config, tracker *cluster.Tracker, ledger *quota.Ledger, gw allocator.Gateway) *Scheduler {
	s := &Scheduler{
		cfg:      cfg,
		tracker:  tracker,
		ledger:   ledger,
		resyncCh: make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
	s.engine = allocator.NewEngine(tracker, ledger, gw, s.requestResync)
	return s
}

// Start performs the initial ledger rotation and launches the background
// tasks. A failed initial rotation (empty host lists are caught at config
// validation; a missing seed template is caught here) prevents startup.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	err := s.ledger.Start()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.wg.Add(2)
	go s.syncLoop()
	go s.dumpLoop()
	return nil
}

// Stop halts the background tasks and performs a final ledger dump so no
// in-memory debits are lost.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()

	s.mu.Lock()
	s.ledger.Stop()
	s.mu.Unlock()
}

// syncLoop runs the sync-and-debit task every sync interval. A single
// goroutine services both the timer and out-of-band resync requests, so a
// slow sweep never overlaps another.
func (s *Scheduler) syncLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SyncInterval)
	defer ticker.Stop()

	// One sweep up front so state exists before the first interval.
	s.syncAndDebit()

	for {
		select {
		case <-ticker.C:
			s.syncAndDebit()
		case <-s.resyncCh:
			metrics.SyncsTotal.WithLabelValues("resync").Inc()
			s.sync()
		case <-s.stopCh:
			return
		}
	}
}

// dumpLoop persists the ledger every dump interval.
func (s *Scheduler) dumpLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			if err := s.ledger.Dump(); err != nil {
				logger := log.WithComponent("scheduler")
				logger.Error().Err(err).Msg("periodic dump failed")
			} else {
				metrics.QuotaDumpsTotal.Inc()
			}
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

// syncAndDebit runs one sweep and charges every observed user proportionally
// to how many devices the user held simultaneously during the interval.
func (s *Scheduler) syncAndDebit() {
	metrics.SyncsTotal.WithLabelValues("periodic").Inc()
	tally := s.sync()

	s.mu.Lock()
	defer s.mu.Unlock()
	for username, devices := range tally {
		s.ledger.Debit(username, s.cfg.SyncInterval.Hours()*float64(devices))
	}
}

// sync runs one locked sweep and returns the per-user occupancy tally.
func (s *Scheduler) sync() map[string]int {
	logger := log.WithComponent("scheduler")

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	tally := s.tracker.RefreshAll()
	elapsed := time.Since(start)
	s.lastSync = time.Now()

	metrics.SyncDuration.Observe(elapsed.Seconds())
	s.observeOccupancy()
	logger.Debug().Dur("elapsed", elapsed).Int("users", len(tally)).Msg("sweep finished")
	return tally
}

// observeOccupancy refreshes the cluster gauges. Caller holds the lock.
func (s *Scheduler) observeOccupancy() {
	free, occupied := 0, 0
	snapshot := s.tracker.Snapshot()
	for _, devs := range snapshot {
		for _, users := range devs {
			if len(users) == 0 {
				free++
			} else {
				occupied++
			}
		}
	}
	metrics.HostsTracked.Set(float64(len(snapshot)))
	metrics.DevicesTotal.WithLabelValues("free").Set(float64(free))
	metrics.DevicesTotal.WithLabelValues("occupied").Set(float64(occupied))
}

// requestResync schedules an immediate out-of-band sweep. Non-blocking: if a
// resync is already pending it is not queued again.
func (s *Scheduler) requestResync() {
	select {
	case s.resyncCh <- struct{}{}:
	default:
	}
}

// TriggerSync runs a manually requested sweep. Requests within the dead-time
// since the last sweep are rejected as busy rather than queued.
func (s *Scheduler) TriggerSync() bool {
	s.mu.Lock()
	throttled := time.Since(s.lastSync) < s.cfg.ForceSyncDeadtime
	s.mu.Unlock()
	if throttled {
		return false
	}

	metrics.SyncsTotal.WithLabelValues("manual").Inc()
	s.sync()
	return true
}

// Runtime returns the current cluster occupancy snapshot.
func (s *Scheduler) Runtime() types.Runtime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.Snapshot()
}

// Quota returns all balances, or a single user's balance when username is
// non-empty. An unknown specific username is ErrUserNotFound.
func (s *Scheduler) Quota(username string) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balances := s.ledger.Query()
	if username == "" {
		return balances, nil
	}
	balance, ok := balances[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return map[string]float64{username: balance}, nil
}

// Allocate serves one allocation request under the process-wide lock.
func (s *Scheduler) Allocate(username, password string, count int) (*types.Allocation, error) {
	logger := log.WithComponent("scheduler")

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	result, err := s.engine.Allocate(username, password, count)
	logger.Debug().Dur("elapsed", time.Since(start)).Str("user", username).Msg("allocation decided")
	return result, err
}

package quota

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/corralproject/corral/pkg/log"
)

// Ledger tracks per-user remaining GPU-hours for the active calendar month,
// backed by one flat file per month. A new month's file is seeded from a fixed
// initialization template; rotation happens transparently before every read or
// write once the month turns over.
//
// Ledger is not internally synchronized; the scheduler serializes all access
// under the process-wide lock, including the periodic persistence task.
type Ledger struct {
	dataDir  string
	seedPath string

	// now is swappable for rotation tests.
	now func() time.Time

	// currentPath is the file the in-memory balances belong to; empty
	// until the first rotate.
	currentPath string
	balances    map[string]float64
}

// NewLedger creates a ledger over the given data directory and seed template.
func NewLedger(dataDir, seedPath string) *Ledger {
	return &Ledger{
		dataDir:  dataDir,
		seedPath: seedPath,
		now:      time.Now,
		balances: make(map[string]float64),
	}
}

// path computes the expected ledger file for the current calendar month.
func (l *Ledger) path() string {
	return filepath.Join(l.dataDir, fmt.Sprintf("quota_%s.txt", l.now().Format("2006-01")))
}

// Start performs the initial rotation. A missing seed template on a first-ever
// run is the one unrecoverable condition and is returned as an error.
func (l *Ledger) Start() error {
	return l.Rotate()
}

// Stop persists the in-memory ledger so no debits are lost.
func (l *Ledger) Stop() {
	if l.currentPath == "" {
		return
	}
	if err := l.Dump(); err != nil {
		logger := log.WithComponent("quota")
		logger.Error().Err(err).Msg("final dump failed")
	}
}

// Rotate dumps the current in-memory ledger (if one is loaded) and loads the
// file for the current month, seeding it from the template when absent.
// Calling it again within the same month is a no-op.
func (l *Ledger) Rotate() error {
	logger := log.WithComponent("quota")

	newPath := l.path()
	if newPath == l.currentPath {
		return nil
	}

	if l.currentPath != "" {
		if err := l.Dump(); err != nil {
			return fmt.Errorf("failed to dump outgoing ledger: %w", err)
		}
	}

	if _, err := os.Stat(newPath); os.IsNotExist(err) {
		if err := os.MkdirAll(l.dataDir, 0o755); err != nil {
			return fmt.Errorf("failed to create quota directory: %w", err)
		}
		seed, err := os.ReadFile(l.seedPath)
		if err != nil {
			return fmt.Errorf("failed to read seed template: %w", err)
		}
		if err := os.WriteFile(newPath, seed, 0o644); err != nil {
			return fmt.Errorf("failed to seed new ledger: %w", err)
		}
		logger.Info().Str("file", newPath).Msg("new month ledger seeded from template")
	}

	l.currentPath = newPath
	if err := l.load(); err != nil {
		return err
	}
	logger.Info().Str("file", newPath).Int("users", len(l.balances)).Msg("ledger rotated")
	return nil
}

// checkRotate rotates if the month turned over since the last access. Runtime
// rotation failures are logged rather than propagated: a debit against an
// un-rotatable ledger still lands in memory and is persisted later.
func (l *Ledger) checkRotate() {
	if err := l.Rotate(); err != nil {
		logger := log.WithComponent("quota")
		logger.Error().Err(err).Msg("rotation failed")
	}
}

// load parses the current ledger file: whitespace-separated "username balance"
// lines, comment lines prefixed # and blank lines ignored. Malformed lines are
// logged and skipped, never fatal.
func (l *Ledger) load() error {
	logger := log.WithComponent("quota")

	f, err := os.Open(l.currentPath)
	if err != nil {
		return fmt.Errorf("failed to open ledger %s: %w", l.currentPath, err)
	}
	defer f.Close()

	balances := make(map[string]float64)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			logger.Warn().Str("line", line).Msg("cannot parse ledger line, ignored")
			continue
		}
		balance, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			logger.Warn().Str("line", line).Msg("cannot parse ledger line, ignored")
			continue
		}
		balances[fields[0]] = balance
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read ledger %s: %w", l.currentPath, err)
	}

	l.balances = balances
	return nil
}

// Dump serializes the in-memory balances to the current ledger file, one
// "username balance" line per user, in stable order.
func (l *Ledger) Dump() error {
	if l.currentPath == "" {
		return fmt.Errorf("no ledger loaded")
	}

	users := make([]string, 0, len(l.balances))
	for user := range l.balances {
		users = append(users, user)
	}
	sort.Strings(users)

	var b strings.Builder
	for _, user := range users {
		fmt.Fprintf(&b, "%s %.4f\n", user, l.balances[user])
	}

	if err := os.WriteFile(l.currentPath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write ledger %s: %w", l.currentPath, err)
	}
	logger := log.WithComponent("quota")
	logger.Debug().Str("file", l.currentPath).Int("users", len(users)).Msg("ledger dumped")
	return nil
}

// Debit subtracts hours from a tracked user's balance. Untracked users are
// logged and ignored: a user must pre-exist in the seed template to be
// subject to quota, and debit never creates entries.
func (l *Ledger) Debit(username string, hours float64) {
	l.checkRotate()

	logger := log.WithComponent("quota")
	if _, ok := l.balances[username]; !ok {
		logger.Warn().Str("user", username).Msg("user is beyond track, debit ignored")
		return
	}
	l.balances[username] -= hours
	logger.Info().Str("user", username).Float64("hours", hours).Float64("remaining", l.balances[username]).Msg("debited")
}

// Query returns a copy of the full current ledger.
func (l *Ledger) Query() map[string]float64 {
	l.checkRotate()

	snapshot := make(map[string]float64, len(l.balances))
	for user, balance := range l.balances {
		snapshot[user] = balance
	}
	return snapshot
}

// QueryUser returns one user's balance and whether the user is tracked.
func (l *Ledger) QueryUser(username string) (float64, bool) {
	l.checkRotate()
	balance, ok := l.balances[username]
	return balance, ok
}

package gateway

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/corralproject/corral/pkg/log"
	"github.com/corralproject/corral/pkg/types"
)

// deviceQueryCmd produces a JSON report of every GPU and its processes.
const deviceQueryCmd = "gpustat --json"

// probeCmd is the trivial no-op used to verify a fresh connection is live.
const probeCmd = "hostname"

// Config holds the service's operating identity and remote timeouts.
type Config struct {
	// User is the system account the daemon connects as.
	User string
	// KeyPath is the private key for the system account. A leading ~ is
	// expanded against the current user's home directory.
	KeyPath string
	// ConnectTimeout bounds TCP dial plus SSH handshake.
	ConnectTimeout time.Duration
	// ExecTimeout bounds a single remote command execution.
	ExecTimeout time.Duration
}

// Conn is a cached, authenticated connection to one host.
type Conn struct {
	addr   string
	client *ssh.Client
}

// Addr returns the host address this connection reaches.
func (c *Conn) Addr() string { return c.addr }

// Pool owns one reusable system-identity connection per host. It is the sole
// entity permitted to open and close cluster connections. Credential checks
// use separate short-lived connections that are never cached.
type Pool struct {
	cfg    Config
	signer ssh.Signer

	mu    sync.Mutex
	conns map[string]*Conn
}

// NewPool creates a connection pool, loading the system identity key.
func NewPool(cfg Config) (*Pool, error) {
	keyPath := cfg.KeyPath
	if strings.HasPrefix(keyPath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		keyPath = filepath.Join(home, strings.TrimPrefix(keyPath, "~"))
	}

	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key %s: %w", keyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", keyPath, err)
	}

	return &Pool{
		cfg:    cfg,
		signer: signer,
		conns:  make(map[string]*Conn),
	}, nil
}

// Get returns a cached live connection to addr, opening and probing a new one
// on cache miss. It returns nil when the host cannot be reached; callers must
// treat nil as "host temporarily unreachable", not as a fatal condition.
func (p *Pool) Get(addr string) *Conn {
	p.mu.Lock()
	if conn, ok := p.conns[addr]; ok {
		p.mu.Unlock()
		return conn
	}
	p.mu.Unlock()

	logger := log.WithComponent("gateway")

	client, err := p.dial(addr, p.cfg.User, []ssh.AuthMethod{ssh.PublicKeys(p.signer)})
	if err != nil {
		logger.Warn().Str("host", addr).Err(err).Msg("connection failed")
		return nil
	}

	conn := &Conn{addr: addr, client: client}
	// Probe with a no-op before caching; a connection that cannot run
	// commands is useless to every caller.
	if _, err := p.run(conn, probeCmd); err != nil {
		logger.Warn().Str("host", addr).Err(err).Msg("connection probe failed")
		client.Close()
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.conns[addr]; ok {
		// Lost a race with another opener; keep the cached one.
		client.Close()
		return existing
	}
	p.conns[addr] = conn
	return conn
}

// MarkBroken evicts a connection from the cache and closes it. Callers invoke
// this whenever an operation on the connection fails so the next Get call
// re-establishes it.
func (p *Pool) MarkBroken(conn *Conn) {
	if conn == nil {
		return
	}
	p.mu.Lock()
	if cached, ok := p.conns[conn.addr]; ok && cached == conn {
		delete(p.conns, conn.addr)
	}
	p.mu.Unlock()
	conn.client.Close()
	logger := log.WithComponent("gateway")
	logger.Info().Str("host", conn.addr).Msg("connection evicted")
}

// Close tears down every cached connection.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, conn := range p.conns {
		conn.client.Close()
		delete(p.conns, addr)
	}
}

// QueryDevices runs the device-status query against a host and decodes the
// report. Any failure evicts the host's cached connection and is returned as
// an error; the caller drops the host's data for this cycle.
func (p *Pool) QueryDevices(addr string) (*types.DeviceReport, error) {
	conn := p.Get(addr)
	if conn == nil {
		return nil, fmt.Errorf("host %s unreachable", addr)
	}

	out, err := p.run(conn, deviceQueryCmd)
	if err != nil {
		p.MarkBroken(conn)
		return nil, fmt.Errorf("device query on %s failed: %w", addr, err)
	}

	report, err := ParseDeviceReport(out)
	if err != nil {
		// The transport worked, the payload did not; the connection
		// itself is not suspect but the host's data is unusable.
		return nil, fmt.Errorf("device query on %s returned bad report: %w", addr, err)
	}
	return report, nil
}

// KillProcess issues a forced termination for pid on the host. Best-effort:
// no retry, and the caller is expected to log and continue on failure.
func (p *Pool) KillProcess(addr string, pid int) error {
	conn := p.Get(addr)
	if conn == nil {
		return fmt.Errorf("host %s unreachable", addr)
	}
	if _, err := p.run(conn, fmt.Sprintf("kill -9 %d", pid)); err != nil {
		p.MarkBroken(conn)
		return fmt.Errorf("kill %d on %s failed: %w", pid, addr, err)
	}
	return nil
}

// TestCredential opens a short-lived connection authenticated with the
// user-supplied password solely to verify identity. The connection is always
// closed afterward and never cached: its authorization is scoped to a single
// allocation decision.
func (p *Pool) TestCredential(addr, username, password string) types.CredentialStatus {
	client, err := p.dial(addr, username, []ssh.AuthMethod{ssh.Password(password)})
	if err != nil {
		if isAuthError(err) {
			return types.CredentialInvalid
		}
		logger := log.WithComponent("gateway")
		logger.Warn().
			Str("host", addr).Str("user", username).Err(err).
			Msg("credential check connection failed")
		return types.CredentialUnreachable
	}
	client.Close()
	return types.CredentialValid
}

// dial opens an SSH connection bounded by the connect timeout.
func (p *Pool) dial(addr, user string, auth []ssh.AuthMethod) (*ssh.Client, error) {
	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         p.cfg.ConnectTimeout,
	}
	return ssh.Dial("tcp", addr, cfg)
}

// run executes a command on a cached connection, bounded by the exec timeout.
func (p *Pool) run(conn *Conn, cmd string) ([]byte, error) {
	session, err := conn.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.Output(cmd)
		done <- result{out, err}
	}()

	timeout := p.cfg.ExecTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case r := <-done:
		return r.out, r.err
	case <-time.After(timeout):
		session.Close()
		return nil, fmt.Errorf("command %q timed out after %s", cmd, timeout)
	}
}

// ParseDeviceReport decodes the JSON emitted by the device-status query.
func ParseDeviceReport(data []byte) (*types.DeviceReport, error) {
	var report types.DeviceReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode device report: %w", err)
	}
	if report.Hostname == "" {
		return nil, fmt.Errorf("device report missing hostname")
	}
	return &report, nil
}

// isAuthError reports whether an SSH dial failure was an explicit
// authentication rejection rather than a transport problem.
func isAuthError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unable to authenticate")
}

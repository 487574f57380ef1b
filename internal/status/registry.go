package status

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/griddome/domed/internal/circuit"
	"github.com/griddome/domed/internal/rdb"
)

// serverStatus mirrors the teacher's NodeStatus three-state liveness
// model (alive/suspect/dead), generalized to disk-server reachability
// instead of cluster-membership gossip.
type serverStatus string

const (
	serverAlive serverStatus = "alive"
	serverSuspect serverStatus = "suspect"
	serverDead serverStatus = "dead"
)

// serverEntry is one disk server's tracked reachability state.
type serverEntry struct {
	name string
	status serverStatus
	lastSeen time.Time
	breaker *circuit.CircuitBreaker
}

// Prober issues a reachability check against a disk server, returning an
// error if the server cannot be reached. NewRegistry installs TCPProbe;
// the head process wires in a dome_getspaceinfo-based prober through
// internal/ocp once the outbound client pool is constructed.
type Prober func(ctx context.Context, server string) error

// Registry tracks disk-server reachability, replacing the teacher's
// gossip-based cluster membership: there is exactly one head, and the
// membership set is defined by the filesystem table (§4.5
// isDNaKnownServer), not discovered by gossip. Only the health-check
// half of ClusterManager survives here.
type Registry struct {
	mu sync.RWMutex
	servers map[string]*serverEntry
	prober Prober

	suspectAfter time.Duration
	deadAfter time.Duration
}

// NewRegistry constructs an empty Registry using TCPProbe by default.
func NewRegistry() *Registry {
	return &Registry{
		servers: make(map[string]*serverEntry),
		prober: TCPProbe,
		suspectAfter: 30 * time.Second,
		deadAfter: 90 * time.Second,
	}
}

// SetProber overrides the reachability check used by Poll.
func (r *Registry) SetProber(p Prober) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prober = p
}

// sync ensures every distinct server named in fss has a tracked entry,
// dropping entries for servers no longer present.
func (r *Registry) sync(fss []rdb.Filesystem) {
	seen := make(map[string]bool, len(fss))
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, fs := range fss {
		seen[fs.Server] = true
		if _, ok := r.servers[fs.Server]; !ok {
			r.servers[fs.Server] = &serverEntry{
				name: fs.Server,
				status: serverAlive,
				lastSeen: time.Now(),
				breaker: circuit.NewDiskServerBreaker(fs.Server),
			}
		}
	}
	for name := range r.servers {
		if !seen[name] {
			delete(r.servers, name)
		}
	}
}

// isOnline reports whether server is currently considered reachable.
func (r *Registry) isOnline(server string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.servers[server]
	if !ok {
		return false
	}
	return e.status == serverAlive
}

// Status returns server's current liveness classification, mapped onto
// rdb.FSRuntimeStatus.
func (r *Registry) Status(server string) rdb.FSRuntimeStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.servers[server]
	if !ok {
		return rdb.FSUnknown
	}
	switch e.status {
	case serverAlive:
		return rdb.FSOnline
	case serverSuspect:
		return rdb.FSUnknown
	default:
		return rdb.FSBroken
	}
}

// Poll probes every tracked server once, advancing its liveness state
// machine: a successful probe marks it alive and resets lastSeen; a
// failed probe ages it from alive -> suspect -> dead following
// suspectAfter/deadAfter, mirroring the teacher's performHealthChecks
// deadline-timeout escalation.
func (r *Registry) Poll(ctx context.Context) {
	r.mu.RLock()
	entries := make([]*serverEntry, 0, len(r.servers))
	for _, e := range r.servers {
		entries = append(entries, e)
	}
	prober := r.prober
	r.mu.RUnlock()

	now := time.Now()
	for _, e := range entries {
		err := e.breaker.Execute(func() error {
			return prober(ctx, e.name)
		})

		r.mu.Lock()
		if err == nil {
			e.status = serverAlive
			e.lastSeen = now
		} else {
			since := now.Sub(e.lastSeen)
			switch e.status {
			case serverAlive:
				if since > r.suspectAfter {
					e.status = serverSuspect
				}
			case serverSuspect:
				if since > r.deadAfter {
					e.status = serverDead
				}
			}
		}
		r.mu.Unlock()
	}
}

// TCPProbe is the default Prober: a bare TCP dial against server:443,
// sufficient to distinguish a reachable host from a downed or
// network-partitioned one until a dome_getspaceinfo prober is installed
// with SetProber.
func TCPProbe(ctx context.Context, server string) error {
	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(server, "443"))
	if err != nil {
		return err
	}
	return conn.Close()
}

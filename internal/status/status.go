package status

import (
	"context"
	"os"

	"github.com/griddome/domed/internal/rdb"
	"github.com/griddome/domed/pkg/errors"
)

// Status is the head node's admission authority: a periodically reloaded
// Snapshot of the filesystem/pool/quota/user/group tables plus the
// disk-server reachability registry consulted by placement and the dome_*
// handlers.
type Status struct {
	fsAdapter *rdb.FilesystemAdapter
	poolAdapter *rdb.PoolAdapter
	quotaAdapter *rdb.QuotaAdapter
	userAdapter *rdb.UserAdapter
	groupAdapter *rdb.GroupAdapter

	holder snapshotHolder
	registry *Registry

	headNodeName string
	localHostname string
}

// New constructs a Status bound to the given relational adapters. Call
// Reload once before serving traffic and start a Ticker to keep it fresh.
func New(fsAdapter *rdb.FilesystemAdapter, poolAdapter *rdb.PoolAdapter, quotaAdapter *rdb.QuotaAdapter, userAdapter *rdb.UserAdapter, groupAdapter *rdb.GroupAdapter, headNodeName string) *Status {
	hostname, _ := os.Hostname()
	return &Status{
		fsAdapter: fsAdapter,
		poolAdapter: poolAdapter,
		quotaAdapter: quotaAdapter,
		userAdapter: userAdapter,
		groupAdapter: groupAdapter,
		registry: NewRegistry(),
		headNodeName: headNodeName,
		localHostname: hostname,
	}
}

// Reload rebuilds the Snapshot from the relational store, republishes
// the disk-server registry from the new filesystem list, and stamps each
// filesystem's RuntimeStatus from the registry before publishing.
func (s *Status) Reload(ctx context.Context) error {
	snap, err := Reload(ctx, s.fsAdapter, s.poolAdapter, s.quotaAdapter, s.userAdapter, s.groupAdapter)
	if err != nil {
		return err
	}
	s.registry.sync(snap.Filesystems)
	for i := range snap.Filesystems {
		snap.Filesystems[i].RuntimeStatus = s.registry.Status(snap.Filesystems[i].Server)
	}
	s.holder.store(snap)
	return nil
}

// Snapshot returns the current immutable snapshot. Returns nil if Reload
// has never run.
func (s *Status) Snapshot() *Snapshot {
	return s.holder.load()
}

// Registry returns the disk-server reachability registry.
func (s *Status) Registry() *Registry {
	return s.registry
}

// IsDNaKnownServer reports whether dn names the head node, the local
// process's own hostname, or any known filesystem server.
func (s *Status) IsDNaKnownServer(dn string) bool {
	snap := s.Snapshot()
	if snap == nil {
		return false
	}
	return snap.IsDNaKnownServer(dn, s.headNodeName, s.localHostname)
}

// PickFilesystems filters the current snapshot's filesystem list by
// pool/host/fs hints, additionally requiring the disk server answer as
// Online in the reachability registry (RuntimeStatus is populated from
// there, not from the relational store).
func (s *Status) PickFilesystems(pool, host, fs string) ([]rdb.Filesystem, error) {
	snap := s.Snapshot()
	if snap == nil {
		return nil, errors.New(errors.CodeServiceDegraded, "status snapshot not yet loaded").
			WithComponent("status").WithOperation("pickFilesystems")
	}
	candidates, err := snap.PickFilesystems(pool, host, fs)
	if err != nil {
		return nil, err
	}

	out := make([]rdb.Filesystem, 0, len(candidates))
	for _, c := range candidates {
		if s.registry.isOnline(c.Server) {
			c.RuntimeStatus = rdb.FSOnline
			out = append(out, c)
		}
	}
	return out, nil
}

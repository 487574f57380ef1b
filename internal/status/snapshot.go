// Package status holds the in-memory namespace-wide view the dispatcher
// consults for every placement and admission decision: the filesystem/pool
// inventory, quota tokens and the user/group tables, refreshed on a ticker
// rather than hitting the relational store on every request.
package status

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/griddome/domed/internal/rdb"
	"github.com/griddome/domed/pkg/errors"
)

// Snapshot is one immutable view of the status tables. Reload builds a new
// Snapshot and the Status holder swaps it in atomically so readers never
// observe a half-updated view.
type Snapshot struct {
	Filesystems []rdb.Filesystem
	Pools map[string]rdb.Pool
	QuotaTokens []rdb.QuotaToken
	Users map[int64]rdb.User
	Groups map[int64]rdb.Group

	fsByPool map[string][]int
	fsByServer map[string][]int
}

func newSnapshot(fss []rdb.Filesystem, pools []rdb.Pool, tokens []rdb.QuotaToken, users []rdb.User, groups []rdb.Group) *Snapshot {
	s := &Snapshot{
		Filesystems: fss,
		Pools: make(map[string]rdb.Pool, len(pools)),
		QuotaTokens: tokens,
		Users: make(map[int64]rdb.User, len(users)),
		Groups: make(map[int64]rdb.Group, len(groups)),
		fsByPool: make(map[string][]int),
		fsByServer: make(map[string][]int),
	}
	for _, p := range pools {
		s.Pools[p.PoolName] = p
	}
	for _, u := range users {
		s.Users[u.UserID] = u
	}
	for _, g := range groups {
		s.Groups[g.GroupID] = g
	}
	for i, fs := range fss {
		s.fsByPool[fs.PoolName] = append(s.fsByPool[fs.PoolName], i)
		s.fsByServer[fs.Server] = append(s.fsByServer[fs.Server], i)
	}
	return s
}

// PoolSpaces sums physicalsize and freespace across every filesystem of
// pool.
func (s *Snapshot) PoolSpaces(pool string) (physical, free int64) {
	for _, i := range s.fsByPool[pool] {
		fs := s.Filesystems[i]
		physical += fs.PhysicalSize
		free += fs.FreeSpace
	}
	return physical, free
}

// PfnMatchesFS reports whether pfn has fs.FS as a path-prefix on a component
// boundary. It delegates to the package-level helper in rdb/filesystem.go,
// shared by both the relational adapter and placement's candidate filter.
func PfnMatchesFS(pfn string, fs *rdb.Filesystem) bool {
	return rdb.PfnMatchesFS(pfn, fs.FS)
}

// LfnMatchesAnyCanPullFS reports whether any filesystem of a Volatile pool
// is compatible with lfn's quota-token, is good for write and has at
// least minFreeBytes free, returning the first such filesystem found.
func (s *Snapshot) LfnMatchesAnyCanPullFS(lfn string, minFreeBytes int64) (*rdb.Filesystem, bool) {
	token, ok := s.WhichQuotatokenForLfn(lfn)
	if !ok {
		return nil, false
	}
	pool, ok := s.Pools[token.PoolName]
	if !ok || pool.SType != rdb.PoolVolatile {
		return nil, false
	}
	for _, i := range s.fsByPool[pool.PoolName] {
		fs := &s.Filesystems[i]
		if fs.IsGoodForWrite() && fs.FreeSpace >= minFreeBytes {
			return fs, true
		}
	}
	return nil, false
}

// WhichQuotatokenForLfn ascends lfn's directory components; the first token
// whose Path is a prefix wins, ties broken by first occurrence in
// QuotaTokens (mirroring a first-in-multimap tie-break).
func (s *Snapshot) WhichQuotatokenForLfn(lfn string) (*rdb.QuotaToken, bool) {
	var best *rdb.QuotaToken
	bestLen := -1
	for i := range s.QuotaTokens {
		tok := &s.QuotaTokens[i]
		if !isPathPrefix(tok.Path, lfn) {
			continue
		}
		if len(tok.Path) > bestLen {
			best = tok
			bestLen = len(tok.Path)
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

func isPathPrefix(prefix, lfn string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(lfn, prefix) {
		return false
	}
	return len(lfn) == len(prefix) || lfn[len(prefix)] == '/'
}

// CanWriteIntoQuotatoken reports whether the request's resolved gids
// intersect token.GroupsForWrite, or GroupsForWrite is empty (permissive
// default).
func CanWriteIntoQuotatoken(token *rdb.QuotaToken, gids []uint32) bool {
	if len(token.GroupsForWrite) == 0 {
		return true
	}
	for _, g := range gids {
		for _, allowed := range token.GroupsForWrite {
			if int64(g) == allowed {
				return true
			}
		}
	}
	return false
}

// FitsInQuotatoken reports whether token has at least size bytes of
// remaining allowance.
func FitsInQuotatoken(token *rdb.QuotaToken, size int64) bool {
	return token.TSpace-token.USpace >= size
}

// IsDNaKnownServer reports whether dn names a host matching headNodeName,
// the local hostname, or any filesystem server in the snapshot.
func (s *Snapshot) IsDNaKnownServer(dn string, headNodeName, localHostname string) bool {
	host := hostFromDN(dn)
	if host == "" {
		return false
	}
	if host == headNodeName || host == localHostname {
		return true
	}
	_, ok := s.fsByServer[host]
	return ok
}

// hostFromDN extracts the hostname a peer DN encodes. The grid ACL model
// this daemon implements names peers by "CN=<hostname>" or the bare
// hostname; both forms are accepted.
func hostFromDN(dn string) string {
	if idx := strings.LastIndex(dn, "CN="); idx >= 0 {
		rest := dn[idx+3:]
		if end := strings.IndexByte(rest, ','); end >= 0 {
			rest = rest[:end]
		}
		return rest
	}
	return dn
}

// PickFilesystems filters the live filesystem list by pool/host/fs hints
// and IsGoodForWrite(). Exactly one of pool or host may be non-empty; fs
// further restricts a host.
func (s *Snapshot) PickFilesystems(pool, host, fs string) ([]rdb.Filesystem, error) {
	if pool != "" && host != "" {
		return nil, errors.New(errors.CodeBadRequest, "exactly one of pool or host may be set").
			WithComponent("status").WithOperation("pickFilesystems")
	}

	var candidates []int
	switch {
	case pool != "":
		candidates = s.fsByPool[pool]
	case host != "":
		candidates = s.fsByServer[host]
	default:
		for i := range s.Filesystems {
			candidates = append(candidates, i)
		}
	}

	out := make([]rdb.Filesystem, 0, len(candidates))
	for _, i := range candidates {
		f := s.Filesystems[i]
		if !f.IsGoodForWrite() {
			continue
		}
		if fs != "" && f.FS != fs {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// globalPutCount is the atomic monotone counter getGlobalputcount wraps,
// used to make replica PFNs unique within a second.
var globalPutCount uint32

// GetGlobalPutCount returns the next value of the process-wide put
// counter, wrapping at 2^31.
func GetGlobalPutCount() uint32 {
	return atomic.AddUint32(&globalPutCount, 1) & 0x7fffffff
}

// Reload pulls a fresh Snapshot from the relational store.
func Reload(ctx context.Context, fsAdapter *rdb.FilesystemAdapter, poolAdapter *rdb.PoolAdapter, quotaAdapter *rdb.QuotaAdapter, userAdapter *rdb.UserAdapter, groupAdapter *rdb.GroupAdapter) (*Snapshot, error) {
	fss, err := fsAdapter.List(ctx)
	if err != nil {
		return nil, err
	}
	pools, err := poolAdapter.List(ctx)
	if err != nil {
		return nil, err
	}
	users, err := userAdapter.List(ctx)
	if err != nil {
		return nil, err
	}
	groups, err := groupAdapter.List(ctx)
	if err != nil {
		return nil, err
	}

	tokens, err := quotaAdapter.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	return newSnapshot(fss, pools, tokens, users, groups), nil
}

// snapshotHolder atomically publishes Snapshots for lock-free reads.
type snapshotHolder struct {
	v atomic.Value
}

func (h *snapshotHolder) store(s *Snapshot) {
	h.v.Store(s)
}

func (h *snapshotHolder) load() *Snapshot {
	s, _ := h.v.Load().(*Snapshot)
	return s
}

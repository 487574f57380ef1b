package dome

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/griddome/domed/internal/dispatch"
	"github.com/griddome/domed/internal/rdb"
	"github.com/griddome/domed/internal/security"
	"github.com/griddome/domed/pkg/errors"
)

// handleAddPool implements dome_addpool (H).
func handleAddPool(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	pool := &rdb.Pool{
		PoolName: env.StringField("poolname"),
		DefSize: env.Int64Field("defsize"),
		SType: rdb.PoolType(env.StringField("stype")),
		GroupsForRead: env.StringField("groupsforread"),
	}
	if pool.PoolName == "" {
		return nil, errors.New(errors.CodeBadRequest, "addpool requires a poolname").
			WithComponent("dome").WithOperation("addpool")
	}
	if pool.SType == "" {
		pool.SType = rdb.PoolPermanent
	}
	if err := s.Pools.Add(ctx, pool); err != nil {
		return nil, err
	}
	return map[string]interface{}{"poolname": pool.PoolName}, nil
}

// handleModifyPool implements dome_modifypool (H).
func handleModifyPool(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	pool := &rdb.Pool{
		PoolName: env.StringField("poolname"),
		DefSize: env.Int64Field("defsize"),
		SType: rdb.PoolType(env.StringField("stype")),
		GroupsForRead: env.StringField("groupsforread"),
	}
	if err := s.Pools.Modify(ctx, pool); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "modified"}, nil
}

// handleRmPool implements dome_rmpool (H).
func handleRmPool(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	poolName := env.StringField("poolname")
	fss, err := s.Filesystems.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, fs := range fss {
		if fs.PoolName == poolName {
			return nil, errors.New(errors.CodeNotEmpty, "pool still has filesystems attached").
				WithComponent("dome").WithOperation("rmpool").WithDetail("poolname", poolName)
		}
	}
	if err := s.Pools.Remove(ctx, poolName); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "removed"}, nil
}

// handleAddFSToPool implements dome_addfstopool (H): verifies the target
// disk server answers dome_statpfn before persisting the filesystem, so a
// typo'd hostname never becomes a write candidate.
func handleAddFSToPool(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	fs := &rdb.Filesystem{
		Server: env.StringField("server"),
		FS: env.StringField("fs"),
		PoolName: env.StringField("poolname"),
		StaticStatus: rdb.FSStaticStatus(env.StringField("status")),
	}
	if fs.Server == "" || fs.FS == "" || fs.PoolName == "" {
		return nil, errors.New(errors.CodeBadRequest, "addfstopool requires server, fs and poolname").
			WithComponent("dome").WithOperation("addfstopool")
	}
	if fs.StaticStatus == "" {
		fs.StaticStatus = rdb.FSActive
	}
	if s.OCP != nil {
		if _, err := s.OCP.StatPfn(ctx, fs.Server, fs.FS); err != nil {
			return nil, errors.New(errors.CodeConnectionFailed, "disk server did not answer dome_statpfn").
				WithComponent("dome").WithOperation("addfstopool").WithCause(err)
		}
	}
	if err := s.Filesystems.Add(ctx, fs); err != nil {
		return nil, err
	}
	return map[string]interface{}{"server": fs.Server, "fs": fs.FS}, nil
}

// handleModifyFS implements dome_modifyfs (H).
func handleModifyFS(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	fs := &rdb.Filesystem{
		Server: env.StringField("server"),
		FS: env.StringField("fs"),
		PoolName: env.StringField("poolname"),
		StaticStatus: rdb.FSStaticStatus(env.StringField("status")),
		FreeSpace: env.Int64Field("freespace"),
		PhysicalSize: env.Int64Field("physicalsize"),
	}
	if err := s.Filesystems.Modify(ctx, fs); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "modified"}, nil
}

// handleRmFS implements dome_rmfs (H).
func handleRmFS(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	if err := s.Filesystems.Remove(ctx, env.StringField("server"), env.StringField("fs")); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "removed"}, nil
}

// handleGetSpaceInfo implements dome_getspaceinfo. On the head it returns
// the cached snapshot figures for a pool; on the disk it probes the local
// mount directly via statfs(2), the same call the slow ticker's disk side
// issues against itself.
func handleGetSpaceInfo(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	if !s.IsHead {
		fs := env.StringField("fs")
		if fs == "" {
			fs = "/"
		}
		free, physical, err := localDiskSpace(fs)
		if err != nil {
			return nil, errors.New(errors.CodeInternal, "statfs failed").
				WithComponent("dome").WithOperation("getspaceinfo").WithCause(err)
		}
		return map[string]interface{}{"freespace": free, "physicalsize": physical}, nil
	}

	snap := s.Status.Snapshot()
	if snap == nil {
		return nil, errors.New(errors.CodeServiceDegraded, "status snapshot not yet loaded").
			WithComponent("dome").WithOperation("getspaceinfo")
	}
	physical, free := snap.PoolSpaces(env.StringField("poolname"))
	return map[string]interface{}{"freespace": free, "physicalsize": physical}, nil
}

// localDiskSpace statfs(2)s mountPath, the same stdlib syscall the
// corpus's local-filesystem backend uses for disk usage reporting —
// there is no portable third-party replacement for a raw statfs call.
func localDiskSpace(mountPath string) (free, physical int64, err error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(mountPath, &st); err != nil {
		return 0, 0, err
	}
	bs := int64(st.Bsize) //nolint:unconvert
	return bs * int64(st.Bavail), bs * int64(st.Blocks), nil
}

// handleStatPool implements dome_statpool (H, GET): per-filesystem space
// breakdown for one pool.
func handleStatPool(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	snap := s.Status.Snapshot()
	if snap == nil {
		return nil, errors.New(errors.CodeServiceDegraded, "status snapshot not yet loaded").
			WithComponent("dome").WithOperation("statpool")
	}
	poolName := env.StringField("poolname")
	fss, err := snap.PickFilesystems(poolName, "", "")
	if err != nil {
		return nil, err
	}
	entries := make([]map[string]interface{}, 0, len(fss))
	var totalFree, totalPhysical int64
	for _, fs := range fss {
		totalFree += fs.FreeSpace
		totalPhysical += fs.PhysicalSize
		entries = append(entries, map[string]interface{}{
			"server": fs.Server, "fs": fs.FS, "freespace": fs.FreeSpace, "physicalsize": fs.PhysicalSize,
		})
	}
	return map[string]interface{}{
		"poolname": poolName, "freespace": totalFree, "physicalsize": totalPhysical, "filesystems": entries,
	}, nil
}

// handleGetDirSpaces implements dome_getdirspaces (H, GET): the quota
// tokens whose path prefixes cover lfn, longest-prefix first.
func handleGetDirSpaces(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	tokens, err := s.Quota.ByPathPrefix(ctx, env.StringField("lfn"))
	if err != nil {
		return nil, err
	}
	entries := make([]map[string]interface{}, len(tokens))
	for i, t := range tokens {
		entries[i] = map[string]interface{}{
			"path": t.Path, "poolname": t.PoolName, "tspace": t.TSpace, "uspace": t.USpace,
		}
	}
	return map[string]interface{}{"spaces": entries}, nil
}

// handleStatPfn implements dome_statpfn (D, GET): a local stat of a pfn,
// used by the head's addfstopool/putdone round trips.
func handleStatPfn(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	pfn := env.StringField("pfn")
	var st syscall.Stat_t
	if err := syscall.Stat(pfn, &st); err != nil {
		return nil, errors.New(errors.CodeNotFound, "pfn not found").
			WithComponent("dome").WithOperation("statpfn").WithCause(err)
	}
	return map[string]interface{}{"size": st.Size}, nil
}

// handleMakeSpace implements dome_makespace (D): evicts the oldest
// files under the filesystem root named by fs until targetbytes bytes
// have been reclaimed. Files are only removed locally: no
// dome_delreplica is sent to the head, so the head's replica rows for
// the evicted files are left in place.
func handleMakeSpace(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	fsRoot := env.StringField("fs")
	targetBytes := env.Int64Field("targetbytes")
	if fsRoot == "" || targetBytes <= 0 {
		return nil, errors.New(errors.CodeBadRequest, "makespace requires fs and targetbytes").
			WithComponent("dome").WithOperation("makespace")
	}

	victims, err := oldestFiles(fsRoot, targetBytes)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "failed to scan filesystem for eviction candidates").
			WithComponent("dome").WithOperation("makespace").WithCause(err)
	}

	reclaimed := int64(0)
	evicted := make([]string, 0, len(victims))
	for _, v := range victims {
		if reclaimed >= targetBytes {
			break
		}
		if err := os.Remove(v.path); err != nil {
			continue
		}
		reclaimed += v.size
		evicted = append(evicted, v.path)
	}

	return map[string]interface{}{"reclaimed": reclaimed, "evicted": evicted}, nil
}

type evictionCandidate struct {
	path string
	size int64
	mtime int64
}

// oldestFiles walks fsRoot and returns regular files ordered oldest-mtime
// first, stopping once the accumulated size covers targetBytes.
func oldestFiles(fsRoot string, targetBytes int64) ([]evictionCandidate, error) {
	var all []evictionCandidate
	err := filepath.Walk(fsRoot, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !info.IsDir() {
			all = append(all, evictionCandidate{path: path, size: info.Size(), mtime: info.ModTime().Unix()})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].mtime < all[j].mtime })

	var out []evictionCandidate
	var sum int64
	for _, c := range all {
		out = append(out, c)
		sum += c.size
		if sum >= targetBytes {
			break
		}
	}
	return out, nil
}

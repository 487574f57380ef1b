// Package placement implements the put-placement engine: given a pool,
// disk server or filesystem hint (or none, in which case a quota token
// must resolve one), it picks a target filesystem weighted by free
// space, mints a PFN, and creates the namespace entry and Volatile- or
// Permanent-state replica row a dome_put is staged against.
package placement

import (
	"context"
	"fmt"
	"math/rand/v2"
	"path"
	"strings"
	"time"

	"github.com/griddome/domed/internal/rdb"
	"github.com/griddome/domed/internal/status"
	"github.com/griddome/domed/pkg/errors"
)

// Engine is the head node's placement authority, bound to the live status
// snapshot and the relational namespace/replica/quota adapters it acts
// against.
type Engine struct {
	status *status.Status
	namespace *rdb.Namespace
	replicas *rdb.ReplicaAdapter
	quota *rdb.QuotaAdapter

	minFreeSpaceMB int64
	dirSpaceReportDepth int
}

// NewEngine constructs an Engine.
func NewEngine(st *status.Status, namespace *rdb.Namespace, replicas *rdb.ReplicaAdapter, quota *rdb.QuotaAdapter, minFreeSpaceMB int64, dirSpaceReportDepth int) *Engine {
	if minFreeSpaceMB <= 0 {
		minFreeSpaceMB = 4096
	}
	return &Engine{
		status: st,
		namespace: namespace,
		replicas: replicas,
		quota: quota,
		minFreeSpaceMB: minFreeSpaceMB,
		dirSpaceReportDepth: dirSpaceReportDepth,
	}
}

// PutRequest is a dome_put's parsed arguments.
type PutRequest struct {
	LFN string
	Pool string
	Host string
	Filesystem string
	UID uint32
	GID uint32
	GIDs []uint32
	// AdditionalReplica is true for a dome_putdone-free "add a replica to
	// an existing file" request: filesystems already holding a replica of
	// LFN are excluded from candidate selection.
	AdditionalReplica bool
}

// PutResult is what the dome_put handler hands back to the client: where
// to write, and the RFN identifying the staged replica for dome_putdone.
type PutResult struct {
	FileID int64
	ReplicaID int64
	Server string
	PFN string
	RFN string
	QuotaToken string
}

const mib = 1 << 20

// Pick resolves the candidate pool/host/fs, picks a target filesystem,
// mints a PFN and creates the namespace entry (unless AdditionalReplica)
// plus a BeingPopulated replica row, returning where the caller should
// write.
func (e *Engine) Pick(ctx context.Context, req *PutRequest) (*PutResult, error) {
	snap := e.status.Snapshot()
	if snap == nil {
		return nil, errors.New(errors.CodeServiceDegraded, "status snapshot not yet loaded").
			WithComponent("placement").WithOperation("pick")
	}

	pool, host, fs := req.Pool, req.Host, req.Filesystem
	var token *rdb.QuotaToken

	if pool == "" && host == "" && fs == "" {
		tok, ok := snap.WhichQuotatokenForLfn(req.LFN)
		if !ok {
			return nil, errors.New(errors.CodeBadRequest, "no pool/host/fs hint given and no quota token applies to lfn").
				WithComponent("placement").WithOperation("pick")
		}
		if !status.CanWriteIntoQuotatoken(tok, req.GIDs) {
			return nil, errors.New(errors.CodePermissionDenied, "caller's groups are not authorized to write into this quota token").
				WithComponent("placement").WithOperation("pick")
		}
		token = tok
		pool = tok.PoolName
	}

	candidates, err := e.status.PickFilesystems(pool, host, fs)
	if err != nil {
		return nil, err
	}

	candidates = e.filterMinFreeSpace(candidates, snap, pool)

	if req.AdditionalReplica {
		candidates, err = e.excludeExistingReplicas(ctx, req.LFN, candidates)
		if err != nil {
			return nil, err
		}
	}

	if len(candidates) == 0 {
		return nil, errors.New(errors.CodeNoSpace, "no filesystem has sufficient free space for this write").
			WithComponent("placement").WithOperation("pick")
	}

	target, err := e.weightedPick(candidates)
	if err != nil {
		return nil, err
	}

	vo, err := voFromLFN(req.LFN)
	if err != nil {
		return nil, err
	}

	pfn, err := mintPFN(target.FS, vo, req.LFN)
	if err != nil {
		return nil, err
	}

	var fileID int64
	if req.AdditionalReplica {
		st, err := e.namespace.GetStatByLFN(ctx, req.LFN)
		if err != nil {
			return nil, err
		}
		fileID = st.FileID
	} else {
		st, err := e.createFileEntry(ctx, req.LFN, req.UID, req.GID)
		if err != nil {
			return nil, err
		}
		fileID = st.FileID
	}

	replType := rdb.ReplicaPermanent
	if pool, ok := snap.Pools[target.PoolName]; ok && pool.SType == rdb.PoolVolatile {
		replType = rdb.ReplicaVolatile
	}

	rep, err := e.replicas.AddReplica(ctx, &rdb.Replica{
		FileID: fileID,
		RFN: rdb.EncodeRFN(target.Server, pfn),
		Server: target.Server,
		PFN: pfn,
		Pool: target.PoolName,
		Filesystem: target.FS,
		Status: rdb.ReplicaBeingPopulated,
		Type: replType,
	})
	if err != nil {
		return nil, err
	}

	result := &PutResult{
		FileID: fileID,
		ReplicaID: rep.ReplicaID,
		Server: target.Server,
		PFN: pfn,
		RFN: rep.RFN,
	}
	if token != nil {
		result.QuotaToken = token.SToken
	}
	return result, nil
}

// filterMinFreeSpace drops filesystems below the admission threshold:
// head.put.minfreespace_mb MB, overridden by the target pool's defsize
// when set. A Volatile pool's filesystems are instead compared against
// PhysicalSize, since Volatile capacity is evictable rather than free.
func (e *Engine) filterMinFreeSpace(candidates []rdb.Filesystem, snap *status.Snapshot, pool string) []rdb.Filesystem {
	out := make([]rdb.Filesystem, 0, len(candidates))
	for _, fs := range candidates {
		threshold := e.minFreeSpaceMB * mib
		poolName := pool
		if poolName == "" {
			poolName = fs.PoolName
		}
		p, ok := snap.Pools[poolName]
		if ok && p.DefSize > 0 {
			threshold = p.DefSize * mib
		}

		measure := fs.FreeSpace
		if ok && p.SType == rdb.PoolVolatile {
			measure = fs.PhysicalSize
		}
		if measure < threshold {
			continue
		}
		out = append(out, fs)
	}
	return out
}

// excludeExistingReplicas drops any filesystem that already holds a
// replica of lfn, for an additional-replica request.
func (e *Engine) excludeExistingReplicas(ctx context.Context, lfn string, candidates []rdb.Filesystem) ([]rdb.Filesystem, error) {
	st, err := e.namespace.GetStatByLFN(ctx, lfn)
	if err != nil {
		return nil, err
	}
	existing, err := e.replicas.GetReplicas(ctx, st.FileID)
	if err != nil {
		return nil, err
	}

	taken := make(map[string]bool, len(existing))
	for _, r := range existing {
		taken[r.Server+"\x00"+r.Filesystem] = true
	}

	out := make([]rdb.Filesystem, 0, len(candidates))
	for _, fs := range candidates {
		if !taken[fs.Server+"\x00"+fs.FS] {
			out = append(out, fs)
		}
	}
	return out, nil
}

// weightedPick chooses one survivor at random, weighted by free space in
// MiB.
func (e *Engine) weightedPick(candidates []rdb.Filesystem) (*rdb.Filesystem, error) {
	weights := make([]float64, len(candidates))
	var total float64
	for i, fs := range candidates {
		w := float64(fs.FreeSpace) / mib
		if w <= 0 {
			w = 1
		}
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return nil, errors.New(errors.CodeNoSpace, "no candidate filesystem carries a usable weight").
			WithComponent("placement").WithOperation("weightedPick")
	}

	r := rand.Float64() * total
	var cum float64
	for i, w := range weights {
		cum += w
		if r <= cum {
			return &candidates[i], nil
		}
	}
	return &candidates[len(candidates)-1], nil
}

// createFileEntry creates lfn's parent directory chain (mkdir -p) and the
// file entry itself.
func (e *Engine) createFileEntry(ctx context.Context, lfn string, uid, gid uint32) (*rdb.ExtendedStat, error) {
	dir, base := path.Split(strings.TrimRight(lfn, "/"))
	parent, err := e.mkdirAll(ctx, dir, uid, gid)
	if err != nil {
		return nil, err
	}
	return e.namespace.CreateFile(ctx, parent.FileID, base, 0o664, uid, gid)
}

// mkdirAll walks dir component by component from the namespace root,
// creating any directory entry that doesn't already exist.
func (e *Engine) mkdirAll(ctx context.Context, dir string, uid, gid uint32) (*rdb.ExtendedStat, error) {
	current, err := e.namespace.GetStatByFileID(ctx, 0)
	if err != nil {
		return nil, err
	}

	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		if part == "" {
			continue
		}
		next, err := e.namespace.GetStatByParentFileID(ctx, current.FileID, part)
		if err == nil {
			current = next
			continue
		}
		next, err = e.namespace.MakeDir(ctx, current.FileID, part, 0o774, uid, gid)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

// voFromLFN returns the VO name: path component #4 (0-indexed, counting
// the leading empty component of an absolute path) of the LFN. A
// conformant LFN has at least 5 real path components, e.g.
// /dpm/example.org/home/<vo>/<rest...>.
func voFromLFN(lfn string) (string, error) {
	tokens := strings.Split(lfn, "/")
	if len(tokens) < 6 || tokens[0] != "" {
		return "", errors.New(errors.CodeLFNTooShallow, "lfn has fewer than 5 path components; cannot derive a VO").
			WithComponent("placement").WithOperation("voFromLFN").
			WithDetail("lfn", lfn)
	}
	return tokens[4], nil
}

// mintPFN builds a PFN of shape <fs>/<vo>/<YYYY-MM-DD>/<basename>.<globalputcount>.<unixtime>,
// the layout a dome_putdone will later validate a stat against.
func mintPFN(fsRoot, vo, lfn string) (string, error) {
	base := path.Base(lfn)
	if base == "" || base == "/" || base == "." || strings.HasSuffix(lfn, "/") {
		return "", errors.New(errors.CodeBadRequest, "lfn has no usable basename").
			WithComponent("placement").WithOperation("mintPFN")
	}
	date := time.Now().UTC().Format("2006-01-02")
	name := fmt.Sprintf("%s.%d.%d", base, status.GetGlobalPutCount(), time.Now().Unix())
	return path.Join(fsRoot, vo, date, name), nil
}

// MintPFN is Pick's PFN-minting step, exported for the pull workflow:
// a pull target filesystem needs the identical PFN shape a dome_put
// would have minted for the same LFN.
func MintPFN(fsRoot, lfn string) (string, error) {
	vo, err := voFromLFN(lfn)
	if err != nil {
		return "", err
	}
	return mintPFN(fsRoot, vo, lfn)
}

package placement

import (
	"context"

	"github.com/griddome/domed/internal/rdb"
	"github.com/griddome/domed/pkg/errors"
)

// SizeProber is the disk-side size check a head-side Finalizer calls when
// the client's dome_putdone didn't report a size: a dome_statpfn round
// trip through the outbound client pool.
type SizeProber interface {
	StatPfn(ctx context.Context, server, pfn string) (int64, error)
}

// Finalizer implements dome_putdone: it transitions a BeingPopulated
// replica to Available, records the file's final size and checksum, and
// credits the consuming quota token's used-space counter.
type Finalizer struct {
	replicas *rdb.ReplicaAdapter
	namespace *rdb.Namespace
	quota *rdb.QuotaAdapter
	dirSpaceReportDepth int
}

// NewFinalizer constructs a Finalizer.
func NewFinalizer(replicas *rdb.ReplicaAdapter, namespace *rdb.Namespace, quota *rdb.QuotaAdapter, dirSpaceReportDepth int) *Finalizer {
	return &Finalizer{
		replicas: replicas,
		namespace: namespace,
		quota: quota,
		dirSpaceReportDepth: dirSpaceReportDepth,
	}
}

// PutDone finalizes the replica named by rfn. reportedSize may be 0, in
// which case the size is recovered from prober's dome_statpfn (if given).
// Re-finalizing an already-Available replica is a no-op, matching a
// client retrying a putdone whose first response was lost.
func (f *Finalizer) PutDone(ctx context.Context, rfn string, reportedSize int64, checksumType, checksumValue string, prober SizeProber) error {
	rep, err := f.replicas.GetReplicaByRFN(ctx, rfn)
	if err != nil {
		return err
	}

	if rep.Status == rdb.ReplicaAvailable {
		return nil
	}
	if rep.Status != rdb.ReplicaBeingPopulated {
		return errors.New(errors.CodeNotBeingPopulated, "replica is not in the BeingPopulated state").
			WithComponent("placement").WithOperation("putDone").WithDetail("rfn", rfn)
	}

	size := reportedSize
	if size <= 0 && prober != nil {
		probed, err := prober.StatPfn(ctx, rep.Server, rep.PFN)
		if err != nil {
			return err
		}
		size = probed
	}
	if size <= 0 {
		return errors.New(errors.CodeBadRequest, "putdone reported no size and none could be recovered").
			WithComponent("placement").WithOperation("putDone").WithDetail("rfn", rfn)
	}

	if err := f.replicas.UpdateReplica(ctx, rep.ReplicaID, rdb.ReplicaAvailable); err != nil {
		return err
	}
	if checksumType != "" {
		if err := f.namespace.SetChecksum(ctx, rep.FileID, checksumType, checksumValue); err != nil {
			return err
		}
	}
	if err := f.namespace.SetSize(ctx, rep.FileID, size); err != nil {
		return err
	}
	if err := f.namespace.AddFilesizeToDirs(ctx, rep.FileID, size, f.dirSpaceReportDepth); err != nil {
		return err
	}

	return f.chargeQuota(ctx, rep.FileID, size)
}

// chargeQuota debits size from the quota token whose path prefix governs
// fileID's logical path, the longest-prefix match mirroring
// status.Snapshot.WhichQuotatokenForLfn. A file outside every token's path
// (no space reservation applies) is not an error.
func (f *Finalizer) chargeQuota(ctx context.Context, fileID, size int64) error {
	if f.quota == nil {
		return nil
	}

	lfn, err := f.namespace.FullPath(ctx, fileID)
	if err != nil {
		return err
	}

	tokens, err := f.quota.ByPathPrefix(ctx, lfn)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}
	return f.quota.AddToUSpace(ctx, tokens[0].SToken, size)
}

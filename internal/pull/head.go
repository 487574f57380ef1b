package pull

import (
	"context"

	"github.com/griddome/domed/internal/gpq"
	"github.com/griddome/domed/internal/placement"
	"github.com/griddome/domed/internal/rdb"
	"github.com/griddome/domed/internal/status"
	"github.com/griddome/domed/pkg/errors"
)

// Dispatcher issues a disk node's dome_pull, the head-to-disk call that
// starts the background fetch once the pull queue admits it.
type Dispatcher interface {
	DoPull(ctx context.Context, server, lfn, pfn string, neededSpace int64) error
}

// Orchestrator is the head-side half of the pull workflow: dome_get
// serves an existing Available replica directly, or, failing that,
// stages a Volatile replica and admits the fetch through the file-pulls
// GPQ queue; Tick dispatches every item the queue promotes to Running.
type Orchestrator struct {
	queue *gpq.Queue
	status *status.Status
	namespace *rdb.Namespace
	replicas *rdb.ReplicaAdapter
	dispatcher Dispatcher
	minFreeSpaceMB int64
}

// NewOrchestrator constructs an Orchestrator bound to queue, the head's
// file-pulls GPQ instance (§4.7: "two queue instances exist on the head
// node, one for checksum jobs and one for file pulls").
func NewOrchestrator(queue *gpq.Queue, st *status.Status, namespace *rdb.Namespace, replicas *rdb.ReplicaAdapter, dispatcher Dispatcher, minFreeSpaceMB int64) *Orchestrator {
	return &Orchestrator{
		queue: queue,
		status: st,
		namespace: namespace,
		replicas: replicas,
		dispatcher: dispatcher,
		minFreeSpaceMB: minFreeSpaceMB,
	}
}

// Request implements dome_get's admission step for a file with no
// Available replica: it stages a Volatile replica on a filesystem that
// can satisfy lfn's quota token and enqueues the fetch, returning the
// staged rfn for the caller to poll via dome_pullstatus.
func (o *Orchestrator) Request(ctx context.Context, lfn string, priority int) (rfn string, pending bool, err error) {
	st, err := o.namespace.GetStatByLFN(ctx, lfn)
	if err != nil {
		return "", false, err
	}

	existing, err := o.replicas.GetReplicas(ctx, st.FileID)
	if err != nil {
		return "", false, err
	}
	for _, rep := range existing {
		if rep.Status == rdb.ReplicaAvailable {
			return rep.RFN, false, nil
		}
	}

	snap := o.status.Snapshot()
	if snap == nil {
		return "", false, errors.New(errors.CodeServiceDegraded, "no filesystem status snapshot available").
			WithComponent("pull").WithOperation("request")
	}
	fs, ok := snap.LfnMatchesAnyCanPullFS(lfn, o.minFreeSpaceMB*mib)
	if !ok {
		return "", false, errors.New(errors.CodeNoSpace, "no volatile pool filesystem can stage this lfn").
			WithComponent("pull").WithOperation("request").WithDetail("lfn", lfn)
	}

	pfn, err := placement.MintPFN(fs.FS, lfn)
	if err != nil {
		return "", false, err
	}

	rep, err := o.replicas.AddReplica(ctx, &rdb.Replica{
		FileID: st.FileID,
		Server: fs.Server,
		PFN: pfn,
		Pool: fs.PoolName,
		Filesystem: fs.FS,
		Status: rdb.ReplicaBeingPopulated,
		Type: rdb.ReplicaVolatile,
	})
	if err != nil {
		return "", false, err
	}

	o.queue.TouchItemOrCreateNew(rep.RFN, gpq.Waiting, priority, []string{"", fs.Server, lfn})
	return rep.RFN, true, nil
}

const mib = 1 << 20

// Tick advances the file-pulls queue's admission and dispatches every
// item newly promoted to Running to its owning disk server's dome_pull.
// A dispatch failure re-queues the item as Waiting rather than leaving
// it stuck Running forever, since nothing will ever call back to
// finish it.
func (o *Orchestrator) Tick(ctx context.Context) {
	for _, it := range o.queue.Tick() {
		server, pfn, ok := rdb.DecodeRFN(it.NameKey)
		if !ok {
			continue
		}
		lfn := ""
		if len(it.Qualifiers) > 2 {
			lfn = it.Qualifiers[2]
		}

		go func(it *gpq.Item, server, pfn, lfn string) {
			if err := o.dispatcher.DoPull(ctx, server, lfn, pfn, o.minFreeSpaceMB*mib); err != nil {
				o.queue.TouchItemOrCreateNew(it.NameKey, gpq.Waiting, it.Priority, it.Qualifiers)
			}
		}(it, server, pfn, lfn)
	}
}

// Status implements dome_pullstatus: the disk-to-head callback reporting
// a pull job's outcome. The GPQ item is finished regardless of outcome;
// on success the staged replica is promoted to Available and its size
// recorded.
func (o *Orchestrator) Status(ctx context.Context, rfn string, size, mode int64, jobErr error) error {
	rep, err := o.replicas.GetReplicaByRFN(ctx, rfn)
	if err != nil {
		return err
	}

	if it, ok := o.queue.Get(rfn); ok {
		o.queue.TouchItemOrCreateNew(rfn, gpq.Finished, it.Priority, it.Qualifiers)
	}

	if jobErr != nil {
		return jobErr
	}

	if err := o.replicas.UpdateReplica(ctx, rep.ReplicaID, rdb.ReplicaAvailable); err != nil {
		return err
	}
	return o.namespace.SetSize(ctx, rep.FileID, size)
}

package checksum

import (
	"context"

	"github.com/griddome/domed/internal/gpq"
	"github.com/griddome/domed/internal/rdb"
)

// Dispatcher issues a disk node's dome_dochksum, the head-to-disk call
// that starts the background job once the checksum queue admits it.
type Dispatcher interface {
	DoChksum(ctx context.Context, server, pfn, checksumType string) error
}

// Orchestrator is the head-side half of the checksum workflow: dome_chksum
// serves a cached value or admits a new job through the checksum GPQ
// queue; Tick dispatches every item the queue promotes to Running.
type Orchestrator struct {
	queue *gpq.Queue
	replicas *rdb.ReplicaAdapter
	namespace *rdb.Namespace
	dispatcher Dispatcher
}

// NewOrchestrator constructs an Orchestrator bound to queue, the head's
// checksum GPQ instance (§4.7: "two queue instances exist on the head
// node, one for checksum jobs and one for file pulls").
func NewOrchestrator(queue *gpq.Queue, replicas *rdb.ReplicaAdapter, namespace *rdb.Namespace, dispatcher Dispatcher) *Orchestrator {
	return &Orchestrator{queue: queue, replicas: replicas, namespace: namespace, dispatcher: dispatcher}
}

// Request implements dome_chksum: if the replica's file already carries
// a checksum of the requested type, it is returned directly; otherwise
// the job is (re-)enqueued and pending is true.
func (o *Orchestrator) Request(ctx context.Context, rfn, checksumType string, priority int) (value string, pending bool, err error) {
	rep, err := o.replicas.GetReplicaByRFN(ctx, rfn)
	if err != nil {
		return "", false, err
	}

	st, err := o.namespace.GetStatByFileID(ctx, rep.FileID)
	if err != nil {
		return "", false, err
	}
	if st.CSumType == checksumType && st.CSumValue != "" {
		return st.CSumValue, false, nil
	}

	// Qualifiers[2] carries the checksum type alongside the server, an
	// informational column with no admission limit, so Tick can dispatch
	// without a side table mapping rfn back to its checksum type.
	o.queue.TouchItemOrCreateNew(rfn, gpq.Waiting, priority, []string{"", rep.Server, checksumType})
	return "", true, nil
}

// Tick advances the checksum queue's admission and dispatches every item
// newly promoted to Running to its owning disk server's dome_dochksum.
// A dispatch failure (server unreachable, circuit open) re-queues the
// item as Waiting rather than leaving it stuck Running forever, since
// nothing will ever call back to finish it.
func (o *Orchestrator) Tick(ctx context.Context) {
	for _, it := range o.queue.Tick() {
		server, pfn, ok := rdb.DecodeRFN(it.NameKey)
		if !ok {
			continue
		}
		checksumType := ""
		if len(it.Qualifiers) > 2 {
			checksumType = it.Qualifiers[2]
		}

		go func(it *gpq.Item, server, pfn, checksumType string) {
			if err := o.dispatcher.DoChksum(ctx, server, pfn, checksumType); err != nil {
				o.queue.TouchItemOrCreateNew(it.NameKey, gpq.Waiting, it.Priority, it.Qualifiers)
			}
		}(it, server, pfn, checksumType)
	}
}

// Status implements dome_chksumstatus: the disk-to-head callback
// reporting a checksum job's outcome. The GPQ item is finished
// regardless of outcome; on success the file's checksum columns are
// updated.
func (o *Orchestrator) Status(ctx context.Context, rfn, checksumType, value string, jobErr error) error {
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
	return o.namespace.SetChecksum(ctx, rep.FileID, checksumType, value)
}

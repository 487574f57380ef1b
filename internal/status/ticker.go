package status

import (
	"context"
	"time"
)

// SpaceProbe reports a filesystem's current free/physical space, called by
// Ticker's fscheckinterval leg. The head's implementation issues
// dome_getspaceinfo against the owning disk server; tests can stub it.
type SpaceProbe func(ctx context.Context, server, fs string) (freeSpace, physicalSize int64, err error)

// Ticker drives the slow background tick described for the status
// subsystem: reload the filesystem/pool/quota/user/group snapshot,
// re-probe filesystem space, and poll disk-server reachability, each on
// its own configured interval. It observes ctx cancellation instead of a
// boolean termination flag, the idiomatic Go substitute for a
// terminationrequested field.
type Ticker struct {
	status *Status

	tickFreq time.Duration
	reloadFSQuotas time.Duration
	fsCheckInterval time.Duration

	spaceProbe SpaceProbe

	lastReload time.Time
	lastSpaceCheck time.Time
}

// NewTicker constructs a Ticker for status, ticking every tickFreq and
// running its reload/space-check legs on their own (longer) intervals.
func NewTicker(status *Status, tickFreq, reloadFSQuotas, fsCheckInterval time.Duration) *Ticker {
	return &Ticker{
		status: status,
		tickFreq: tickFreq,
		reloadFSQuotas: reloadFSQuotas,
		fsCheckInterval: fsCheckInterval,
	}
}

// SetSpaceProbe installs the function used to re-probe a filesystem's
// free/physical space on the fscheckinterval leg. Without one, the space
// leg is a no-op (space figures stay as last reloaded from the relational
// store).
func (t *Ticker) SetSpaceProbe(p SpaceProbe) {
	t.spaceProbe = p
}

// Run blocks ticking until ctx is canceled.
func (t *Ticker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.tickFreq)
	defer ticker.Stop()

	t.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.tickAt(ctx, now)
		}
	}
}

func (t *Ticker) tick(ctx context.Context) {
	t.tickAt(ctx, time.Now())
}

func (t *Ticker) tickAt(ctx context.Context, now time.Time) {
	if now.Sub(t.lastReload) >= t.reloadFSQuotas || t.lastReload.IsZero() {
		if err := t.status.Reload(ctx); err == nil {
			t.lastReload = now
		}
	}

	if now.Sub(t.lastSpaceCheck) >= t.fsCheckInterval || t.lastSpaceCheck.IsZero() {
		t.refreshSpace(ctx)
		t.lastSpaceCheck = now
	}

	t.status.registry.Poll(ctx)
}

func (t *Ticker) refreshSpace(ctx context.Context) {
	if t.spaceProbe == nil {
		return
	}
	snap := t.status.Snapshot()
	if snap == nil {
		return
	}
	for _, fs := range snap.Filesystems {
		free, physical, err := t.spaceProbe(ctx, fs.Server, fs.FS)
		if err != nil {
			continue
		}
		_ = t.status.fsAdapter.UpdateSpace(ctx, fs.Server, fs.FS, free, physical)
	}
}

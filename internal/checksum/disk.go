package checksum

import (
	"context"
	"fmt"

	"github.com/griddome/domed/internal/rdb"
	"github.com/griddome/domed/internal/taskexec"
	"github.com/griddome/domed/pkg/errors"
)

// Reporter is the disk-to-head callback a Runner uses to report a
// checksum job's outcome, implemented against the outbound client pool
// as a dome_chksumstatus POST.
type Reporter interface {
	ChksumStatus(ctx context.Context, rfn, checksumType, value string, jobErr error) error
}

// Runner is the disk-side half of the checksum workflow: dome_dochksum
// spawns the checksum binary through TaskExec; when it completes,
// OnTaskCompleted looks up the job's logical context and reports the
// result to the head.
type Runner struct {
	executor *taskexec.Executor
	tasks *rdb.TaskTables
	binary string
	reporter Reporter
}

// NewRunner constructs a Runner. binary is glb's configured checksum
// executable path.
func NewRunner(executor *taskexec.Executor, tasks *rdb.TaskTables, binary string, reporter Reporter) *Runner {
	return &Runner{executor: executor, tasks: tasks, binary: binary, reporter: reporter}
}

// Start implements dome_dochksum: submits `<binary> <checksumType> <pfn>`
// to the task executor and records the job's logical context, keyed by
// the TaskExec key, for OnTaskCompleted to find when it finishes.
func (r *Runner) Start(ctx context.Context, server, pfn, checksumType, lfn, clientDN string) (uint64, error) {
	key, err := r.executor.SubmitCmd([]string{r.binary, checksumType, pfn})
	if err != nil {
		return 0, err
	}

	if err := r.tasks.PutPendingChecksum(ctx, &rdb.PendingChecksum{
		TaskKey: int64(key),
		LFN: lfn,
		Server: server,
		PFN: pfn,
		ClientDN: clientDN,
		ChecksumType: checksumType,
	}); err != nil {
		return 0, err
	}
	return key, nil
}

// OnTaskCompleted is a taskexec.OnTaskCompleted: it only acts on tasks
// that have a pending-checksum row, silently ignoring any other kind of
// task the same executor might be running (e.g. a file pull).
func (r *Runner) OnTaskCompleted(info *taskexec.Info) {
	ctx := context.Background()
	pc, err := r.tasks.GetPendingChecksum(ctx, int64(info.Key))
	if err != nil {
		return
	}

	rfn := rdb.EncodeRFN(pc.Server, pc.PFN)
	if info.ExitCode != 0 {
		jobErr := errors.New(errors.CodeInternal, fmt.Sprintf("checksum binary exited %d", info.ExitCode)).
			WithComponent("checksum").WithOperation("onTaskCompleted")
		_ = r.reporter.ChksumStatus(ctx, rfn, pc.ChecksumType, "", jobErr)
		return
	}

	digest, ok := ParseHash(info.Stdout)
	if !ok {
		jobErr := errors.New(errors.CodeInternal, "checksum binary produced no HASH line").
			WithComponent("checksum").WithOperation("onTaskCompleted")
		_ = r.reporter.ChksumStatus(ctx, rfn, pc.ChecksumType, "", jobErr)
		return
	}

	_ = r.reporter.ChksumStatus(ctx, rfn, pc.ChecksumType, digest, nil)
}

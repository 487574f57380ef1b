package pull

import (
	"context"
	"fmt"

	"github.com/griddome/domed/internal/rdb"
	"github.com/griddome/domed/internal/taskexec"
	"github.com/griddome/domed/pkg/errors"
)

// Reporter is the disk-to-head callback a Runner uses to report a
// pull's outcome, implemented against the outbound client pool as a
// dome_pullstatus POST.
type Reporter interface {
	PullStatus(ctx context.Context, rfn string, size, mode int64, jobErr error) error
}

// Runner is the disk-side half of the pull workflow: dome_pull spawns
// the pull hook through TaskExec; when it completes, OnTaskCompleted
// looks up the job's logical context and reports the result to the
// head.
type Runner struct {
	executor *taskexec.Executor
	tasks *rdb.TaskTables
	hook string
	reporter Reporter
}

// NewRunner constructs a Runner. hook is disk.filepuller.pullhook.
func NewRunner(executor *taskexec.Executor, tasks *rdb.TaskTables, hook string, reporter Reporter) *Runner {
	return &Runner{executor: executor, tasks: tasks, hook: hook, reporter: reporter}
}

// Start implements dome_pull: submits `<hook> <lfn> <pfn> <neededspace>`
// to the task executor and records the job's logical context, keyed by
// the TaskExec key, for OnTaskCompleted to find when it finishes.
func (r *Runner) Start(ctx context.Context, server, lfn, pfn string, neededSpace int64, clientDN string) (uint64, error) {
	key, err := r.executor.SubmitCmd([]string{r.hook, lfn, pfn, fmt.Sprintf("%d", neededSpace)})
	if err != nil {
		return 0, err
	}

	if err := r.tasks.PutPendingPull(ctx, &rdb.PendingPull{
		TaskKey: int64(key),
		LFN: lfn,
		Server: server,
		PFN: pfn,
		ClientDN: clientDN,
		NeededSpace: neededSpace,
	}); err != nil {
		return 0, err
	}
	return key, nil
}

// OnTaskCompleted is a taskexec.OnTaskCompleted: it only acts on tasks
// that have a pending-pull row, silently ignoring any other kind of task
// the same executor might be running (e.g. a checksum job).
func (r *Runner) OnTaskCompleted(info *taskexec.Info) {
	ctx := context.Background()
	pp, err := r.tasks.GetPendingPull(ctx, int64(info.Key))
	if err != nil {
		return
	}

	rfn := rdb.EncodeRFN(pp.Server, pp.PFN)
	if info.ExitCode != 0 {
		jobErr := errors.New(errors.CodeInternal, fmt.Sprintf("pull hook exited %d", info.ExitCode)).
			WithComponent("pull").WithOperation("onTaskCompleted")
		_ = r.reporter.PullStatus(ctx, rfn, 0, 0, jobErr)
		return
	}

	size, mode, ok := ParseStat(info.Stdout)
	if !ok {
		jobErr := errors.New(errors.CodeInternal, "pull hook produced no STAT line").
			WithComponent("pull").WithOperation("onTaskCompleted")
		_ = r.reporter.PullStatus(ctx, rfn, 0, 0, jobErr)
		return
	}

	_ = r.reporter.PullStatus(ctx, rfn, size, mode, nil)
}

// Package taskexec spawns child processes with three-pipe I/O,
// captures a capped slice of their stdout, and notifies callers of
// completion or ongoing-running status on a tick, the task executor
// (TE) underneath the checksum and pull workflows.
package taskexec

import (
	"context"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/griddome/domed/internal/buffer"
	"github.com/griddome/domed/pkg/errors"
)

// OnTaskCompleted is invoked once per finished Task, outside the
// Executor's lock, as the Task transitions to TaskFinished.
type OnTaskCompleted func(t *Info)

// OnTaskRunning is invoked on every tick for each Task still running,
// outside the Executor's lock.
type OnTaskRunning func(t *Info)

// Executor is the task executor: a map of in-flight and recently
// finished Tasks, a kill-on-timeout/purge-on-age tick, and the
// buffer pool backing each Task's capped stdout capture.
type Executor struct {
	mu sync.Mutex
	tasks map[uint64]*Task
	nextKey uint64

	maxRunningTime time.Duration
	purgeTime time.Duration
	stdoutCap int
	pool *buffer.BytePool

	onCompleted OnTaskCompleted
	onRunning OnTaskRunning
}

// New constructs an Executor. maxRunningTime and purgeTime mirror
// glb.task.{maxrunningtime,purgetime}; stdoutCap bounds how many bytes
// of a child's stdout are retained.
func New(maxRunningTime, purgeTime time.Duration, stdoutCap int) *Executor {
	return &Executor{
		tasks: make(map[uint64]*Task),
		maxRunningTime: maxRunningTime,
		purgeTime: purgeTime,
		stdoutCap: stdoutCap,
		pool: buffer.NewBytePool(),
	}
}

// SetCallbacks installs the completion/still-running callbacks. Both
// run outside the Executor's lock and must not call back into it.
func (e *Executor) SetCallbacks(onCompleted OnTaskCompleted, onRunning OnTaskRunning) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCompleted = onCompleted
	e.onRunning = onRunning
}

// SubmitCmd spawns argv as a child process with piped stdin/stdout/
// stderr, assigns it a monotone key, and returns immediately — the
// child runs on a detached goroutine that captures stdout up to the
// configured cap and reports completion via the OnTaskCompleted
// callback.
func (e *Executor) SubmitCmd(argv []string) (uint64, error) {
	if len(argv) == 0 {
		return 0, errors.New(errors.CodeBadRequest, "empty command").WithComponent("taskexec").WithOperation("submitCmd")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return 0, errors.New(errors.CodeInternal, "failed to open stdin pipe").WithCause(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, errors.New(errors.CodeInternal, "failed to open stdout pipe").WithCause(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, errors.New(errors.CodeInternal, "failed to open stderr pipe").WithCause(err)
	}

	if err := cmd.Start(); err != nil {
		return 0, errors.New(errors.CodeInternal, "failed to start task").WithCause(err)
	}
	_ = stdin.Close() // three-pipe setup; nothing is written to the child

	key := atomic.AddUint64(&e.nextKey, 1)
	task := &Task{
		Key: key,
		Argv: argv,
		Started: time.Now(),
		cmd: cmd,
		done: make(chan struct{}),
	}

	e.mu.Lock()
	e.tasks[key] = task
	e.mu.Unlock()

	go e.run(task, stdout, stderr)

	return key, nil
}

// run captures stdout into a capped buffer, drains and discards
// stderr and any stdout past the cap so the child never blocks on a
// full pipe, reaps it with Wait, and publishes the result.
func (e *Executor) run(task *Task, stdout, stderr io.ReadCloser) {
	buf := e.pool.GetBuffer(e.stdoutCap)
	n, _ := io.ReadFull(stdout, buf)

	var drain sync.WaitGroup
	drain.Add(1)
	go func() {
		defer drain.Done()
		io.Copy(io.Discard, stderr)
	}()
	io.Copy(io.Discard, stdout)
	drain.Wait() // Wait must not run until every pipe read has completed

	captured := append([]byte(nil), buf[:n]...)
	e.pool.PutBuffer(buf)

	waitErr := task.cmd.Wait()
	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	task.setFinished(captured, exitCode, waitErr, time.Now())

	if cb := e.completedCallback(); cb != nil {
		cb(task.Snapshot())
	}
}

func (e *Executor) completedCallback() OnTaskCompleted {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.onCompleted
}

// WaitResult blocks until key's Task finishes, tmout elapses, or ctx
// is canceled, returning the Task's state either way.
func (e *Executor) WaitResult(ctx context.Context, key uint64, tmout time.Duration) (*Info, error) {
	e.mu.Lock()
	task, ok := e.tasks[key]
	e.mu.Unlock()
	if !ok {
		return nil, errors.New(errors.CodeTaskNotFound, "unknown task").WithComponent("taskexec").WithOperation("waitResult")
	}

	timer := time.NewTimer(tmout)
	defer timer.Stop()

	select {
	case <-task.done:
		return task.Snapshot(), nil
	case <-timer.C:
		return task.Snapshot(), errors.New(errors.CodeOperationTimeout, "task did not finish within deadline").
			WithComponent("taskexec").WithOperation("waitResult")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// KillTask sends SIGKILL to a non-finished task. The worker goroutine
// still performs the normal Wait/capture/callback sequence once the
// kill takes effect; KillTask itself does not mark the task finished.
func (e *Executor) KillTask(key uint64) error {
	e.mu.Lock()
	task, ok := e.tasks[key]
	e.mu.Unlock()
	if !ok {
		return errors.New(errors.CodeTaskNotFound, "unknown task").WithComponent("taskexec").WithOperation("killTask")
	}
	return e.killTask(task)
}

func (e *Executor) killTask(task *Task) error {
	task.mu.Lock()
	defer task.mu.Unlock()
	if task.Status == TaskFinished {
		return nil
	}
	if task.cmd.Process != nil {
		return task.cmd.Process.Signal(syscall.SIGKILL)
	}
	return nil
}

// Tick kills tasks running longer than maxRunningTime, purges
// finished tasks older than purgeTime, and invokes OnTaskRunning for
// every task still running — all three done under the Executor lock
// only long enough to snapshot the task map, with callbacks invoked
// afterward to avoid lock inversion with network code.
func (e *Executor) Tick() {
	now := time.Now()

	e.mu.Lock()
	var toKill []*Task
	var toNotify []*Task
	for key, task := range e.tasks {
		task.mu.Lock()
		switch task.Status {
		case TaskRunning:
			if now.Sub(task.Started) > e.maxRunningTime {
				toKill = append(toKill, task)
			} else {
				toNotify = append(toNotify, task)
			}
		case TaskFinished:
			if now.Sub(task.Finished) > e.purgeTime {
				delete(e.tasks, key)
			}
		}
		task.mu.Unlock()
	}
	onRunning := e.onRunning
	e.mu.Unlock()

	for _, task := range toKill {
		_ = e.killTask(task)
	}
	if onRunning != nil {
		for _, task := range toNotify {
			onRunning(task.Snapshot())
		}
	}
}

// Len returns the number of tasks currently tracked (running or
// finished but not yet purged).
func (e *Executor) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tasks)
}

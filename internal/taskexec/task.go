package taskexec

import (
	"os/exec"
	"sync"
	"time"
)

// Status is a Task's place in its running/finished lifecycle.
type Status int

const (
	TaskRunning Status = iota
	TaskFinished
)

func (s Status) String() string {
	if s == TaskFinished {
		return "finished"
	}
	return "running"
}

// Task is one spawned child process: its argv, pid, captured stdout
// (capped at the Executor's configured byte limit) and exit outcome.
// Every field but Key/Argv/Started is guarded by mu, since the worker
// goroutine, WaitResult callers and Executor.Tick all observe it
// concurrently.
type Task struct {
	Key uint64
	Argv []string
	Started time.Time

	mu sync.Mutex
	cmd *exec.Cmd
	Status Status
	Stdout []byte
	ExitCode int
	Err error
	Finished time.Time

	done chan struct{}
}

// Info is an immutable copy of a Task's observable fields, safe to
// pass around without holding the Task's own lock.
type Info struct {
	Key uint64
	Argv []string
	Started time.Time
	Status Status
	Stdout []byte
	ExitCode int
	Err error
	Finished time.Time
}

// Snapshot copies out the Task's current observable fields.
func (t *Task) Snapshot() *Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &Info{
		Key: t.Key,
		Argv: t.Argv,
		Started: t.Started,
		Status: t.Status,
		Stdout: append([]byte(nil), t.Stdout...),
		ExitCode: t.ExitCode,
		Err: t.Err,
		Finished: t.Finished,
	}
}

func (t *Task) setFinished(stdout []byte, exitCode int, err error, finishedAt time.Time) {
	t.mu.Lock()
	t.Status = TaskFinished
	t.Stdout = stdout
	t.ExitCode = exitCode
	t.Err = err
	t.Finished = finishedAt
	t.mu.Unlock()
	close(t.done)
}

package rdb

import (
	"context"
	"time"

	"github.com/griddome/domed/pkg/errors"
)

// TaskTables persists the PendingChecksum/PendingPull side tables that map
// a TaskExec key to the logical context needed when its completion
// callback fires.
type TaskTables struct {
	db *DB
}

// NewTaskTables constructs a TaskTables adapter.
func NewTaskTables(db *DB) *TaskTables {
	return &TaskTables{db: db}
}

// PutPendingChecksum records the context for an outstanding checksum task.
func (t *TaskTables) PutPendingChecksum(ctx context.Context, pc *PendingChecksum) error {
	pc.CreatedAt = time.Now().Unix()
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO pending_checksum (taskkey, lfn, server, pfn, clientdn, checksumtype, updatelfnchecksum, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		pc.TaskKey, pc.LFN, pc.Server, pc.PFN, pc.ClientDN, pc.ChecksumType, pc.UpdateLFNChecksum, pc.CreatedAt)
	if err != nil {
		return errors.New(errors.CodeInternal, "failed to record pending checksum").WithCause(err)
	}
	return nil
}

// GetPendingChecksum retrieves and removes the context for taskKey.
func (t *TaskTables) GetPendingChecksum(ctx context.Context, taskKey int64) (*PendingChecksum, error) {
	var pc PendingChecksum
	err := t.db.GetContext(ctx, &pc, `
		SELECT taskkey, lfn, server, pfn, clientdn, checksumtype, updatelfnchecksum, created_at
		FROM pending_checksum WHERE taskkey = $1`, taskKey)
	if err != nil {
		return nil, errors.New(errors.CodeTaskNotFound, "no pending checksum for task").WithCause(err)
	}
	_, _ = t.db.ExecContext(ctx, `DELETE FROM pending_checksum WHERE taskkey = $1`, taskKey)
	return &pc, nil
}

// PutPendingPull records the context for an outstanding file pull.
func (t *TaskTables) PutPendingPull(ctx context.Context, pp *PendingPull) error {
	pp.CreatedAt = time.Now().Unix()
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO pending_pull (taskkey, lfn, server, pfn, clientdn, neededspace, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		pp.TaskKey, pp.LFN, pp.Server, pp.PFN, pp.ClientDN, pp.NeededSpace, pp.CreatedAt)
	if err != nil {
		return errors.New(errors.CodeInternal, "failed to record pending pull").WithCause(err)
	}
	return nil
}

// GetPendingPull retrieves and removes the context for taskKey.
func (t *TaskTables) GetPendingPull(ctx context.Context, taskKey int64) (*PendingPull, error) {
	var pp PendingPull
	err := t.db.GetContext(ctx, &pp, `
		SELECT taskkey, lfn, server, pfn, clientdn, neededspace, created_at
		FROM pending_pull WHERE taskkey = $1`, taskKey)
	if err != nil {
		return nil, errors.New(errors.CodeTaskNotFound, "no pending pull for task").WithCause(err)
	}
	_, _ = t.db.ExecContext(ctx, `DELETE FROM pending_pull WHERE taskkey = $1`, taskKey)
	return &pp, nil
}

package rdb

import (
	"context"
	"strings"
	"time"

	"github.com/griddome/domed/pkg/errors"
)

// ReplicaAdapter implements the replica half of the RA.
type ReplicaAdapter struct {
	db *DB
	cache CacheInvalidator
}

// NewReplicaAdapter constructs a ReplicaAdapter.
func NewReplicaAdapter(db *DB, cache CacheInvalidator) *ReplicaAdapter {
	if cache == nil {
		cache = noopInvalidator{}
	}
	return &ReplicaAdapter{db: db, cache: cache}
}

// EncodeRFN builds the wire-format "server:pfn" replica reference.
func EncodeRFN(server, pfn string) string {
	return server + ":" + pfn
}

// DecodeRFN splits a wire-format replica reference back into server/pfn.
func DecodeRFN(rfn string) (server, pfn string, ok bool) {
	idx := strings.Index(rfn, ":")
	if idx < 0 {
		return "", "", false
	}
	return rfn[:idx], rfn[idx+1:], true
}

// AddReplica inserts a new replica row, typically in BeingPopulated status.
func (r *ReplicaAdapter) AddReplica(ctx context.Context, rep *Replica) (*Replica, error) {
	if rep.RFN == "" {
		rep.RFN = EncodeRFN(rep.Server, rep.PFN)
	}
	now := time.Now().Unix()
	rep.ATime, rep.CTime, rep.MTime = now, now, now

	row := r.db.QueryRowxContext(ctx, `
		INSERT INTO file_replica
		(fileid, rfn, server, pfn, pool, filesystem, setname, status, type, access_count, atime, ctime, mtime)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,0,$10,$10,$10)
		RETURNING replicaid`,
		rep.FileID, rep.RFN, rep.Server, rep.PFN, rep.Pool, rep.Filesystem, rep.SetName,
		rep.Status, rep.Type, now)

	if err := row.Scan(&rep.ReplicaID); err != nil {
		return nil, errors.New(errors.CodeInternal, "addReplica failed").
			WithComponent("rdb").WithOperation("addReplica").WithCause(err)
	}

	r.cache.WipeEntry(rep.FileID, 0, "")
	return rep, nil
}

// UpdateReplica updates status, checksum-bearing xattrs, and touches mtime.
func (r *ReplicaAdapter) UpdateReplica(ctx context.Context, replicaID int64, status ReplicaStatus) error {
	_, err := r.db.ExecContext(ctx, `UPDATE file_replica SET status = $2, mtime = $3 WHERE replicaid = $1`,
		replicaID, status, time.Now().Unix())
	if err != nil {
		return errors.New(errors.CodeInternal, "updateReplica failed").WithCause(err)
	}

	rep, err := r.GetReplicaByID(ctx, replicaID)
	if err == nil {
		r.cache.WipeEntry(rep.FileID, 0, "")
	}
	return nil
}

// DelReplica removes a replica row.
func (r *ReplicaAdapter) DelReplica(ctx context.Context, replicaID int64) error {
	rep, err := r.GetReplicaByID(ctx, replicaID)
	if err != nil {
		return err
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM file_replica WHERE replicaid = $1`, replicaID); err != nil {
		return errors.New(errors.CodeInternal, "delReplica failed").WithCause(err)
	}

	r.cache.WipeEntry(rep.FileID, 0, "")
	return nil
}

// GetReplicas returns all replicas of fileID.
func (r *ReplicaAdapter) GetReplicas(ctx context.Context, fileID int64) ([]Replica, error) {
	var reps []Replica
	err := r.db.SelectContext(ctx, &reps, `
		SELECT replicaid, fileid, rfn, server, pfn, pool, filesystem, setname,
		status, type, access_count, atime, ctime, mtime
		FROM file_replica WHERE fileid = $1`, fileID)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "getReplicas failed").WithCause(err)
	}
	return reps, nil
}

// GetReplicaByRFN looks up a replica by its wire-format reference.
func (r *ReplicaAdapter) GetReplicaByRFN(ctx context.Context, rfn string) (*Replica, error) {
	var rep Replica
	err := r.db.GetContext(ctx, &rep, `
		SELECT replicaid, fileid, rfn, server, pfn, pool, filesystem, setname,
		status, type, access_count, atime, ctime, mtime
		FROM file_replica WHERE rfn = $1`, rfn)
	if err != nil {
		return nil, errors.New(errors.CodeReplicaMissing, "no such replica").
			WithComponent("rdb").WithOperation("getReplicabyRFN").WithCause(err)
	}
	return &rep, nil
}

// GetReplicaByID looks up a replica by its primary key.
func (r *ReplicaAdapter) GetReplicaByID(ctx context.Context, replicaID int64) (*Replica, error) {
	var rep Replica
	err := r.db.GetContext(ctx, &rep, `
		SELECT replicaid, fileid, rfn, server, pfn, pool, filesystem, setname,
		status, type, access_count, atime, ctime, mtime
		FROM file_replica WHERE replicaid = $1`, replicaID)
	if err != nil {
		return nil, errors.New(errors.CodeReplicaMissing, "no such replica").
			WithComponent("rdb").WithOperation("getReplicabyId").WithCause(err)
	}
	return &rep, nil
}

package rdb

import (
	"context"
	"strings"

	"github.com/griddome/domed/pkg/errors"
)

// FilesystemAdapter implements filesystem CRUD — the relational half only; reachability probing lives in
// internal/status.
type FilesystemAdapter struct {
	db *DB
}

// NewFilesystemAdapter constructs a FilesystemAdapter.
func NewFilesystemAdapter(db *DB) *FilesystemAdapter {
	return &FilesystemAdapter{db: db}
}

// Add inserts a new filesystem row.
func (f *FilesystemAdapter) Add(ctx context.Context, fs *Filesystem) error {
	_, err := f.db.ExecContext(ctx, `
		INSERT INTO fs (server, fs, poolname, status, freespace, physicalsize)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		fs.Server, fs.FS, fs.PoolName, fs.StaticStatus, fs.FreeSpace, fs.PhysicalSize)
	if err != nil {
		return errors.New(errors.CodeExists, "filesystem already exists").
			WithComponent("rdb").WithOperation("addfstopool").WithCause(err)
	}
	return nil
}

// Modify updates a filesystem's mutable fields.
func (f *FilesystemAdapter) Modify(ctx context.Context, fs *Filesystem) error {
	_, err := f.db.ExecContext(ctx, `
		UPDATE fs SET poolname = $3, status = $4, freespace = $5, physicalsize = $6
		WHERE server = $1 AND fs = $2`,
		fs.Server, fs.FS, fs.PoolName, fs.StaticStatus, fs.FreeSpace, fs.PhysicalSize)
	if err != nil {
		return errors.New(errors.CodeInternal, "modifyfs failed").WithCause(err)
	}
	return nil
}

// Remove deletes a filesystem row.
func (f *FilesystemAdapter) Remove(ctx context.Context, server, fs string) error {
	_, err := f.db.ExecContext(ctx, `DELETE FROM fs WHERE server = $1 AND fs = $2`, server, fs)
	if err != nil {
		return errors.New(errors.CodeInternal, "rmfs failed").WithCause(err)
	}
	return nil
}

// List returns every filesystem row.
func (f *FilesystemAdapter) List(ctx context.Context) ([]Filesystem, error) {
	var out []Filesystem
	err := f.db.SelectContext(ctx, &out, `
		SELECT server, fs, poolname, status, freespace, physicalsize FROM fs`)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "failed to list filesystems").WithCause(err)
	}
	return out, nil
}

// UpdateSpace records a probed freespace/physicalsize pair.
func (f *FilesystemAdapter) UpdateSpace(ctx context.Context, server, fs string, freeSpace, physicalSize int64) error {
	_, err := f.db.ExecContext(ctx, `
		UPDATE fs SET freespace = $3, physicalsize = $4 WHERE server = $1 AND fs = $2`,
		server, fs, freeSpace, physicalSize)
	if err != nil {
		return errors.New(errors.CodeInternal, "failed to update filesystem space").WithCause(err)
	}
	return nil
}

// PfnMatchesFS reports whether pfn belongs to fs.FS on a path-component
// boundary.
func PfnMatchesFS(pfn string, fsRoot string) bool {
	if !strings.HasPrefix(pfn, fsRoot) {
		return false
	}
	rest := pfn[len(fsRoot):]
	return rest == "" || strings.HasPrefix(rest, "/")
}

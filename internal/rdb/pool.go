package rdb

import (
	"context"

	"github.com/griddome/domed/pkg/errors"
)

// PoolAdapter implements pool CRUD.
type PoolAdapter struct {
	db *DB
}

// NewPoolAdapter constructs a PoolAdapter.
func NewPoolAdapter(db *DB) *PoolAdapter {
	return &PoolAdapter{db: db}
}

// Add inserts a new pool row.
func (p *PoolAdapter) Add(ctx context.Context, pool *Pool) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO pool (poolname, defsize, stype, groupsforread) VALUES ($1,$2,$3,$4)`,
		pool.PoolName, pool.DefSize, pool.SType, pool.GroupsForRead)
	if err != nil {
		return errors.New(errors.CodeExists, "pool already exists").
			WithComponent("rdb").WithOperation("addpool").WithCause(err)
	}
	return nil
}

// Modify updates a pool's mutable fields.
func (p *PoolAdapter) Modify(ctx context.Context, pool *Pool) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE pool SET defsize = $2, stype = $3, groupsforread = $4 WHERE poolname = $1`,
		pool.PoolName, pool.DefSize, pool.SType, pool.GroupsForRead)
	if err != nil {
		return errors.New(errors.CodeInternal, "modifypool failed").WithCause(err)
	}
	return nil
}

// Remove deletes a pool row.
func (p *PoolAdapter) Remove(ctx context.Context, poolName string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM pool WHERE poolname = $1`, poolName)
	if err != nil {
		return errors.New(errors.CodeInternal, "rmpool failed").WithCause(err)
	}
	return nil
}

// Get returns a single pool by name.
func (p *PoolAdapter) Get(ctx context.Context, poolName string) (*Pool, error) {
	var pool Pool
	err := p.db.GetContext(ctx, &pool, `
		SELECT poolname, defsize, stype, groupsforread FROM pool WHERE poolname = $1`, poolName)
	if err != nil {
		return nil, errors.New(errors.CodePoolNotFound, "no such pool").
			WithComponent("rdb").WithOperation("getpool").WithCause(err)
	}
	return &pool, nil
}

// List returns every pool row.
func (p *PoolAdapter) List(ctx context.Context) ([]Pool, error) {
	var out []Pool
	err := p.db.SelectContext(ctx, &out, `SELECT poolname, defsize, stype, groupsforread FROM pool`)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "failed to list pools").WithCause(err)
	}
	return out, nil
}

package rdb

import (
	"context"
	"encoding/json"

	"github.com/griddome/domed/pkg/errors"
)

// GroupAdapter implements group-table CRUD.
type GroupAdapter struct {
	db *DB
}

// NewGroupAdapter constructs a GroupAdapter.
func NewGroupAdapter(db *DB) *GroupAdapter {
	return &GroupAdapter{db: db}
}

type groupRow struct {
	GroupID   int64  `db:"groupid"`
	GroupName string `db:"groupname"`
	Banned    bool   `db:"banned"`
	XAttrsRaw string `db:"xattrs"`
}

func (r groupRow) toGroup() *Group {
	g := &Group{GroupID: r.GroupID, GroupName: r.GroupName, Banned: r.Banned}
	if r.XAttrsRaw != "" {
		_ = json.Unmarshal([]byte(r.XAttrsRaw), &g.XAttrs)
	}
	return g
}

// New inserts a new group row.
func (g *GroupAdapter) New(ctx context.Context, group *Group) error {
	xattrs, _ := json.Marshal(group.XAttrs)
	row := g.db.QueryRowxContext(ctx, `
		INSERT INTO group_metadata (groupname, banned, xattrs) VALUES ($1,$2,$3) RETURNING groupid`,
		group.GroupName, group.Banned, string(xattrs))
	if err := row.Scan(&group.GroupID); err != nil {
		return errors.New(errors.CodeExists, "group already exists").
			WithComponent("rdb").WithOperation("newgroup").WithCause(err)
	}
	return nil
}

// Delete removes a group row.
func (g *GroupAdapter) Delete(ctx context.Context, groupID int64) error {
	_, err := g.db.ExecContext(ctx, `DELETE FROM group_metadata WHERE groupid = $1`, groupID)
	if err != nil {
		return errors.New(errors.CodeInternal, "deletegroup failed").WithCause(err)
	}
	return nil
}

// Update updates a group's mutable fields.
func (g *GroupAdapter) Update(ctx context.Context, group *Group) error {
	xattrs, _ := json.Marshal(group.XAttrs)
	_, err := g.db.ExecContext(ctx, `
		UPDATE group_metadata SET banned = $2, xattrs = $3 WHERE groupid = $1`,
		group.GroupID, group.Banned, string(xattrs))
	if err != nil {
		return errors.New(errors.CodeInternal, "updategroup failed").WithCause(err)
	}
	return nil
}

// Get returns a group by groupid.
func (g *GroupAdapter) Get(ctx context.Context, groupID int64) (*Group, error) {
	var row groupRow
	err := g.db.GetContext(ctx, &row, `SELECT groupid, groupname, banned, xattrs FROM group_metadata WHERE groupid = $1`, groupID)
	if err != nil {
		return nil, errors.New(errors.CodeGroupNotFound, "no such group").
			WithComponent("rdb").WithOperation("getgroup").WithCause(err)
	}
	return row.toGroup(), nil
}

// GetByName returns a group by name.
func (g *GroupAdapter) GetByName(ctx context.Context, groupName string) (*Group, error) {
	var row groupRow
	err := g.db.GetContext(ctx, &row, `SELECT groupid, groupname, banned, xattrs FROM group_metadata WHERE groupname = $1`, groupName)
	if err != nil {
		return nil, errors.New(errors.CodeGroupNotFound, "no such group").
			WithComponent("rdb").WithOperation("getgroup").WithCause(err)
	}
	return row.toGroup(), nil
}

// List returns every group row.
func (g *GroupAdapter) List(ctx context.Context) ([]Group, error) {
	var rows []groupRow
	err := g.db.SelectContext(ctx, &rows, `SELECT groupid, groupname, banned, xattrs FROM group_metadata`)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "getgroupsvec failed").WithCause(err)
	}
	out := make([]Group, len(rows))
	for i, r := range rows {
		out[i] = *r.toGroup()
	}
	return out, nil
}

package rdb

import (
	"context"
	"encoding/json"

	"github.com/griddome/domed/pkg/errors"
)

// UserAdapter implements user-table CRUD.
type UserAdapter struct {
	db *DB
}

// NewUserAdapter constructs a UserAdapter.
func NewUserAdapter(db *DB) *UserAdapter {
	return &UserAdapter{db: db}
}

type userRow struct {
	UserID int64 `db:"userid"`
	Username string `db:"username"`
	Banned bool `db:"banned"`
	XAttrsRaw string `db:"xattrs"`
}

func (r userRow) toUser() *User {
	u := &User{UserID: r.UserID, Username: r.Username, Banned: r.Banned}
	if r.XAttrsRaw != "" {
		_ = json.Unmarshal([]byte(r.XAttrsRaw), &u.XAttrs)
	}
	return u
}

// New inserts a new user row, auto-provisioning is done by callers when a
// DN is unknown.
func (u *UserAdapter) New(ctx context.Context, user *User) error {
	xattrs, _ := json.Marshal(user.XAttrs)
	row := u.db.QueryRowxContext(ctx, `
		INSERT INTO user_metadata (username, banned, xattrs) VALUES ($1,$2,$3) RETURNING userid`,
		user.Username, user.Banned, string(xattrs))
	if err := row.Scan(&user.UserID); err != nil {
		return errors.New(errors.CodeExists, "user already exists").
			WithComponent("rdb").WithOperation("newuser").WithCause(err)
	}
	return nil
}

// Delete removes a user row.
func (u *UserAdapter) Delete(ctx context.Context, userID int64) error {
	_, err := u.db.ExecContext(ctx, `DELETE FROM user_metadata WHERE userid = $1`, userID)
	if err != nil {
		return errors.New(errors.CodeInternal, "deleteuser failed").WithCause(err)
	}
	return nil
}

// Update updates a user's mutable fields.
func (u *UserAdapter) Update(ctx context.Context, user *User) error {
	xattrs, _ := json.Marshal(user.XAttrs)
	_, err := u.db.ExecContext(ctx, `
		UPDATE user_metadata SET banned = $2, xattrs = $3 WHERE userid = $1`,
		user.UserID, user.Banned, string(xattrs))
	if err != nil {
		return errors.New(errors.CodeInternal, "updateuser failed").WithCause(err)
	}
	return nil
}

// Get returns a user by userid.
func (u *UserAdapter) Get(ctx context.Context, userID int64) (*User, error) {
	var row userRow
	err := u.db.GetContext(ctx, &row, `SELECT userid, username, banned, xattrs FROM user_metadata WHERE userid = $1`, userID)
	if err != nil {
		return nil, errors.New(errors.CodeUserNotFound, "no such user").
			WithComponent("rdb").WithOperation("getuser").WithCause(err)
	}
	return row.toUser(), nil
}

// GetByName returns a user by DN.
func (u *UserAdapter) GetByName(ctx context.Context, username string) (*User, error) {
	var row userRow
	err := u.db.GetContext(ctx, &row, `SELECT userid, username, banned, xattrs FROM user_metadata WHERE username = $1`, username)
	if err != nil {
		return nil, errors.New(errors.CodeUserNotFound, "no such user").
			WithComponent("rdb").WithOperation("getuser").WithCause(err)
	}
	return row.toUser(), nil
}

// List returns every user row.
func (u *UserAdapter) List(ctx context.Context) ([]User, error) {
	var rows []userRow
	err := u.db.SelectContext(ctx, &rows, `SELECT userid, username, banned, xattrs FROM user_metadata`)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "getusersvec failed").WithCause(err)
	}
	out := make([]User, len(rows))
	for i, r := range rows {
		out[i] = *r.toUser()
	}
	return out, nil
}

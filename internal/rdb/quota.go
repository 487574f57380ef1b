package rdb

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/griddome/domed/pkg/errors"
)

// QuotaAdapter implements quota-token CRUD.
type QuotaAdapter struct {
	db *DB
}

// NewQuotaAdapter constructs a QuotaAdapter.
func NewQuotaAdapter(db *DB) *QuotaAdapter {
	return &QuotaAdapter{db: db}
}

func encodeGids(gids []int64) string {
	parts := make([]string, len(gids))
	for i, g := range gids {
		parts[i] = strconv.FormatInt(g, 10)
	}
	return strings.Join(parts, ",")
}

func decodeGids(raw string) []int64 {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		if v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// Set creates a new quota token, generating s_token with google/uuid.
func (q *QuotaAdapter) Set(ctx context.Context, token *QuotaToken) error {
	if token.SToken == "" {
		token.SToken = uuid.NewString()
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO space_reserv (s_token, u_token, poolname, t_space, path, groupsforwrite, u_space, s_uid, s_gid)
		VALUES ($1,$2,$3,$4,$5,$6,0,$7,$8)`,
		token.SToken, token.UToken, token.PoolName, token.TSpace, token.Path,
		encodeGids(token.GroupsForWrite), token.SUID, token.SGID)
	if err != nil {
		return errors.New(errors.CodeExists, "quota token already exists for (path, poolname)").
			WithComponent("rdb").WithOperation("setquotatoken").WithCause(err)
	}
	return nil
}

// Modify updates an existing quota token's mutable fields.
func (q *QuotaAdapter) Modify(ctx context.Context, token *QuotaToken) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE space_reserv SET u_token = $2, t_space = $3, groupsforwrite = $4
		WHERE s_token = $1`,
		token.SToken, token.UToken, token.TSpace, encodeGids(token.GroupsForWrite))
	if err != nil {
		return errors.New(errors.CodeInternal, "modquotatoken failed").WithCause(err)
	}
	return nil
}

// Delete removes a quota token by s_token.
func (q *QuotaAdapter) Delete(ctx context.Context, sToken string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM space_reserv WHERE s_token = $1`, sToken)
	if err != nil {
		return errors.New(errors.CodeInternal, "delquotatoken failed").WithCause(err)
	}
	return nil
}

// Get returns a quota token by s_token.
func (q *QuotaAdapter) Get(ctx context.Context, sToken string) (*QuotaToken, error) {
	var row quotaRow
	err := q.db.GetContext(ctx, &row, `
		SELECT s_token, u_token, poolname, t_space, path, groupsforwrite, u_space, s_uid, s_gid
		FROM space_reserv WHERE s_token = $1`, sToken)
	if err != nil {
		return nil, errors.New(errors.CodeTokenNotFound, "no such quota token").
			WithComponent("rdb").WithOperation("getquotatoken").WithCause(err)
	}
	return row.toToken(), nil
}

// quotaRow mirrors QuotaToken with a flat DB-scannable GroupsForWrite column.
type quotaRow struct {
	SToken string `db:"s_token"`
	UToken string `db:"u_token"`
	PoolName string `db:"poolname"`
	TSpace int64 `db:"t_space"`
	Path string `db:"path"`
	GroupsForWrite string `db:"groupsforwrite"`
	USpace int64 `db:"u_space"`
	SUID int64 `db:"s_uid"`
	SGID int64 `db:"s_gid"`
}

func (r quotaRow) toToken() *QuotaToken {
	return &QuotaToken{
		SToken: r.SToken, UToken: r.UToken, PoolName: r.PoolName, TSpace: r.TSpace,
		Path: r.Path, GroupsForWrite: decodeGids(r.GroupsForWrite), USpace: r.USpace,
		SUID: r.SUID, SGID: r.SGID,
	}
}

// ByPathPrefix returns every token whose path is a prefix of lfn, ordered
// longest-path-first so the caller can pick the most specific match.
func (q *QuotaAdapter) ByPathPrefix(ctx context.Context, lfn string) ([]QuotaToken, error) {
	var rows []quotaRow
	err := q.db.SelectContext(ctx, &rows, `
		SELECT s_token, u_token, poolname, t_space, path, groupsforwrite, u_space, s_uid, s_gid
		FROM space_reserv WHERE $1 LIKE path || '%' ORDER BY length(path) DESC, s_token ASC`, lfn)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "failed to query quota tokens by prefix").WithCause(err)
	}
	out := make([]QuotaToken, len(rows))
	for i, r := range rows {
		out[i] = *r.toToken()
	}
	return out, nil
}

// ListAll returns every quota token, for callers (status.Reload) that cache
// the whole table in memory rather than querying per-lookup.
func (q *QuotaAdapter) ListAll(ctx context.Context) ([]QuotaToken, error) {
	var rows []quotaRow
	err := q.db.SelectContext(ctx, &rows, `
		SELECT s_token, u_token, poolname, t_space, path, groupsforwrite, u_space, s_uid, s_gid
		FROM space_reserv`)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "failed to list quota tokens").WithCause(err)
	}
	out := make([]QuotaToken, len(rows))
	for i, r := range rows {
		out[i] = *r.toToken()
	}
	return out, nil
}

// AddToUSpace adjusts a token's accounted used space by delta (positive to
// consume, negative to credit back).
func (q *QuotaAdapter) AddToUSpace(ctx context.Context, sToken string, delta int64) error {
	_, err := q.db.ExecContext(ctx, `UPDATE space_reserv SET u_space = u_space + $2 WHERE s_token = $1`,
		sToken, delta)
	if err != nil {
		return errors.New(errors.CodeInternal, "addtoQuotatokenUspace failed").WithCause(err)
	}
	return nil
}

package dome

import (
	"context"

	"github.com/griddome/domed/internal/dispatch"
	"github.com/griddome/domed/internal/rdb"
	"github.com/griddome/domed/internal/security"
	"github.com/griddome/domed/pkg/errors"
)

// handleSetQuotaToken implements dome_setquotatoken (H): reserves a new
// space-quota token against a pool and path prefix.
func handleSetQuotaToken(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	token := &rdb.QuotaToken{
		UToken: env.StringField("utoken"),
		PoolName: env.StringField("poolname"),
		TSpace: env.Int64Field("tspace"),
		Path: env.StringField("path"),
		GroupsForWrite: decodeGidList(env.Body["groupsforwrite"]),
	}
	if token.PoolName == "" || token.Path == "" {
		return nil, errors.New(errors.CodeBadRequest, "setquotatoken requires poolname and path").
			WithComponent("dome").WithOperation("setquotatoken")
	}
	if err := s.Quota.Set(ctx, token); err != nil {
		return nil, err
	}
	return map[string]interface{}{"stoken": token.SToken}, nil
}

// handleModQuotaToken implements dome_modquotatoken (H).
func handleModQuotaToken(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	token := &rdb.QuotaToken{
		SToken: env.StringField("stoken"),
		UToken: env.StringField("utoken"),
		TSpace: env.Int64Field("tspace"),
		GroupsForWrite: decodeGidList(env.Body["groupsforwrite"]),
	}
	if token.SToken == "" {
		return nil, errors.New(errors.CodeBadRequest, "modquotatoken requires an stoken").
			WithComponent("dome").WithOperation("modquotatoken")
	}
	if err := s.Quota.Modify(ctx, token); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "modified"}, nil
}

// handleDelQuotaToken implements dome_delquotatoken (H).
func handleDelQuotaToken(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	if err := s.Quota.Delete(ctx, env.StringField("stoken")); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "removed"}, nil
}

// handleGetQuotaToken implements dome_getquotatoken (H, GET): either a
// single token by s_token, or every token whose path prefixes lfn
// (longest first) when lfn is given instead.
func handleGetQuotaToken(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	if sToken := env.StringField("stoken"); sToken != "" {
		token, err := s.Quota.Get(ctx, sToken)
		if err != nil {
			return nil, err
		}
		return quotaTokenBody(token), nil
	}

	lfn := env.StringField("lfn")
	if lfn == "" {
		return nil, errors.New(errors.CodeBadRequest, "getquotatoken requires stoken or lfn").
			WithComponent("dome").WithOperation("getquotatoken")
	}
	tokens, err := s.Quota.ByPathPrefix(ctx, lfn)
	if err != nil {
		return nil, err
	}
	entries := make([]map[string]interface{}, len(tokens))
	for i := range tokens {
		entries[i] = quotaTokenBody(&tokens[i])
	}
	return map[string]interface{}{"tokens": entries}, nil
}

func quotaTokenBody(t *rdb.QuotaToken) map[string]interface{} {
	return map[string]interface{}{
		"stoken": t.SToken, "utoken": t.UToken, "poolname": t.PoolName,
		"path": t.Path, "tspace": t.TSpace, "uspace": t.USpace,
	}
}

// decodeGidList converts a JSON-decoded []interface{} of numbers (as
// produced by encoding/json for a "groupsforwrite":[1,2,3] field) into
// []int64, tolerating a missing or malformed field.
func decodeGidList(raw interface{}) []int64 {
	arr, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(arr))
	for _, v := range arr {
		if f, ok := v.(float64); ok {
			out = append(out, int64(f))
		}
	}
	return out
}

package dispatch

import (
	"context"

	"github.com/griddome/domed/internal/rdb"
	"github.com/griddome/domed/internal/security"
	"github.com/griddome/domed/internal/status"
)

// Authorizer resolves a request's identity and decides whether it may
// proceed, per §4.1: the configured DN whitelist and known-peer-server
// check are both additive admits; everything else is rejected.
type Authorizer struct {
	whitelist map[string]bool
	status *status.Status
	users *rdb.UserAdapter
	groups *rdb.GroupAdapter
	isHead bool
}

// NewAuthorizer constructs an Authorizer. authorizeDN is glb.auth.authorizeDN;
// isHead selects whether uid/gid resolution (head-only) runs.
func NewAuthorizer(authorizeDN []string, st *status.Status, users *rdb.UserAdapter, groups *rdb.GroupAdapter, isHead bool) *Authorizer {
	wl := make(map[string]bool, len(authorizeDN))
	for _, dn := range authorizeDN {
		wl[dn] = true
	}
	return &Authorizer{whitelist: wl, status: st, users: users, groups: groups, isHead: isHead}
}

// Authorize resolves env's caller into a security.SecurityContext. ok is
// false when the caller is neither whitelisted nor a known peer, in
// which case the caller must be rejected with 403 (except dome_info,
// which the dispatcher always runs regardless).
func (a *Authorizer) Authorize(ctx context.Context, env *Envelope) (sec *security.SecurityContext, ok bool) {
	dn := env.ClientDN
	isPeer := a.status != nil && a.status.IsDNaKnownServer(dn)
	isWhitelisted := a.whitelist[dn]

	if !isPeer && !isWhitelisted {
		return nil, false
	}

	sec = &security.SecurityContext{
		Credentials: security.Credentials{ClientDN: dn, RemoteAddr: env.RemoteAddr},
		IsPeer: isPeer,
	}

	if a.isHead && !isPeer {
		uid, gids, banned, err := a.resolveIdentity(ctx, dn)
		if err == nil {
			sec.UID = uid
			sec.GIDs = gids
			sec.Banned = banned
		}
	}
	return sec, true
}

// resolveIdentity maps a client DN to a uid/gid, auto-provisioning a
// user record on first sight. Group membership has no dedicated
// wire-level source in this protocol (dome_getidmap resolves it
// explicitly from caller-supplied group names instead), so a
// newly-provisioned user starts with no extra gids — permissive by
// default, since both quota-token write checks and POSIX other-bits
// fall through to the "no gid match" branch rather than denying outright.
func (a *Authorizer) resolveIdentity(ctx context.Context, dn string) (uid uint32, gids []uint32, banned bool, err error) {
	u, err := a.users.GetByName(ctx, dn)
	if err != nil {
		u = &rdb.User{Username: dn}
		if err := a.users.New(ctx, u); err != nil {
			return 0, nil, false, err
		}
	}
	return uint32(u.UserID), nil, u.Banned, nil
}

// ResolveGroupNames maps caller-supplied group names to gids, auto-
// provisioning unknown groups. It backs dome_getidmap's explicit
// (username, groupnames[]) -> (uid, gids[]) resolution.
func (a *Authorizer) ResolveGroupNames(ctx context.Context, groupNames []string) ([]uint32, error) {
	gids := make([]uint32, 0, len(groupNames))
	for _, name := range groupNames {
		g, err := a.groups.GetByName(ctx, name)
		if err != nil {
			g = &rdb.Group{GroupName: name}
			if err := a.groups.New(ctx, g); err != nil {
				return nil, err
			}
		}
		gids = append(gids, uint32(g.GroupID))
	}
	return gids, nil
}

package dome

import (
	"context"

	"github.com/griddome/domed/internal/dispatch"
	"github.com/griddome/domed/internal/rdb"
	"github.com/griddome/domed/internal/security"
	"github.com/griddome/domed/pkg/errors"
)

func userBody(u *rdb.User) map[string]interface{} {
	return map[string]interface{}{"userid": u.UserID, "username": u.Username, "banned": u.Banned}
}

func groupBody(g *rdb.Group) map[string]interface{} {
	return map[string]interface{}{"groupid": g.GroupID, "groupname": g.GroupName, "banned": g.Banned}
}

// handleGetUser implements dome_getuser (H, GET): by userid or username.
func handleGetUser(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	if username := env.StringField("username"); username != "" {
		u, err := s.Users.GetByName(ctx, username)
		if err != nil {
			return nil, err
		}
		return userBody(u), nil
	}
	u, err := s.Users.Get(ctx, env.Int64Field("userid"))
	if err != nil {
		return nil, err
	}
	return userBody(u), nil
}

// handleNewUser implements dome_newuser (H).
func handleNewUser(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	username := env.StringField("username")
	if username == "" {
		return nil, errors.New(errors.CodeBadRequest, "newuser requires a username").
			WithComponent("dome").WithOperation("newuser")
	}
	u := &rdb.User{Username: username}
	if err := s.Users.New(ctx, u); err != nil {
		return nil, err
	}
	return userBody(u), nil
}

// handleDeleteUser implements dome_deleteuser (H).
func handleDeleteUser(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	if err := s.Users.Delete(ctx, env.Int64Field("userid")); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "removed"}, nil
}

// handleUpdateUser implements dome_updateuser (H): banned flag is the
// only mutable field beyond identity.
func handleUpdateUser(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	u := &rdb.User{UserID: env.Int64Field("userid"), Banned: env.StringField("banned") == "true"}
	if err := s.Users.Update(ctx, u); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "updated"}, nil
}

// handleGetUsersVec implements dome_getusersvec (H, GET).
func handleGetUsersVec(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	users, err := s.Users.List(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]map[string]interface{}, len(users))
	for i := range users {
		entries[i] = userBody(&users[i])
	}
	return map[string]interface{}{"users": entries}, nil
}

// handleGetGroup implements dome_getgroup (H, GET): by groupid or groupname.
func handleGetGroup(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	if groupname := env.StringField("groupname"); groupname != "" {
		g, err := s.Groups.GetByName(ctx, groupname)
		if err != nil {
			return nil, err
		}
		return groupBody(g), nil
	}
	g, err := s.Groups.Get(ctx, env.Int64Field("groupid"))
	if err != nil {
		return nil, err
	}
	return groupBody(g), nil
}

// handleNewGroup implements dome_newgroup (H).
func handleNewGroup(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	groupname := env.StringField("groupname")
	if groupname == "" {
		return nil, errors.New(errors.CodeBadRequest, "newgroup requires a groupname").
			WithComponent("dome").WithOperation("newgroup")
	}
	g := &rdb.Group{GroupName: groupname}
	if err := s.Groups.New(ctx, g); err != nil {
		return nil, err
	}
	return groupBody(g), nil
}

// handleDeleteGroup implements dome_deletegroup (H).
func handleDeleteGroup(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	if err := s.Groups.Delete(ctx, env.Int64Field("groupid")); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "removed"}, nil
}

// handleUpdateGroup implements dome_updategroup (H).
func handleUpdateGroup(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	g := &rdb.Group{GroupID: env.Int64Field("groupid"), Banned: env.StringField("banned") == "true"}
	if err := s.Groups.Update(ctx, g); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "updated"}, nil
}

// handleGetGroupsVec implements dome_getgroupsvec (H, GET).
func handleGetGroupsVec(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	groups, err := s.Groups.List(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]map[string]interface{}, len(groups))
	for i := range groups {
		entries[i] = groupBody(&groups[i])
	}
	return map[string]interface{}{"groups": entries}, nil
}

// handleGetIDMap implements dome_getidmap (H, GET): the protocol's only
// wire-level source of group membership. Given a username and an explicit
// list of group names, it resolves (and auto-provisions) a uid and the
// matching gids.
func handleGetIDMap(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	username := env.StringField("username")
	if username == "" {
		return nil, errors.New(errors.CodeBadRequest, "getidmap requires a username").
			WithComponent("dome").WithOperation("getidmap")
	}

	u, err := s.Users.GetByName(ctx, username)
	if err != nil {
		u = &rdb.User{Username: username}
		if err := s.Users.New(ctx, u); err != nil {
			return nil, err
		}
	}

	groupNames := stringList(env.Body["groupnames"])
	gids, err := s.Auth.ResolveGroupNames(ctx, groupNames)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{"userid": u.UserID, "gids": gids}, nil
}

// stringList converts a JSON-decoded []interface{} of strings into
// []string, tolerating a missing or malformed field.
func stringList(raw interface{}) []string {
	arr, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if str, ok := v.(string); ok {
			out = append(out, str)
		}
	}
	return out
}

package dome

import (
	"context"
	"encoding/json"

	"github.com/griddome/domed/internal/dispatch"
	"github.com/griddome/domed/internal/rdb"
	"github.com/griddome/domed/internal/security"
	"github.com/griddome/domed/pkg/errors"
)

// commentXAttrKey stores dome_setcomment/getcomment's free-text comment
// inside the entry's xattrs map, since there is no dedicated column.
const commentXAttrKey = "_comment"

func statBody(st *rdb.ExtendedStat) map[string]interface{} {
	return map[string]interface{}{
		"fileid": st.FileID, "parentfileid": st.ParentFileID, "name": st.Name,
		"mode": st.Mode, "uid": st.UID, "gid": st.GID, "size": st.Size, "nlink": st.Nlink,
		"atime": st.ATime, "mtime": st.MTime, "ctime": st.CTime, "status": string(st.Status),
		"checksumtype": st.CSumType, "checksumvalue": st.CSumValue,
	}
}

// ancestorsOf returns st's ancestor chain (root first, st's own parent
// last) as security.StatEntry values, for TraverseBackwards.
func ancestorsOf(ctx context.Context, ns *rdb.Namespace, st *rdb.ExtendedStat) ([]security.StatEntry, error) {
	var chain []security.StatEntry
	cur := st
	for cur.FileID != 0 {
		parent, err := ns.GetStatByFileID(ctx, cur.ParentFileID)
		if err != nil {
			return nil, err
		}
		chain = append([]security.StatEntry{{UID: parent.UID, GID: parent.GID, Mode: parent.Mode}}, chain...)
		if parent.FileID == cur.ParentFileID && parent.FileID == 0 {
			break
		}
		cur = parent
	}
	return chain, nil
}

// resolveParent splits lfn into (parent stat, leaf name) and verifies the
// caller may traverse every ancestor directory.
func resolveParent(ctx context.Context, s *Server, sec *security.SecurityContext, lfn string) (parent *rdb.ExtendedStat, name string, err error) {
	dir, leaf := splitPath(lfn)
	parent, err = s.Namespace.GetStatByLFN(ctx, dir)
	if err != nil {
		return nil, "", err
	}
	ancestors, err := ancestorsOf(ctx, s.Namespace, parent)
	if err != nil {
		return nil, "", err
	}
	if err := security.TraverseBackwards(sec, ancestors); err != nil {
		return nil, "", err
	}
	return parent, leaf, nil
}

func splitPath(lfn string) (dir, name string) {
	idx := -1
	for i := len(lfn) - 1; i >= 0; i-- {
		if lfn[i] == '/' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "/", lfn
	}
	if idx == 0 {
		return "/", lfn[1:]
	}
	return lfn[:idx], lfn[idx+1:]
}

// handleMakeDir implements dome_makedir (H): requires write permission on
// the parent directory.
func handleMakeDir(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	parent, name, err := resolveParent(ctx, s, sec, env.StringField("lfn"))
	if err != nil {
		return nil, err
	}
	if err := security.CheckPermissionsOnStat(sec, parent, security.MayWrite); err != nil {
		return nil, err
	}
	mode := uint32(env.Int64Field("mode"))
	if mode == 0 {
		mode = 0o755
	}
	st, err := s.Namespace.MakeDir(ctx, parent.FileID, name, mode, sec.UID, firstGID(sec.GIDs))
	if err != nil {
		return nil, err
	}
	return statBody(st), nil
}

// handleRemoveDir implements dome_removedir (H): sticky-bit aware,
// requires write permission on the parent.
func handleRemoveDir(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	parent, name, err := resolveParent(ctx, s, sec, env.StringField("lfn"))
	if err != nil {
		return nil, err
	}
	entry, err := s.Namespace.GetStatByParentFileID(ctx, parent.FileID, name)
	if err != nil {
		return nil, err
	}
	if err := security.CheckPermissionsOnStat(sec, parent, security.MayWrite); err != nil {
		return nil, err
	}
	if !security.CanDeleteOrRename(sec, parent.Mode, parent.UID, entry.UID) {
		return nil, errors.New(errors.CodePermissionDenied, "sticky bit denies removal").
			WithComponent("dome").WithOperation("removedir")
	}
	if err := s.Namespace.RemoveDir(ctx, parent.FileID, name); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "removed"}, nil
}

// handleCreate implements dome_create (H): creates a zero-size regular
// file entry without reserving a replica (distinct from dome_put, which
// negotiates placement too).
func handleCreate(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	parent, name, err := resolveParent(ctx, s, sec, env.StringField("lfn"))
	if err != nil {
		return nil, err
	}
	if err := security.CheckPermissionsOnStat(sec, parent, security.MayWrite); err != nil {
		return nil, err
	}
	mode := uint32(env.Int64Field("mode"))
	if mode == 0 {
		mode = 0o644
	}
	st, err := s.Namespace.CreateFile(ctx, parent.FileID, name, mode, sec.UID, firstGID(sec.GIDs))
	if err != nil {
		return nil, err
	}
	return statBody(st), nil
}

// handleUnlink implements dome_unlink (H): removes a namespace entry with
// no surviving replicas; entries still carrying replicas must go through
// dome_delreplica first.
func handleUnlink(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	parent, name, err := resolveParent(ctx, s, sec, env.StringField("lfn"))
	if err != nil {
		return nil, err
	}
	entry, err := s.Namespace.GetStatByParentFileID(ctx, parent.FileID, name)
	if err != nil {
		return nil, err
	}
	if err := security.CheckPermissionsOnStat(sec, parent, security.MayWrite); err != nil {
		return nil, err
	}
	if !security.CanDeleteOrRename(sec, parent.Mode, parent.UID, entry.UID) {
		return nil, errors.New(errors.CodePermissionDenied, "sticky bit denies removal").
			WithComponent("dome").WithOperation("unlink")
	}
	replicas, err := s.Replicas.GetReplicas(ctx, entry.FileID)
	if err != nil {
		return nil, err
	}
	if len(replicas) > 0 {
		return nil, errors.New(errors.CodeNotEmpty, "file still has replicas; use delreplica first").
			WithComponent("dome").WithOperation("unlink")
	}
	if err := s.Namespace.Unlink(ctx, parent.FileID, name); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "removed"}, nil
}

// handleRename implements dome_rename (H): both the source and
// destination parent directories must be writable by the caller, and the
// sticky bit on the source parent is honoured.
func handleRename(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	oldParent, oldName, err := resolveParent(ctx, s, sec, env.StringField("lfn"))
	if err != nil {
		return nil, err
	}
	newParent, newName, err := resolveParent(ctx, s, sec, env.StringField("newlfn"))
	if err != nil {
		return nil, err
	}
	entry, err := s.Namespace.GetStatByParentFileID(ctx, oldParent.FileID, oldName)
	if err != nil {
		return nil, err
	}
	if err := security.CheckPermissionsOnStat(sec, oldParent, security.MayWrite); err != nil {
		return nil, err
	}
	if err := security.CheckPermissionsOnStat(sec, newParent, security.MayWrite); err != nil {
		return nil, err
	}
	if !security.CanDeleteOrRename(sec, oldParent.Mode, oldParent.UID, entry.UID) {
		return nil, errors.New(errors.CodePermissionDenied, "sticky bit denies rename").
			WithComponent("dome").WithOperation("rename")
	}
	if err := s.Namespace.Rename(ctx, oldParent.FileID, oldName, newParent.FileID, newName); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "renamed"}, nil
}

// handleReadLink implements dome_readlink (H, GET).
func handleReadLink(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	st, err := s.Namespace.GetStatByLFN(ctx, env.StringField("lfn"))
	if err != nil {
		return nil, err
	}
	target, err := s.Namespace.ReadLink(ctx, st.FileID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"target": target}, nil
}

// handleSymlink implements dome_symlink (H).
func handleSymlink(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	parent, name, err := resolveParent(ctx, s, sec, env.StringField("lfn"))
	if err != nil {
		return nil, err
	}
	if err := security.CheckPermissionsOnStat(sec, parent, security.MayWrite); err != nil {
		return nil, err
	}
	st, err := s.Namespace.Symlink(ctx, parent.FileID, name, env.StringField("target"), sec.UID, firstGID(sec.GIDs))
	if err != nil {
		return nil, err
	}
	return statBody(st), nil
}

// handleSetACL implements dome_setacl (H): only the owner (or a peer) may
// change a file's ACL.
func handleSetACL(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	st, err := s.Namespace.GetStatByLFN(ctx, env.StringField("lfn"))
	if err != nil {
		return nil, err
	}
	if !sec.IsPeer && !sec.IsRoot && sec.UID != st.UID {
		return nil, errors.New(errors.CodePermissionDenied, "only the owner may change the ACL").
			WithComponent("dome").WithOperation("setacl")
	}
	if err := s.Namespace.SetACL(ctx, st.FileID, env.StringField("acl")); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "updated"}, nil
}

// handleSetMode implements dome_setmode (H): owner-only, mirroring
// POSIX chmod(2).
func handleSetMode(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	st, err := s.Namespace.GetStatByLFN(ctx, env.StringField("lfn"))
	if err != nil {
		return nil, err
	}
	if !sec.IsPeer && !sec.IsRoot && sec.UID != st.UID {
		return nil, errors.New(errors.CodePermissionDenied, "only the owner may change the mode").
			WithComponent("dome").WithOperation("setmode")
	}
	if err := s.Namespace.SetMode(ctx, st.FileID, uint32(env.Int64Field("mode"))); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "updated"}, nil
}

// handleSetOwner implements dome_setowner (H): restricted to peers/root,
// mirroring POSIX chown(2)'s superuser-only semantics.
func handleSetOwner(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	st, err := s.Namespace.GetStatByLFN(ctx, env.StringField("lfn"))
	if err != nil {
		return nil, err
	}
	if !sec.IsPeer && !sec.IsRoot {
		return nil, errors.New(errors.CodePermissionDenied, "only a superuser may change ownership").
			WithComponent("dome").WithOperation("setowner")
	}
	if err := s.Namespace.SetOwner(ctx, st.FileID, uint32(env.Int64Field("uid")), uint32(env.Int64Field("gid"))); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "updated"}, nil
}

// handleSetSize implements dome_setsize (H): a peer-only escape hatch for
// correcting a file's recorded size outside the normal putdone flow.
func handleSetSize(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	if !sec.IsPeer {
		return nil, errors.New(errors.CodePermissionDenied, "setsize is restricted to peer servers").
			WithComponent("dome").WithOperation("setsize")
	}
	st, err := s.Namespace.GetStatByLFN(ctx, env.StringField("lfn"))
	if err != nil {
		return nil, err
	}
	if err := s.Namespace.SetSize(ctx, st.FileID, env.Int64Field("size")); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "updated"}, nil
}

// handleUpdateXattr implements dome_updatexattr (H): merges the given
// key/value pairs into the entry's existing xattrs rather than replacing
// the whole set.
func handleUpdateXattr(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	st, err := s.Namespace.GetStatByLFN(ctx, env.StringField("lfn"))
	if err != nil {
		return nil, err
	}
	if err := security.CheckPermissionsOnStat(sec, st, security.MayWrite); err != nil {
		return nil, err
	}

	xattrs := loadXAttrs(st)
	updates, _ := env.Body["xattrs"].(map[string]interface{})
	for k, v := range updates {
		if str, ok := v.(string); ok {
			xattrs[k] = str
		}
	}
	return map[string]interface{}{"status": "updated"}, saveXAttrs(ctx, s.Namespace, st.FileID, xattrs)
}

// handleSetComment implements dome_setcomment (H).
func handleSetComment(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	st, err := s.Namespace.GetStatByLFN(ctx, env.StringField("lfn"))
	if err != nil {
		return nil, err
	}
	if err := security.CheckPermissionsOnStat(sec, st, security.MayWrite); err != nil {
		return nil, err
	}
	xattrs := loadXAttrs(st)
	xattrs[commentXAttrKey] = env.StringField("comment")
	return map[string]interface{}{"status": "updated"}, saveXAttrs(ctx, s.Namespace, st.FileID, xattrs)
}

// handleGetComment implements dome_getcomment (H, GET).
func handleGetComment(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	st, err := s.Namespace.GetStatByLFN(ctx, env.StringField("lfn"))
	if err != nil {
		return nil, err
	}
	if err := security.CheckPermissionsOnStat(sec, st, security.MayRead); err != nil {
		return nil, err
	}
	return map[string]interface{}{"comment": loadXAttrs(st)[commentXAttrKey]}, nil
}

func loadXAttrs(st *rdb.ExtendedStat) map[string]string {
	out := map[string]string{}
	if st.XAttrsRaw != "" {
		_ = json.Unmarshal([]byte(st.XAttrsRaw), &out)
	}
	return out
}

func saveXAttrs(ctx context.Context, ns *rdb.Namespace, fileID int64, xattrs map[string]string) error {
	raw, err := json.Marshal(xattrs)
	if err != nil {
		return errors.New(errors.CodeInternal, "failed to serialize xattrs").WithCause(err)
	}
	return ns.UpdateExtendedAttributes(ctx, fileID, string(raw))
}

// handleGetStatInfo implements dome_getstatinfo (H, GET): resolves by
// lfn, fileid or rfn, whichever is given.
func handleGetStatInfo(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	switch {
	case env.StringField("lfn") != "":
		st, err := s.Namespace.GetStatByLFN(ctx, env.StringField("lfn"))
		if err != nil {
			return nil, err
		}
		return statBody(st), nil
	case env.StringField("rfn") != "":
		rep, err := s.Replicas.GetReplicaByRFN(ctx, env.StringField("rfn"))
		if err != nil {
			return nil, err
		}
		st, err := s.Namespace.GetStatByFileID(ctx, rep.FileID)
		if err != nil {
			return nil, err
		}
		return statBody(st), nil
	case env.Int64Field("fileid") != 0:
		st, err := s.Namespace.GetStatByFileID(ctx, env.Int64Field("fileid"))
		if err != nil {
			return nil, err
		}
		return statBody(st), nil
	default:
		return nil, errors.New(errors.CodeBadRequest, "getstatinfo requires lfn, rfn or fileid").
			WithComponent("dome").WithOperation("getstatinfo")
	}
}

// handleGetDir implements dome_getdir (H, GET): directory listing,
// optionally including per-entry stat bodies.
func handleGetDir(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	st, err := s.Namespace.GetStatByLFN(ctx, env.StringField("lfn"))
	if err != nil {
		return nil, err
	}
	if err := security.CheckPermissionsOnStat(sec, st, security.MayRead); err != nil {
		return nil, err
	}
	entries, err := s.Namespace.ReadDirX(ctx, st.FileID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, len(entries))
	for i := range entries {
		out[i] = statBody(&entries[i])
	}
	return map[string]interface{}{"entries": out}, nil
}

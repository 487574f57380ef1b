package rdb

import (
	"context"
	"strings"
	"time"

	"github.com/griddome/domed/pkg/errors"
)

// maxSymlinkDepth bounds readLFN's component walk.
const maxSymlinkDepth = 16

// Namespace implements the RA's namespace primitives: create,
// makedir, unlink, rename, stat lookups, directory listing and the
// ancestor-size propagation used by the put-placement engine.
type Namespace struct {
	db *DB
	cache CacheInvalidator
}

// NewNamespace constructs a Namespace adapter. cache may be nil, in which
// case invalidation is a no-op (useful for tests exercising pure SQL
// logic without a live MDC).
func NewNamespace(db *DB, cache CacheInvalidator) *Namespace {
	if cache == nil {
		cache = noopInvalidator{}
	}
	return &Namespace{db: db, cache: cache}
}

// nextFileID allocates the next fileid from the unique_id singleton row
// using SELECT ... FOR UPDATE. Must run inside tx.
func (n *Namespace) nextFileID(ctx context.Context, tx *Tx) (int64, error) {
	var current int64
	err := tx.Tx().GetContext(ctx, &current, `SELECT next_fileid FROM unique_id FOR UPDATE`)
	if err != nil {
		// First-ever insert seeds with id 1.
		if _, execErr := tx.Tx().ExecContext(ctx, `INSERT INTO unique_id (next_fileid) VALUES (2)`); execErr != nil {
			return 0, errors.New(errors.CodeInternal, "failed to seed fileid sequence").WithCause(execErr)
		}
		return 1, nil
	}

	if _, err := tx.Tx().ExecContext(ctx, `UPDATE unique_id SET next_fileid = next_fileid + 1`); err != nil {
		return 0, errors.New(errors.CodeInternal, "failed to advance fileid sequence").WithCause(err)
	}
	return current, nil
}

// GetStatByFileID returns the entry for fileid.
func (n *Namespace) GetStatByFileID(ctx context.Context, fileID int64) (*ExtendedStat, error) {
	var st ExtendedStat
	err := n.db.GetContext(ctx, &st, `
		SELECT fileid, parent_fileid, name, mode, uid, gid, size, nlink,
		atime, mtime, ctime, status, acl, xattrs, csumtype, csumvalue
		FROM file_metadata WHERE fileid = $1`, fileID)
	if err != nil {
		return nil, errors.New(errors.CodeNotFound, "no such fileid").
			WithComponent("rdb").WithOperation("getStatByFileid").WithCause(err)
	}
	return &st, nil
}

// GetStatByParentFileID returns the entry for (parentFileID, name).
func (n *Namespace) GetStatByParentFileID(ctx context.Context, parentFileID int64, name string) (*ExtendedStat, error) {
	var st ExtendedStat
	err := n.db.GetContext(ctx, &st, `
		SELECT fileid, parent_fileid, name, mode, uid, gid, size, nlink,
		atime, mtime, ctime, status, acl, xattrs, csumtype, csumvalue
		FROM file_metadata WHERE parent_fileid = $1 AND name = $2`, parentFileID, name)
	if err != nil {
		return nil, errors.New(errors.CodeNotFound, "no such directory entry").
			WithComponent("rdb").WithOperation("getStatByParentFileid").WithCause(err)
	}
	return &st, nil
}

// GetStatByLFN resolves an absolute logical path, walking one component at
// a time, handling "." and ".." and following symlinks up to
// maxSymlinkDepth levels.
func (n *Namespace) GetStatByLFN(ctx context.Context, lfn string) (*ExtendedStat, error) {
	return n.resolve(ctx, lfn, 0)
}

func (n *Namespace) resolve(ctx context.Context, lfn string, depth int) (*ExtendedStat, error) {
	if depth > maxSymlinkDepth {
		return nil, errors.New(errors.CodeBadRequest, "too many levels of symbolic links").
			WithComponent("rdb").WithOperation("getStatByLFN")
	}

	parts := splitLFN(lfn)
	var current *ExtendedStat
	var err error
	current, err = n.GetStatByFileID(ctx, 0) // root
	if err != nil {
		return nil, err
	}

	for _, part := range parts {
		switch part {
		case ".":
			continue
		case "..":
			current, err = n.GetParent(ctx, current.FileID)
			if err != nil {
				return nil, err
			}
			continue
		}

		next, err := n.GetStatByParentFileID(ctx, current.FileID, part)
		if err != nil {
			return nil, err
		}

		if link, linkErr := n.ReadLink(ctx, next.FileID); linkErr == nil && link != "" {
			target := link
			if !strings.HasPrefix(target, "/") {
				target = joinLFN(lfn, target)
			}
			resolved, err := n.resolve(ctx, target, depth+1)
			if err != nil {
				return nil, err
			}
			current = resolved
			continue
		}

		current = next
	}

	return current, nil
}

// splitLFN splits an absolute path into non-empty components.
func splitLFN(lfn string) []string {
	raw := strings.Split(lfn, "/")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func joinLFN(base, rel string) string {
	idx := strings.LastIndex(base, "/")
	if idx < 0 {
		return rel
	}
	return base[:idx+1] + rel
}

// GetParent returns the parent directory's entry.
func (n *Namespace) GetParent(ctx context.Context, fileID int64) (*ExtendedStat, error) {
	st, err := n.GetStatByFileID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return n.GetStatByFileID(ctx, st.ParentFileID)
}

// ReadLink returns the symlink target for fileID, or an error if it is not
// a symlink.
func (n *Namespace) ReadLink(ctx context.Context, fileID int64) (string, error) {
	var target string
	err := n.db.GetContext(ctx, &target, `SELECT target FROM symlinks WHERE fileid = $1`, fileID)
	if err != nil {
		return "", errors.New(errors.CodeNotFound, "not a symlink").WithCause(err)
	}
	return target, nil
}

// MakeDir creates a directory entry under parentFileID, incrementing the
// parent's nlink and refreshing its mtime/ctime in the same transaction.
func (n *Namespace) MakeDir(ctx context.Context, parentFileID int64, name string, mode uint32, uid, gid uint32) (*ExtendedStat, error) {
	return n.create(ctx, parentFileID, name, mode|0o040000, uid, gid)
}

// CreateFile creates a regular file entry under parentFileID.
func (n *Namespace) CreateFile(ctx context.Context, parentFileID int64, name string, mode uint32, uid, gid uint32) (*ExtendedStat, error) {
	return n.create(ctx, parentFileID, name, mode&^0o040000, uid, gid)
}

func (n *Namespace) create(ctx context.Context, parentFileID int64, name string, mode uint32, uid, gid uint32) (*ExtendedStat, error) {
	var created *ExtendedStat
	err := n.db.WithTx(ctx, func(tx *Tx) error {
		if err := tx.Enter(ctx); err != nil {
			return err
		}
		defer tx.Commit() //nolint:errcheck // outer WithTx owns the real commit

		id, err := n.nextFileID(ctx, tx)
		if err != nil {
			return err
		}

		now := time.Now().Unix()
		nlink := int64(1)
		if mode&0o040000 != 0 {
			nlink = 2
		}

		_, err = tx.Tx().ExecContext(ctx, `
			INSERT INTO file_metadata
			(fileid, parent_fileid, name, mode, uid, gid, size, nlink, atime, mtime, ctime, status)
			VALUES ($1,$2,$3,$4,$5,$6,0,$7,$8,$8,$8,'Online')`,
			id, parentFileID, name, mode, uid, gid, nlink, now)
		if err != nil {
			return errors.New(errors.CodeExists, "entry already exists").
				WithComponent("rdb").WithOperation("create").WithCause(err)
		}

		if _, err := tx.Tx().ExecContext(ctx, `
			UPDATE file_metadata SET nlink = nlink + 1, mtime = $2, ctime = $2 WHERE fileid = $1`,
			parentFileID, now); err != nil {
			return errors.New(errors.CodeInternal, "failed to update parent linkage").WithCause(err)
		}

		created = &ExtendedStat{
			FileID: id, ParentFileID: parentFileID, Name: name, Mode: mode,
			UID: uid, GID: gid, Nlink: nlink, ATime: now, MTime: now, CTime: now,
			Status: FileOnline,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	n.cache.WipeEntry(created.FileID, parentFileID, name)
	n.cache.WipeEntry(parentFileID, created.ParentFileID, "")
	return created, nil
}

// Unlink removes a non-directory entry, decrementing the parent's nlink.
// The caller is expected to have already removed any replicas.
func (n *Namespace) Unlink(ctx context.Context, parentFileID int64, name string) error {
	st, err := n.GetStatByParentFileID(ctx, parentFileID, name)
	if err != nil {
		return err
	}

	err = n.db.WithTx(ctx, func(tx *Tx) error {
		if err := tx.Enter(ctx); err != nil {
			return err
		}
		defer tx.Commit() //nolint:errcheck

		if _, err := tx.Tx().ExecContext(ctx, `DELETE FROM file_metadata WHERE fileid = $1`, st.FileID); err != nil {
			return errors.New(errors.CodeInternal, "failed to delete entry").WithCause(err)
		}
		now := time.Now().Unix()
		if _, err := tx.Tx().ExecContext(ctx, `
			UPDATE file_metadata SET nlink = nlink - 1, mtime = $2, ctime = $2 WHERE fileid = $1`,
			parentFileID, now); err != nil {
			return errors.New(errors.CodeInternal, "failed to update parent linkage").WithCause(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	n.cache.WipeEntry(st.FileID, parentFileID, name)
	return nil
}

// RemoveDir removes an empty directory entry, decrementing the parent's
// nlink. Fails with CodeNotEmpty if the directory still has children.
func (n *Namespace) RemoveDir(ctx context.Context, parentFileID int64, name string) error {
	st, err := n.GetStatByParentFileID(ctx, parentFileID, name)
	if err != nil {
		return err
	}
	if st.Mode&0o040000 == 0 {
		return errors.New(errors.CodeNotDirectory, "not a directory").
			WithComponent("rdb").WithOperation("removedir")
	}

	children, err := n.ReadDirX(ctx, st.FileID)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return errors.New(errors.CodeNotEmpty, "directory is not empty").
			WithComponent("rdb").WithOperation("removedir")
	}

	err = n.db.WithTx(ctx, func(tx *Tx) error {
		if err := tx.Enter(ctx); err != nil {
			return err
		}
		defer tx.Commit() //nolint:errcheck

		if _, err := tx.Tx().ExecContext(ctx, `DELETE FROM file_metadata WHERE fileid = $1`, st.FileID); err != nil {
			return errors.New(errors.CodeInternal, "failed to delete entry").WithCause(err)
		}
		now := time.Now().Unix()
		if _, err := tx.Tx().ExecContext(ctx, `
			UPDATE file_metadata SET nlink = nlink - 1, mtime = $2, ctime = $2 WHERE fileid = $1`,
			parentFileID, now); err != nil {
			return errors.New(errors.CodeInternal, "failed to update parent linkage").WithCause(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	n.cache.WipeEntry(st.FileID, parentFileID, name)
	return nil
}

// Rename moves an entry from (oldParent,oldName) to (newParent,newName).
func (n *Namespace) Rename(ctx context.Context, oldParent int64, oldName string, newParent int64, newName string) error {
	st, err := n.GetStatByParentFileID(ctx, oldParent, oldName)
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	err = n.db.WithTx(ctx, func(tx *Tx) error {
		if err := tx.Enter(ctx); err != nil {
			return err
		}
		defer tx.Commit() //nolint:errcheck

		_, err := tx.Tx().ExecContext(ctx, `
			UPDATE file_metadata SET parent_fileid = $1, name = $2, mtime = $3, ctime = $3 WHERE fileid = $4`,
			newParent, newName, now, st.FileID)
		return err
	})
	if err != nil {
		return errors.New(errors.CodeInternal, "rename failed").WithCause(err)
	}

	n.cache.WipeEntry(st.FileID, oldParent, oldName)
	n.cache.WipeEntry(st.FileID, newParent, newName)
	return nil
}

// Move is an alias for Rename retained for parity with the legacy API
// naming.
func (n *Namespace) Move(ctx context.Context, fileID int64, newParent int64, newName string) error {
	st, err := n.GetStatByFileID(ctx, fileID)
	if err != nil {
		return err
	}
	return n.Rename(ctx, st.ParentFileID, st.Name, newParent, newName)
}

// Symlink creates a symlink entry pointing at target.
func (n *Namespace) Symlink(ctx context.Context, parentFileID int64, name, target string, uid, gid uint32) (*ExtendedStat, error) {
	st, err := n.CreateFile(ctx, parentFileID, name, 0o777|0o120000, uid, gid)
	if err != nil {
		return nil, err
	}
	if _, err := n.db.ExecContext(ctx, `INSERT INTO symlinks (fileid, target) VALUES ($1,$2)`, st.FileID, target); err != nil {
		return nil, errors.New(errors.CodeInternal, "failed to record symlink target").WithCause(err)
	}
	return st, nil
}

// SetSize sets a file's size, bypassing ancestor propagation (callers that
// need propagation call AddFilesizeToDirs separately.
func (n *Namespace) SetSize(ctx context.Context, fileID, size int64) error {
	_, err := n.db.ExecContext(ctx, `UPDATE file_metadata SET size = $2, mtime = $3 WHERE fileid = $1`,
		fileID, size, time.Now().Unix())
	if err != nil {
		return errors.New(errors.CodeInternal, "setSize failed").WithCause(err)
	}
	n.cache.WipeEntry(fileID, 0, "")
	return nil
}

// SetMode updates POSIX mode bits.
func (n *Namespace) SetMode(ctx context.Context, fileID int64, mode uint32) error {
	_, err := n.db.ExecContext(ctx, `UPDATE file_metadata SET mode = $2, ctime = $3 WHERE fileid = $1`,
		fileID, mode, time.Now().Unix())
	if err != nil {
		return errors.New(errors.CodeInternal, "setMode failed").WithCause(err)
	}
	n.cache.WipeEntry(fileID, 0, "")
	return nil
}

// SetACL replaces a file entry's serialized ACL string.
func (n *Namespace) SetACL(ctx context.Context, fileID int64, acl string) error {
	_, err := n.db.ExecContext(ctx, `UPDATE file_metadata SET acl = $2, ctime = $3 WHERE fileid = $1`,
		fileID, acl, time.Now().Unix())
	if err != nil {
		return errors.New(errors.CodeInternal, "setACL failed").WithCause(err)
	}
	n.cache.WipeEntry(fileID, 0, "")
	return nil
}

// SetOwner updates a file entry's uid/gid.
func (n *Namespace) SetOwner(ctx context.Context, fileID int64, uid, gid uint32) error {
	_, err := n.db.ExecContext(ctx, `UPDATE file_metadata SET uid = $2, gid = $3, ctime = $4 WHERE fileid = $1`,
		fileID, uid, gid, time.Now().Unix())
	if err != nil {
		return errors.New(errors.CodeInternal, "setOwner failed").WithCause(err)
	}
	n.cache.WipeEntry(fileID, 0, "")
	return nil
}

// SetChecksum sets the legacy short checksum columns on a file entry.
func (n *Namespace) SetChecksum(ctx context.Context, fileID int64, csumType, csumValue string) error {
	_, err := n.db.ExecContext(ctx, `UPDATE file_metadata SET csumtype = $2, csumvalue = $3 WHERE fileid = $1`,
		fileID, csumType, csumValue)
	if err != nil {
		return errors.New(errors.CodeInternal, "setChecksum failed").WithCause(err)
	}
	n.cache.WipeEntry(fileID, 0, "")
	return nil
}

// UpdateExtendedAttributes merges the given xattrs into the entry's stored
// attribute set.
func (n *Namespace) UpdateExtendedAttributes(ctx context.Context, fileID int64, xattrsRaw string) error {
	_, err := n.db.ExecContext(ctx, `UPDATE file_metadata SET xattrs = $2, ctime = $3 WHERE fileid = $1`,
		fileID, xattrsRaw, time.Now().Unix())
	if err != nil {
		return errors.New(errors.CodeInternal, "updateExtendedAttributes failed").WithCause(err)
	}
	n.cache.WipeEntry(fileID, 0, "")
	return nil
}

// Utime sets atime/mtime explicitly.
func (n *Namespace) Utime(ctx context.Context, fileID int64, atime, mtime int64) error {
	_, err := n.db.ExecContext(ctx, `UPDATE file_metadata SET atime = $2, mtime = $3 WHERE fileid = $1`,
		fileID, atime, mtime)
	if err != nil {
		return errors.New(errors.CodeInternal, "utime failed").WithCause(err)
	}
	n.cache.WipeEntry(fileID, 0, "")
	return nil
}

// ReadDirX streams the children of parentFileID ordered by name ASC.
func (n *Namespace) ReadDirX(ctx context.Context, parentFileID int64) ([]ExtendedStat, error) {
	var entries []ExtendedStat
	err := n.db.SelectContext(ctx, &entries, `
		SELECT fileid, parent_fileid, name, mode, uid, gid, size, nlink,
		atime, mtime, ctime, status, acl, xattrs, csumtype, csumvalue
		FROM file_metadata WHERE parent_fileid = $1 ORDER BY name ASC`, parentFileID)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "readdirx failed").WithCause(err)
	}
	return entries, nil
}

// defaultDirSpaceReportDepth is the reportDepth AddFilesizeToDirs uses
// when its caller passes a value <= 0.
const defaultDirSpaceReportDepth = 6

// AddFilesizeToDirs walks ancestors from fileID upward and applies delta to
// each ancestor's size at depths [max(0,depth-3) .. max(0,depth-1-reportDepth)],
// skipping the top-level directories to avoid contention.
func (n *Namespace) AddFilesizeToDirs(ctx context.Context, fileID int64, delta int64, reportDepth int) error {
	if reportDepth <= 0 {
		reportDepth = defaultDirSpaceReportDepth
	}

	chain, err := n.ancestorChain(ctx, fileID)
	if err != nil {
		return err
	}

	depth := len(chain)
	lo := depth - 3
	if lo < 0 {
		lo = 0
	}
	hi := depth - 1 - reportDepth
	if hi < 0 {
		hi = 0
	}

	for i := lo; i <= hi && i < len(chain); i++ {
		ancestorID := chain[i]
		if _, err := n.db.ExecContext(ctx, `UPDATE file_metadata SET size = size + $2 WHERE fileid = $1`,
			ancestorID, delta); err != nil {
			return errors.New(errors.CodeInternal, "addFilesizeToDirs failed").WithCause(err)
		}
		n.cache.WipeEntry(ancestorID, 0, "")
	}
	return nil
}

// ancestorChain returns fileID's ancestor fileids, root-most first,
// excluding fileID itself.
func (n *Namespace) ancestorChain(ctx context.Context, fileID int64) ([]int64, error) {
	var chain []int64
	current, err := n.GetStatByFileID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	for current.ParentFileID != 0 || current.FileID != 0 {
		if current.FileID == 0 {
			break
		}
		parent, err := n.GetStatByFileID(ctx, current.ParentFileID)
		if err != nil {
			break
		}
		chain = append([]int64{parent.FileID}, chain...)
		if parent.FileID == 0 {
			break
		}
		current = parent
	}
	return chain, nil
}

// FullPath reconstructs fileID's absolute logical path by walking up to
// the root one parent at a time, the placement engine's way of finding
// the quota token that governs an already-created file.
func (n *Namespace) FullPath(ctx context.Context, fileID int64) (string, error) {
	var names []string
	current, err := n.GetStatByFileID(ctx, fileID)
	if err != nil {
		return "", err
	}
	for current.FileID != 0 {
		names = append([]string{current.Name}, names...)
		current, err = n.GetStatByFileID(ctx, current.ParentFileID)
		if err != nil {
			return "", err
		}
	}
	return "/" + strings.Join(names, "/"), nil
}

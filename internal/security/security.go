// Package security implements per-request identity resolution and
// POSIX-like permission enforcement.
package security

import (
	"github.com/griddome/domed/internal/rdb"
	"github.com/griddome/domed/pkg/errors"
)

const (
	modeIRead  = 0o4
	modeIWrite = 0o2
	modeIExec  = 0o1

	stickyBit = 0o1000
	setUID    = 0o4000
	setGID    = 0o2000
)

// Credentials carries the caller's identity as injected by the front web
// server: the client DN, remote address, and (on head) the resolved
// uid/gids from the Status user/group tables.
type Credentials struct {
	ClientDN   string
	RemoteAddr string
	UID        uint32
	GIDs       []uint32
	Banned     bool
}

// HasGID reports whether the caller belongs to gid.
func (c *Credentials) HasGID(gid uint32) bool {
	for _, g := range c.GIDs {
		if g == gid {
			return true
		}
	}
	return false
}

// IntersectsGIDs reports whether any of the caller's gids appear in gids.
func (c *Credentials) IntersectsGIDs(gids []int64) bool {
	for _, g := range gids {
		if c.HasGID(uint32(g)) {
			return true
		}
	}
	return false
}

// SecurityContext is the resolved effective identity for one request,
// combining the raw Credentials with whether the caller is a known peer
// (head/disk) and whether it is acting as root/superuser.
type SecurityContext struct {
	Credentials
	IsPeer bool
	IsRoot bool
}

// AccessMask mirrors POSIX open(2) mode bits for permission checks.
type AccessMask uint32

const (
	MayRead  AccessMask = modeIRead << 6
	MayWrite AccessMask = modeIWrite << 6
	MayExec  AccessMask = modeIExec << 6
)

// StatEntry is the subset of rdb.ExtendedStat needed for a permission
// decision, kept narrow so this package doesn't need the full namespace
// adapter.
type StatEntry struct {
	UID  uint32
	GID  uint32
	Mode uint32
}

func fromExtendedStat(st *rdb.ExtendedStat) StatEntry {
	return StatEntry{UID: st.UID, GID: st.GID, Mode: st.Mode}
}

// CheckPermissions implements the standard POSIX owner/group/other check.
// ACL entries are consulted via checkACL when present and take
// precedence over the owner/group/other bits.
func CheckPermissions(sec *SecurityContext, entry StatEntry, acl string, mask AccessMask) error {
	if sec.IsRoot || sec.IsPeer {
		return nil
	}

	if allowed, ok := checkACL(acl, sec, mask); ok {
		if allowed {
			return nil
		}
		return errors.New(errors.CodePermissionDenied, "ACL denies access").
			WithComponent("security").WithOperation("checkPermissions")
	}

	var bits uint32
	switch {
	case sec.UID == entry.UID:
		bits = (entry.Mode >> 6) & 0o7
	case sec.HasGID(entry.GID):
		bits = (entry.Mode >> 3) & 0o7
	default:
		bits = entry.Mode & 0o7
	}

	want := maskBits(mask)
	if bits&want != want {
		return errors.New(errors.CodePermissionDenied, "permission denied").
			WithComponent("security").WithOperation("checkPermissions")
	}
	return nil
}

// CheckPermissionsOnStat is a convenience wrapper taking an
// *rdb.ExtendedStat directly.
func CheckPermissionsOnStat(sec *SecurityContext, st *rdb.ExtendedStat, mask AccessMask) error {
	return CheckPermissions(sec, fromExtendedStat(st), st.ACL, mask)
}

// CanDeleteOrRename reports whether sec may remove/rename entry within a
// directory carrying dirMode/dirUID, honouring the sticky bit: when set,
// only the directory owner or the entry owner may act.
func CanDeleteOrRename(sec *SecurityContext, dirMode uint32, dirUID uint32, entryUID uint32) bool {
	if sec.IsRoot || sec.IsPeer {
		return true
	}
	if dirMode&stickyBit == 0 {
		return true
	}
	return sec.UID == dirUID || sec.UID == entryUID
}

// TraverseBackwards walks from entry to root verifying execute permission
// on every ancestor directory.
func TraverseBackwards(sec *SecurityContext, ancestors []StatEntry) error {
	for _, a := range ancestors {
		if err := CheckPermissions(sec, a, "", MayExec); err != nil {
			return errors.New(errors.CodePermissionDenied, "traverse denied").
				WithComponent("security").WithOperation("traverseBackwards").WithCause(err)
		}
	}
	return nil
}

// checkACL parses a serialized POSIX-like ACL and, if any entry names the
// caller's uid/gid, returns its verdict. ok is false when no ACL entry
// applies and the standard owner/group/other check should run instead.
// The ACL's serialized form is "u:<uid>:<rwx>,g:<gid>:<rwx>,..." — simple
// and sufficient for the grid-storage ACL model this daemon implements;
// no POSIX default/mask entries are supported.
func checkACL(acl string, sec *SecurityContext, mask AccessMask) (allowed bool, ok bool) {
	if acl == "" {
		return false, false
	}

	entries := splitACL(acl)
	for _, e := range entries {
		kind, id, bits, valid := parseACLEntry(e)
		if !valid {
			continue
		}
		switch kind {
		case "u":
			if uint32(id) == sec.UID {
				return bits&maskBits(mask) == maskBits(mask), true
			}
		case "g":
			if sec.HasGID(uint32(id)) {
				return bits&maskBits(mask) == maskBits(mask), true
			}
		}
	}
	return false, false
}

func maskBits(mask AccessMask) uint32 {
	return (uint32(mask) >> 6) & 0o7
}

func splitACL(acl string) []string {
	var out []string
	start := 0
	for i := 0; i < len(acl); i++ {
		if acl[i] == ',' {
			out = append(out, acl[start:i])
			start = i + 1
		}
	}
	out = append(out, acl[start:])
	return out
}

func parseACLEntry(e string) (kind string, id int64, bits uint32, ok bool) {
	parts := make([]string, 0, 3)
	start := 0
	for i := 0; i < len(e); i++ {
		if e[i] == ':' {
			parts = append(parts, e[start:i])
			start = i + 1
		}
	}
	parts = append(parts, e[start:])
	if len(parts) != 3 {
		return "", 0, 0, false
	}

	var idVal int64
	for _, c := range parts[1] {
		if c < '0' || c > '9' {
			return "", 0, 0, false
		}
		idVal = idVal*10 + int64(c-'0')
	}

	var bitsVal uint32
	for _, c := range parts[2] {
		switch c {
		case 'r':
			bitsVal |= modeIRead
		case 'w':
			bitsVal |= modeIWrite
		case 'x':
			bitsVal |= modeIExec
		}
	}

	return parts[0], idVal, bitsVal, true
}

package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckPermissionsOwner(t *testing.T) {
	sec := &SecurityContext{Credentials: Credentials{UID: 100, GIDs: []uint32{200}}}
	entry := StatEntry{UID: 100, GID: 200, Mode: 0o640}

	assert.NoError(t, CheckPermissions(sec, entry, "", MayRead))
	assert.NoError(t, CheckPermissions(sec, entry, "", MayWrite))
}

func TestCheckPermissionsGroup(t *testing.T) {
	sec := &SecurityContext{Credentials: Credentials{UID: 999, GIDs: []uint32{200}}}
	entry := StatEntry{UID: 100, GID: 200, Mode: 0o640}

	assert.NoError(t, CheckPermissions(sec, entry, "", MayRead))
	assert.Error(t, CheckPermissions(sec, entry, "", MayWrite))
}

func TestCheckPermissionsOther(t *testing.T) {
	sec := &SecurityContext{Credentials: Credentials{UID: 999, GIDs: []uint32{999}}}
	entry := StatEntry{UID: 100, GID: 200, Mode: 0o644}

	assert.NoError(t, CheckPermissions(sec, entry, "", MayRead))
	assert.Error(t, CheckPermissions(sec, entry, "", MayWrite))
}

func TestCheckPermissionsPeerBypasses(t *testing.T) {
	sec := &SecurityContext{IsPeer: true}
	entry := StatEntry{UID: 1, GID: 1, Mode: 0o000}
	assert.NoError(t, CheckPermissions(sec, entry, "", MayWrite))
}

func TestCanDeleteOrRenameStickyBit(t *testing.T) {
	sec := &SecurityContext{Credentials: Credentials{UID: 999}}
	assert.False(t, CanDeleteOrRename(sec, 0o1777, 100, 200))

	sec.UID = 100
	assert.True(t, CanDeleteOrRename(sec, 0o1777, 100, 200))

	sec.UID = 200
	assert.True(t, CanDeleteOrRename(sec, 0o1777, 100, 200))
}

func TestCanDeleteOrRenameNoStickyBit(t *testing.T) {
	sec := &SecurityContext{Credentials: Credentials{UID: 999}}
	assert.True(t, CanDeleteOrRename(sec, 0o777, 100, 200))
}

func TestTraverseBackwards(t *testing.T) {
	sec := &SecurityContext{Credentials: Credentials{UID: 999, GIDs: []uint32{999}}}

	ancestors := []StatEntry{
		{UID: 0, GID: 0, Mode: 0o755},
		{UID: 0, GID: 0, Mode: 0o755},
	}
	assert.NoError(t, TraverseBackwards(sec, ancestors))

	blocked := []StatEntry{{UID: 0, GID: 0, Mode: 0o700}}
	assert.Error(t, TraverseBackwards(sec, blocked))
}

func TestCheckACLOverridesOwnerBits(t *testing.T) {
	sec := &SecurityContext{Credentials: Credentials{UID: 555}}
	entry := StatEntry{UID: 100, GID: 200, Mode: 0o000}
	acl := "u:555:rw"

	assert.NoError(t, CheckPermissions(sec, entry, acl, MayRead))
	assert.NoError(t, CheckPermissions(sec, entry, acl, MayWrite))
}

func TestIntersectsGIDs(t *testing.T) {
	c := &Credentials{GIDs: []uint32{1, 2, 3}}
	assert.True(t, c.IntersectsGIDs([]int64{3, 4}))
	assert.False(t, c.IntersectsGIDs([]int64{4, 5}))
	assert.True(t, c.IntersectsGIDs(nil) == false)
}

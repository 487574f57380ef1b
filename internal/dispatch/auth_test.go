package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizeRejectsUnknownDN(t *testing.T) {
	auth := NewAuthorizer([]string{"/O=Grid/CN=head.example.org"}, nil, nil, nil, false)
	sec, ok := auth.Authorize(context.Background(), &Envelope{ClientDN: "/O=Grid/CN=stranger"})
	assert.False(t, ok)
	assert.Nil(t, sec)
}

func TestAuthorizeAdmitsWhitelistedDN(t *testing.T) {
	auth := NewAuthorizer([]string{"/O=Grid/CN=head.example.org"}, nil, nil, nil, false)
	sec, ok := auth.Authorize(context.Background(), &Envelope{ClientDN: "/O=Grid/CN=head.example.org", RemoteAddr: "10.0.0.1"})
	require.True(t, ok)
	require.NotNil(t, sec)
	assert.Equal(t, "/O=Grid/CN=head.example.org", sec.ClientDN)
	assert.False(t, sec.IsPeer)
}

func TestAuthorizeDiskRoleNeverResolvesIdentity(t *testing.T) {
	// isHead=false and status=nil: Authorize must never dereference
	// users/groups, since neither is supplied.
	auth := NewAuthorizer([]string{"/O=Grid/CN=head.example.org"}, nil, nil, nil, false)
	sec, ok := auth.Authorize(context.Background(), &Envelope{ClientDN: "/O=Grid/CN=head.example.org"})
	require.True(t, ok)
	assert.Equal(t, uint32(0), sec.UID)
	assert.Empty(t, sec.GIDs)
}

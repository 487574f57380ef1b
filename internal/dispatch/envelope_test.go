package dispatch

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvelopeDecodesBodyAndHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/dpm/example.org/file", strings.NewReader(`{"pool":"p1","size":1024}`))
	req.Header.Set(cmdHeader, "dome_put")
	req.Header.Set(clientDNHeader, "/O=Grid/CN=alice")

	env, err := ParseEnvelope(req)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, env.Verb)
	assert.Equal(t, "dome_put", env.Cmd)
	assert.Equal(t, "/O=Grid/CN=alice", env.ClientDN)
	assert.Equal(t, "p1", env.StringField("pool"))
	assert.Equal(t, int64(1024), env.Int64Field("size"))
}

func TestParseEnvelopeToleratesEmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/dpm/example.org/file", nil)
	env, err := ParseEnvelope(req)
	require.NoError(t, err)
	assert.Empty(t, env.Body)
	assert.Equal(t, "", env.StringField("missing"))
}

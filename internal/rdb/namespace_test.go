package rdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitLFN(t *testing.T) {
	assert.Equal(t, []string{"dpm", "example.org", "home", "vo1", "f"}, splitLFN("/dpm/example.org/home/vo1/f"))
	assert.Equal(t, []string{"a", "b"}, splitLFN("/a/b/"))
	assert.Empty(t, splitLFN("/"))
}

func TestJoinLFN(t *testing.T) {
	assert.Equal(t, "/dpm/example.org/home/target", joinLFN("/dpm/example.org/home/link", "target"))
	assert.Equal(t, "rel", joinLFN("noslash", "rel"))
}

func TestEncodeDecodeRFN(t *testing.T) {
	rfn := EncodeRFN("hostX", "/srv/fs1/vo1/f.1.123")
	assert.Equal(t, "hostX:/srv/fs1/vo1/f.1.123", rfn)

	server, pfn, ok := DecodeRFN(rfn)
	assert.True(t, ok)
	assert.Equal(t, "hostX", server)
	assert.Equal(t, "/srv/fs1/vo1/f.1.123", pfn)

	_, _, ok = DecodeRFN("no-colon-here")
	assert.False(t, ok)
}

func TestPfnMatchesFS(t *testing.T) {
	assert.True(t, PfnMatchesFS("/srv/fs1/vo1/f", "/srv/fs1"))
	assert.True(t, PfnMatchesFS("/srv/fs1", "/srv/fs1"))
	assert.False(t, PfnMatchesFS("/srv/fs10/vo1/f", "/srv/fs1"))
	assert.False(t, PfnMatchesFS("/srv/other/f", "/srv/fs1"))
}

func TestEncodeDecodeGids(t *testing.T) {
	gids := []int64{100, 200, 300}
	raw := encodeGids(gids)
	assert.Equal(t, "100,200,300", raw)
	assert.Equal(t, gids, decodeGids(raw))
	assert.Empty(t, decodeGids(""))
}

package dome

import (
	"github.com/griddome/domed/internal/rdb"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitPath(t *testing.T) {
	dir, name := splitPath("/dpm/example.org/home/vo1/f")
	assert.Equal(t, "/dpm/example.org/home/vo1", dir)
	assert.Equal(t, "f", name)

	dir, name = splitPath("/f")
	assert.Equal(t, "/", dir)
	assert.Equal(t, "f", name)

	dir, name = splitPath("f")
	assert.Equal(t, "/", dir)
	assert.Equal(t, "f", name)
}

func TestLoadXAttrsEmpty(t *testing.T) {
	st := &rdb.ExtendedStat{}
	assert.Empty(t, st.XAttrsRaw)
	assert.Empty(t, loadXAttrs(st))
}

func TestLoadXAttrsRoundTrip(t *testing.T) {
	st := &rdb.ExtendedStat{XAttrsRaw: `{"_comment":"hello","user.tag":"v1"}`}
	xattrs := loadXAttrs(st)
	assert.Equal(t, "hello", xattrs[commentXAttrKey])
	assert.Equal(t, "v1", xattrs["user.tag"])
}

func TestLoadXAttrsTolerantOfGarbage(t *testing.T) {
	st := &rdb.ExtendedStat{XAttrsRaw: `not json`}
	assert.Empty(t, loadXAttrs(st))
}

func TestStatBodyFields(t *testing.T) {
	st := &rdb.ExtendedStat{
		FileID: 7, ParentFileID: 3, Name: "f", Mode: 0o644, UID: 1, GID: 2,
		Size: 1024, Nlink: 1, Status: rdb.FileOnline,
	}
	body := statBody(st)
	assert.Equal(t, int64(7), body["fileid"])
	assert.Equal(t, "f", body["name"])
	assert.Equal(t, int64(1024), body["size"])
	assert.Equal(t, "Online", body["status"])
}

package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/griddome/domed/internal/rdb"
)

func testFS(server, fs, pool string, free, physical int64, static rdb.FSStaticStatus) rdb.Filesystem {
	f := rdb.Filesystem{
		Server: server, FS: fs, PoolName: pool,
		StaticStatus: static, FreeSpace: free, PhysicalSize: physical,
	}
	if static == rdb.FSActive {
		f.RuntimeStatus = rdb.FSOnline
	}
	return f
}

func TestPoolSpaces(t *testing.T) {
	snap := newSnapshot(
		[]rdb.Filesystem{
			testFS("hostA", "/srv/fs1", "poolA", 10, 100, rdb.FSActive),
			testFS("hostB", "/srv/fs2", "poolA", 20, 200, rdb.FSActive),
			testFS("hostC", "/srv/fs3", "poolB", 5, 50, rdb.FSActive),
		},
		nil, nil, nil, nil,
	)

	physical, free := snap.PoolSpaces("poolA")
	assert.Equal(t, int64(300), physical)
	assert.Equal(t, int64(30), free)
}

func TestWhichQuotatokenForLfn(t *testing.T) {
	snap := newSnapshot(nil, nil, []rdb.QuotaToken{
		{SToken: "root", Path: "/dpm/example.org", PoolName: "poolA"},
		{SToken: "specific", Path: "/dpm/example.org/home/vo1", PoolName: "poolB"},
	}, nil, nil)

	tok, ok := snap.WhichQuotatokenForLfn("/dpm/example.org/home/vo1/file")
	require.True(t, ok)
	assert.Equal(t, "specific", tok.SToken)

	tok, ok = snap.WhichQuotatokenForLfn("/dpm/example.org/home/vo2/file")
	require.True(t, ok)
	assert.Equal(t, "root", tok.SToken)

	_, ok = snap.WhichQuotatokenForLfn("/unrelated/path")
	assert.False(t, ok)
}

func TestIsPathPrefixBoundary(t *testing.T) {
	assert.True(t, isPathPrefix("/dpm/vo1", "/dpm/vo1"))
	assert.True(t, isPathPrefix("/dpm/vo1", "/dpm/vo1/file"))
	assert.False(t, isPathPrefix("/dpm/vo1", "/dpm/vo12/file"))
}

func TestCanWriteIntoQuotatoken(t *testing.T) {
	permissive := &rdb.QuotaToken{GroupsForWrite: nil}
	assert.True(t, CanWriteIntoQuotatoken(permissive, []uint32{42}))

	restricted := &rdb.QuotaToken{GroupsForWrite: []int64{10, 20}}
	assert.True(t, CanWriteIntoQuotatoken(restricted, []uint32{5, 20}))
	assert.False(t, CanWriteIntoQuotatoken(restricted, []uint32{5, 6}))
}

func TestFitsInQuotatoken(t *testing.T) {
	tok := &rdb.QuotaToken{TSpace: 1000, USpace: 900}
	assert.True(t, FitsInQuotatoken(tok, 100))
	assert.False(t, FitsInQuotatoken(tok, 101))
}

func TestIsDNaKnownServer(t *testing.T) {
	snap := newSnapshot([]rdb.Filesystem{
		testFS("diskA.example.org", "/srv/fs1", "poolA", 1, 1, rdb.FSActive),
	}, nil, nil, nil, nil)

	assert.True(t, snap.IsDNaKnownServer("/O=Grid/CN=diskA.example.org", "head.example.org", "localhost"))
	assert.True(t, snap.IsDNaKnownServer("head.example.org", "head.example.org", "localhost"))
	assert.False(t, snap.IsDNaKnownServer("/O=Grid/CN=unknown.example.org", "head.example.org", "localhost"))
}

func TestPickFilesystemsExclusiveHints(t *testing.T) {
	snap := newSnapshot([]rdb.Filesystem{
		testFS("hostA", "/srv/fs1", "poolA", 1, 1, rdb.FSActive),
	}, nil, nil, nil, nil)

	_, err := snap.PickFilesystems("poolA", "hostA", "")
	assert.Error(t, err)

	out, err := snap.PickFilesystems("poolA", "", "")
	require.NoError(t, err)
	assert.Len(t, out, 1)

	out, err = snap.PickFilesystems("", "", "")
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestPickFilesystemsExcludesNotGoodForWrite(t *testing.T) {
	snap := newSnapshot([]rdb.Filesystem{
		testFS("hostA", "/srv/fs1", "poolA", 1, 1, rdb.FSDisabled),
	}, nil, nil, nil, nil)

	out, err := snap.PickFilesystems("poolA", "", "")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestGetGlobalPutCountMonotonic(t *testing.T) {
	a := GetGlobalPutCount()
	b := GetGlobalPutCount()
	assert.Less(t, a, b)
}

func TestLfnMatchesAnyCanPullFS(t *testing.T) {
	snap := newSnapshot(
		[]rdb.Filesystem{testFS("hostA", "/srv/fs1", "poolVol", 1<<30, 1<<32, rdb.FSActive)},
		[]rdb.Pool{{PoolName: "poolVol", SType: rdb.PoolVolatile}},
		[]rdb.QuotaToken{{SToken: "t1", Path: "/dpm/vo2", PoolName: "poolVol"}},
		nil, nil,
	)

	fs, ok := snap.LfnMatchesAnyCanPullFS("/dpm/vo2/x", 1<<20)
	require.True(t, ok)
	assert.Equal(t, "hostA", fs.Server)

	_, ok = snap.LfnMatchesAnyCanPullFS("/dpm/unrelated/x", 1<<20)
	assert.False(t, ok)
}

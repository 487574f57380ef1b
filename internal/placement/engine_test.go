package placement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/griddome/domed/internal/rdb"
	"github.com/griddome/domed/internal/status"
)

func TestVoFromLFN(t *testing.T) {
	vo, err := voFromLFN("/dpm/example.org/home/vo1/dir/file.root")
	require.NoError(t, err)
	assert.Equal(t, "vo1", vo)
}

func TestVoFromLFNTooShallow(t *testing.T) {
	_, err := voFromLFN("/dpm/example.org/file.root")
	assert.Error(t, err)

	_, err = voFromLFN("no-leading-slash/a/b/c/d/e")
	assert.Error(t, err)
}

func TestMintPFN(t *testing.T) {
	pfn, err := mintPFN("/srv/fs1", "vo1", "/dpm/example.org/home/vo1/dir/file.root")
	require.NoError(t, err)
	assert.Contains(t, pfn, "/srv/fs1/vo1/")
	assert.Contains(t, pfn, "file.root.")
}

func TestMintPFNRejectsEmptyBasename(t *testing.T) {
	_, err := mintPFN("/srv/fs1", "vo1", "/dpm/example.org/home/vo1/")
	assert.Error(t, err)
}

func TestExportedMintPFN(t *testing.T) {
	pfn, err := MintPFN("/srv/fs1", "/dpm/example.org/home/vo1/dir/file.root")
	require.NoError(t, err)
	assert.Contains(t, pfn, "/srv/fs1/vo1/")
}

func volatilePool(name string) map[string]rdb.Pool {
	return map[string]rdb.Pool{name: {PoolName: name, SType: rdb.PoolVolatile}}
}

func TestFilterMinFreeSpaceDefaultThreshold(t *testing.T) {
	e := &Engine{minFreeSpaceMB: 10}
	snap := testSnapshot(nil)
	candidates := []rdb.Filesystem{
		{Server: "a", FS: "/fs1", PoolName: "p", FreeSpace: 20 * mib},
		{Server: "b", FS: "/fs2", PoolName: "p", FreeSpace: 5 * mib},
	}
	out := e.filterMinFreeSpace(candidates, snap, "p")
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].Server)
}

func TestFilterMinFreeSpacePoolDefSizeOverride(t *testing.T) {
	e := &Engine{minFreeSpaceMB: 10}
	snap := testSnapshot(map[string]rdb.Pool{"p": {PoolName: "p", DefSize: 50}})
	candidates := []rdb.Filesystem{
		{Server: "a", FS: "/fs1", PoolName: "p", FreeSpace: 40 * mib},
	}
	out := e.filterMinFreeSpace(candidates, snap, "p")
	assert.Empty(t, out, "pool defsize of 50MB should override the 10MB default and exclude a 40MB filesystem")
}

func TestFilterMinFreeSpaceVolatileUsesPhysicalSize(t *testing.T) {
	e := &Engine{minFreeSpaceMB: 10}
	snap := testSnapshot(volatilePool("p"))
	candidates := []rdb.Filesystem{
		{Server: "a", FS: "/fs1", PoolName: "p", FreeSpace: 0, PhysicalSize: 20 * mib},
	}
	out := e.filterMinFreeSpace(candidates, snap, "p")
	require.Len(t, out, 1, "a Volatile pool's filesystem is measured by physical size, not free space")
}

func TestWeightedPickSingleCandidate(t *testing.T) {
	e := &Engine{}
	candidates := []rdb.Filesystem{{Server: "only", FS: "/fs1", FreeSpace: 10 * mib}}
	picked, err := e.weightedPick(candidates)
	require.NoError(t, err)
	assert.Equal(t, "only", picked.Server)
}

func TestWeightedPickFavorsMoreFreeSpace(t *testing.T) {
	e := &Engine{}
	candidates := []rdb.Filesystem{
		{Server: "small", FS: "/fs1", FreeSpace: 1 * mib},
		{Server: "big", FS: "/fs2", FreeSpace: 999 * mib},
	}
	counts := map[string]int{}
	for i := 0; i < 500; i++ {
		picked, err := e.weightedPick(candidates)
		require.NoError(t, err)
		counts[picked.Server]++
	}
	assert.Greater(t, counts["big"], counts["small"], "the filesystem with far more free space should win far more often")
}

// TestExcludeExistingReplicas checks the (server, fs) keying that
// excludeExistingReplicas applies, on an inline copy of its filter loop:
// the function itself looks the replicas up through the relational store.
func TestExcludeExistingReplicas(t *testing.T) {
	candidates := []rdb.Filesystem{
		{Server: "a", FS: "/fs1"},
		{Server: "b", FS: "/fs2"},
	}
	existing := []rdb.Replica{{Server: "a", Filesystem: "/fs1"}}

	taken := make(map[string]bool, len(existing))
	for _, r := range existing {
		taken[r.Server+"\x00"+r.Filesystem] = true
	}
	out := make([]rdb.Filesystem, 0, len(candidates))
	for _, fs := range candidates {
		if !taken[fs.Server+"\x00"+fs.FS] {
			out = append(out, fs)
		}
	}

	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].Server)
}

// testSnapshot builds a *status.Snapshot carrying only the given pools, for
// tests that exercise filterMinFreeSpace's pool lookups without a live DB.
func testSnapshot(pools map[string]rdb.Pool) *status.Snapshot {
	snap := &status.Snapshot{Pools: pools}
	if snap.Pools == nil {
		snap.Pools = map[string]rdb.Pool{}
	}
	return snap
}

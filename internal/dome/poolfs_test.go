package dome

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalDiskSpace(t *testing.T) {
	dir := t.TempDir()
	free, physical, err := localDiskSpace(dir)
	require.NoError(t, err)
	assert.Greater(t, physical, int64(0))
	assert.GreaterOrEqual(t, physical, free)
}

func TestOldestFilesOrdersByMtimeAndStopsAtTarget(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, size int, age time.Duration) {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
		mtime := time.Now().Add(-age)
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}
	write("oldest", 100, 3*time.Hour)
	write("middle", 100, 2*time.Hour)
	write("newest", 100, 1*time.Hour)

	victims, err := oldestFiles(dir, 150)
	require.NoError(t, err)
	require.Len(t, victims, 2)
	assert.Contains(t, victims[0].path, "oldest")
	assert.Contains(t, victims[1].path, "middle")
}

func TestOldestFilesEmptyDir(t *testing.T) {
	dir := t.TempDir()
	victims, err := oldestFiles(dir, 1024)
	require.NoError(t, err)
	assert.Empty(t, victims)
}

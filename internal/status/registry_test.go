package status

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/griddome/domed/internal/rdb"
)

func TestRegistrySyncAddsAndDropsServers(t *testing.T) {
	r := NewRegistry()
	r.sync([]rdb.Filesystem{
		{Server: "hostA", FS: "/srv/fs1"},
		{Server: "hostB", FS: "/srv/fs2"},
	})
	assert.True(t, r.isOnline("hostA"))
	assert.True(t, r.isOnline("hostB"))

	r.sync([]rdb.Filesystem{
		{Server: "hostA", FS: "/srv/fs1"},
	})
	assert.True(t, r.isOnline("hostA"))
	assert.False(t, r.isOnline("hostB"))
}

func TestRegistryPollMarksFailureSuspectThenDead(t *testing.T) {
	r := NewRegistry()
	r.suspectAfter = 0
	r.deadAfter = 0
	r.sync([]rdb.Filesystem{{Server: "hostA", FS: "/srv/fs1"}})
	r.SetProber(func(ctx context.Context, server string) error {
		return errors.New("unreachable")
	})

	r.Poll(context.Background())
	time.Sleep(time.Millisecond)
	assert.Equal(t, rdb.FSUnknown, r.Status("hostA"))

	r.Poll(context.Background())
	assert.Equal(t, rdb.FSBroken, r.Status("hostA"))
}

func TestRegistryPollRecoversOnSuccess(t *testing.T) {
	r := NewRegistry()
	r.sync([]rdb.Filesystem{{Server: "hostA", FS: "/srv/fs1"}})
	fail := true
	r.SetProber(func(ctx context.Context, server string) error {
		if fail {
			return errors.New("down")
		}
		return nil
	})

	r.Poll(context.Background())
	fail = false
	r.Poll(context.Background())
	assert.Equal(t, rdb.FSOnline, r.Status("hostA"))
}

func TestRegistryStatusUnknownForUntrackedServer(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, rdb.FSUnknown, r.Status("ghost"))
	require.False(t, r.isOnline("ghost"))
}

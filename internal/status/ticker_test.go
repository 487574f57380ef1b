package status

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTickerTickAtRespectsIntervals(t *testing.T) {
	st := &Status{registry: NewRegistry()}
	ticker := NewTicker(st, time.Second, time.Hour, time.Hour)

	calls := 0
	ticker.SetSpaceProbe(func(ctx context.Context, server, fs string) (int64, int64, error) {
		calls++
		return 0, 0, nil
	})

	now := time.Now()
	ticker.lastReload = now // avoid exercising Reload against a nil rdb adapter

	ticker.tickAt(context.Background(), now)
	firstSpaceCheck := ticker.lastSpaceCheck
	assert.False(t, firstSpaceCheck.IsZero())

	// Within reloadFSQuotas/fsCheckInterval, a second tick should not
	// re-run the space leg (snapshot is nil so refreshSpace would be a
	// no-op anyway, but lastSpaceCheck must not move).
	ticker.tickAt(context.Background(), now.Add(time.Millisecond))
	assert.Equal(t, firstSpaceCheck, ticker.lastSpaceCheck)
}

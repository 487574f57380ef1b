package gpq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTouchItemOrCreateNewCreatesWaiting(t *testing.T) {
	q := NewQueue([]int{-1, -1}, time.Minute)
	it := q.TouchItemOrCreateNew("ck:/a/b", Running, 5, []string{"", "diskA"})

	assert.Equal(t, Waiting, it.Status, "a brand new item always starts Waiting regardless of the status argument")
	assert.Equal(t, 5, it.Priority)
	assert.Equal(t, []string{"", "diskA"}, it.Qualifiers)
}

func TestTouchItemOrCreateNewRefreshesExisting(t *testing.T) {
	q := NewQueue([]int{-1, -1}, time.Minute)
	q.TouchItemOrCreateNew("ck:/a/b", Waiting, 1, []string{"", "diskA"})

	it := q.TouchItemOrCreateNew("ck:/a/b", Running, 9, []string{"", "diskA"})
	assert.Equal(t, Running, it.Status)
	assert.Equal(t, 9, it.Priority)
}

func TestTickAdmitsWithinGlobalLimit(t *testing.T) {
	q := NewQueue([]int{2, -1}, time.Minute)
	q.TouchItemOrCreateNew("a", Waiting, 0, []string{"", "diskA"})
	q.TouchItemOrCreateNew("b", Waiting, 0, []string{"", "diskB"})
	q.TouchItemOrCreateNew("c", Waiting, 0, []string{"", "diskC"})

	promoted := q.Tick()
	assert.Len(t, promoted, 2, "global limit of 2 admits exactly two of three waiting items")

	for _, it := range promoted {
		assert.Equal(t, Running, it.Status)
	}
	remaining := 0
	for _, it := range q.Snapshot() {
		if it.Status == Waiting {
			remaining++
		}
	}
	assert.Equal(t, 1, remaining)
}

func TestTickRespectsPerNodeLimit(t *testing.T) {
	q := NewQueue([]int{-1, 1}, time.Minute)
	q.TouchItemOrCreateNew("a", Waiting, 0, []string{"", "diskA"})
	q.TouchItemOrCreateNew("b", Waiting, 0, []string{"", "diskA"})
	q.TouchItemOrCreateNew("c", Waiting, 0, []string{"", "diskB"})

	promoted := q.Tick()
	byQualifier := map[string]int{}
	for _, it := range promoted {
		byQualifier[it.Qualifiers[1]]++
	}
	assert.Equal(t, 1, byQualifier["diskA"])
	assert.Equal(t, 1, byQualifier["diskB"])
}

func TestTickPrefersHigherPriorityThenFIFO(t *testing.T) {
	q := NewQueue([]int{1, -1}, time.Minute)
	q.TouchItemOrCreateNew("low", Waiting, 1, []string{"", "diskA"})
	time.Sleep(time.Millisecond)
	q.TouchItemOrCreateNew("high", Waiting, 5, []string{"", "diskB"})

	promoted := q.Tick()
	require.Len(t, promoted, 1)
	assert.Equal(t, "high", promoted[0].NameKey)
}

func TestTickPurgesStaleWaitingItems(t *testing.T) {
	q := NewQueue([]int{-1, -1}, time.Millisecond)
	q.TouchItemOrCreateNew("a", Waiting, 0, []string{""})
	time.Sleep(5 * time.Millisecond)

	q.Tick()
	assert.Equal(t, 0, q.Len())
}

func TestTickNeverExpiresRunningItems(t *testing.T) {
	q := NewQueue([]int{-1, -1}, time.Millisecond)
	q.TouchItemOrCreateNew("a", Waiting, 0, []string{""})
	q.Tick()
	require.Equal(t, 1, q.Len())

	time.Sleep(5 * time.Millisecond)
	q.Tick()
	assert.Equal(t, 1, q.Len(), "Running items never auto-expire")
}

func TestCollectFinishedDrainsAndRemoves(t *testing.T) {
	q := NewQueue([]int{-1, -1}, time.Minute)
	q.TouchItemOrCreateNew("a", Waiting, 0, []string{""})
	q.TouchItemOrCreateNew("a", Finished, 0, []string{""})

	out := q.CollectFinished()
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].NameKey)
	assert.Equal(t, 0, q.Len())

	assert.Empty(t, q.CollectFinished(), "collecting a second time finds nothing left")
}

func TestNotifyIsDebounced(t *testing.T) {
	q := NewQueue([]int{-1, -1}, time.Minute)
	q.Notify()
	q.Notify()
	q.Notify()
	assert.Len(t, q.notify, 1)
}

// Package mdcache is the metadata cache: a dual-indexed, TTL-bounded view
// over the namespace and replica tables that lets request handlers avoid a
// round trip to the relational adapter for hot entries. Entries are kept
// by fileid and by (parent fileid, name), and each carries an independent
// state for its stat info and its replica locations so a lookup that only
// needs one half never waits on the other.
package mdcache

import (
	"bytes"
	"encoding/gob"
	"strconv"
	"sync"
	"time"

	"github.com/griddome/domed/internal/cache"
	"github.com/griddome/domed/internal/config"
	"github.com/griddome/domed/internal/rdb"
)

// Status is the fetch state of one half (stat or locations) of a cache entry.
type Status int

const (
	NoInfo Status = iota
	InProgress
	Ok
	NotFound
	Error
)

// entry is the payload stored (gob-encoded) inside the underlying LRU caches.
type entry struct {
	FileID       int64
	ParentFileID int64
	Name         string

	StatStatus Status
	Stat       *rdb.ExtendedStat
	StatErr    string

	LocStatus Status
	Locations []rdb.Replica
	LocErr    string

	ExpiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Cache is the dual-indexed metadata cache. It implements
// rdb.CacheInvalidator so the relational adapter can wipe an entry the
// instant it mutates the underlying row, without importing this package.
type Cache struct {
	mu sync.Mutex

	byFileID   *cache.LRUCache
	byParent   *cache.LRUCache
	itemTTL    time.Duration
	itemMaxTTL time.Duration
	negTTL     time.Duration

	// inflight coalesces concurrent fetches for the same key so only one
	// caller actually populates the cache; the rest wait on the channel.
	inflight map[string]chan struct{}
}

// New builds a Cache sized and timed from cfg.
func New(cfg config.MDCacheConfig) *Cache {
	lruCfg := &cache.CacheConfig{
		MaxEntries:      cfg.MaxItems,
		MaxSize:         int64(cfg.MaxItems) * 4096,
		TTL:             cfg.ItemMaxTTL,
		EvictionPolicy:  "weighted_lru",
		CleanupInterval: time.Minute,
	}
	return &Cache{
		byFileID:   cache.NewLRUCache(lruCfg),
		byParent:   cache.NewLRUCache(lruCfg),
		itemTTL:    cfg.ItemTTL,
		itemMaxTTL: cfg.ItemMaxTTL,
		negTTL:     cfg.ItemTTLNegative,
		inflight:   make(map[string]chan struct{}),
	}
}

func fileIDKey(fileID int64) string {
	return "f:" + strconv.FormatInt(fileID, 10)
}

func parentNameKey(parentFileID int64, name string) string {
	return "p:" + strconv.FormatInt(parentFileID, 10) + "/" + name
}

func encode(e *entry) []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(e)
	return buf.Bytes()
}

func decode(data []byte) *entry {
	if len(data) == 0 {
		return nil
	}
	var e entry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e); err != nil {
		return nil
	}
	return &e
}

func (c *Cache) getRaw(fileID int64) *entry {
	data := c.byFileID.Get(fileIDKey(fileID), 0, 0)
	e := decode(data)
	if e == nil {
		return nil
	}
	if e.expired(time.Now()) {
		return nil
	}
	return e
}

func (c *Cache) getByParentRaw(parentFileID int64, name string) *entry {
	data := c.byParent.Get(parentNameKey(parentFileID, name), 0, 0)
	e := decode(data)
	if e == nil {
		return nil
	}
	if e.expired(time.Now()) {
		return nil
	}
	return e
}

// store writes e into both indexes, keyed by whatever identity fields are
// populated. Stat entries carry parent/name and so are stored in both
// indexes; pure replica-location entries are stored by fileid only.
func (c *Cache) store(e *entry) {
	payload := encode(e)
	c.byFileID.Put(fileIDKey(e.FileID), 0, payload)
	if e.Name != "" {
		c.byParent.Put(parentNameKey(e.ParentFileID, e.Name), 0, payload)
	}
}

func (c *Cache) ttlFor(status Status) time.Duration {
	switch status {
	case NotFound, Error:
		return c.negTTL
	default:
		return c.itemTTL
	}
}

// LookupStat returns the cached stat entry for fileID, its Status, and
// whether the cache held anything (hit) at all. A NoInfo status with
// hit==false means the caller must fetch and call PutStat.
func (c *Cache) LookupStat(fileID int64) (*rdb.ExtendedStat, Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.getRaw(fileID)
	if e == nil {
		return nil, NoInfo, false
	}
	return e.Stat, e.StatStatus, true
}

// LookupStatByParent resolves a (parent fileid, name) pair from cache.
func (c *Cache) LookupStatByParent(parentFileID int64, name string) (*rdb.ExtendedStat, Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.getByParentRaw(parentFileID, name)
	if e == nil {
		return nil, NoInfo, false
	}
	return e.Stat, e.StatStatus, true
}

// PutStat caches a stat lookup result. status should be Ok on success,
// NotFound for a confirmed-absent lookup (cached for the shorter negative
// TTL), or Error for a transient failure.
func (c *Cache) PutStat(parentFileID int64, name string, st *rdb.ExtendedStat, status Status) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fileID := int64(0)
	if st != nil {
		fileID = st.FileID
	}

	e := c.getRaw(fileID)
	if e == nil {
		e = &entry{FileID: fileID, ParentFileID: parentFileID, Name: name}
	}
	e.ParentFileID = parentFileID
	e.Name = name
	e.Stat = st
	e.StatStatus = status
	e.ExpiresAt = time.Now().Add(c.ttlFor(status))
	c.store(e)
}

// LookupLocations returns the cached replica list for fileID.
func (c *Cache) LookupLocations(fileID int64) ([]rdb.Replica, Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.getRaw(fileID)
	if e == nil {
		return nil, NoInfo, false
	}
	return e.Locations, e.LocStatus, true
}

// PutLocations caches a replica-list lookup result for fileID.
func (c *Cache) PutLocations(fileID int64, reps []rdb.Replica, status Status) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.getRaw(fileID)
	if e == nil {
		e = &entry{FileID: fileID}
	}
	e.Locations = reps
	e.LocStatus = status
	e.ExpiresAt = time.Now().Add(c.ttlFor(status))
	c.store(e)
}

// WipeEntry implements rdb.CacheInvalidator: it drops every index entry
// touching fileID or the (parentFileID, name) pair, forcing the next
// lookup to re-fetch from the relational adapter.
func (c *Cache) WipeEntry(fileID int64, parentFileID int64, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fileID != 0 {
		c.byFileID.Delete(fileIDKey(fileID))
	}
	if name != "" {
		c.byParent.Delete(parentNameKey(parentFileID, name))
	}
}

// BeginFetch coalesces concurrent lookups for the same key: the first
// caller for a given key gets started==true and must call EndFetch when it
// has populated the cache (via PutStat/PutLocations); every other caller
// gets started==false and a channel that closes once the first caller's
// EndFetch runs, at which point it should re-check the cache.
func (c *Cache) BeginFetch(key string) (wait <-chan struct{}, started bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ch, ok := c.inflight[key]; ok {
		return ch, false
	}
	ch := make(chan struct{})
	c.inflight[key] = ch
	return ch, true
}

// EndFetch releases waiters registered via BeginFetch for key.
func (c *Cache) EndFetch(key string) {
	c.mu.Lock()
	ch, ok := c.inflight[key]
	if ok {
		delete(c.inflight, key)
	}
	c.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Clear empties both indexes.
func (c *Cache) Clear() {
	c.byFileID.Clear()
	c.byParent.Clear()
}

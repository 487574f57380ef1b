/*
Package cache provides the in-process LRU cache backing internal/mdcache's
dual-indexed (by-fileid, by-parent) metadata lookup.

LRUCache is a thread-safe, size- and count-bounded cache keyed by an
opaque string and an (offset, size) pair. When a bound is exceeded it
evicts the least recently used entry; CacheConfig.EvictionPolicy is stored
but not consulted. An expiry sweep is driven by CacheConfig.TTL.
*/
package cache

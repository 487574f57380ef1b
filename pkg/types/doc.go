// Package types holds CacheStats, the point-in-time hit/miss/eviction
// snapshot internal/cache.LRUCache.Stats returns. pkg/api does not
// report it on any endpoint.
package types

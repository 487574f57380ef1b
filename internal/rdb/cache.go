package rdb

// CacheInvalidator is implemented by internal/mdcache. The relational
// adapter calls it after every mutating primitive so the metadata cache
// never serves a stale entry.
type CacheInvalidator interface {
	WipeEntry(fileID int64, parentFileID int64, name string)
}

type noopInvalidator struct{}

func (noopInvalidator) WipeEntry(int64, int64, string) {}

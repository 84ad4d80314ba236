package metadata

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultVersionCacheSize is the default number of Root entries kept per
// VersionCache, matching the spirit of the original's dht.cachesize
// configuration knob for a similarly small bounded cache.
const DefaultVersionCacheSize = 256

// VersionCache is a bounded in-memory map from Version to Root, private to
// one object handler (spec §5: "The version cache is private to the object
// handler"). Version 0 ("latest") is never cached — callers resolve it
// against their own latest_root field instead.
type VersionCache struct {
	cache *lru.Cache[Version, Root]
}

// NewVersionCache builds a VersionCache bounded to size entries.
func NewVersionCache(size int) (*VersionCache, error) {
	if size <= 0 {
		size = DefaultVersionCacheSize
	}
	c, err := lru.New[Version, Root](size)
	if err != nil {
		return nil, err
	}
	return &VersionCache{cache: c}, nil
}

// Read returns the cached root for v, if present. Version 0 is never a hit.
func (vc *VersionCache) Read(v Version) (Root, bool) {
	if v == 0 {
		return Root{}, false
	}
	return vc.cache.Get(v)
}

// Write inserts root under its own version, unless that version is 0.
func (vc *VersionCache) Write(v Version, root Root) {
	if v == 0 {
		return
	}
	vc.cache.Add(v, root)
}

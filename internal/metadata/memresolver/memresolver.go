// Package memresolver provides an in-memory metadata.RangeResolver for
// tests and for blobcoordctl, which always uses it. The production metadata
// range-query engine is out of scope (spec.md §1 treats it as an external
// collaborator); this is a standalone fake honoring the same contract,
// grounded on torua's storage.MemoryStore: one RWMutex-guarded map, no
// persistence, no tree compaction.
package memresolver

import (
	"context"
	"sync"

	"github.com/zeebo/errs"

	"github.com/lizhe1240/blobseer/internal/metadata"
)

// Error is the error class for the memresolver package.
var Error = errs.Class("memresolver")

type treeKey struct {
	objectID metadata.ObjectId
	version  metadata.Version
}

// Resolver is an in-memory metadata.RangeResolver. A version's page
// placement is a flat []metadata.ReplicaList indexed by page number;
// WriteRecordLocations stores one entry per page written in that call,
// replacing any earlier tree for the same (object, version).
type Resolver struct {
	mu    sync.RWMutex
	trees map[treeKey][]metadata.ReplicaList
	keys  map[treeKey][]metadata.PageKey
}

// New builds an empty Resolver.
func New() *Resolver {
	return &Resolver{
		trees: make(map[treeKey][]metadata.ReplicaList),
		keys:  make(map[treeKey][]metadata.PageKey),
	}
}

// ReadRecordLocations fills selectors with the replica list recorded for
// each page covering q, reading from the tree committed for root.Version.
// prefetch and threshold are accepted for interface conformance but unused:
// this resolver holds everything in memory already, so there is nothing to
// prefetch or stale-bound.
func (r *Resolver) ReadRecordLocations(_ context.Context, selectors []*metadata.ReplicaSelector, _ []metadata.PrefetchHint, q metadata.Query, root metadata.Root, _ uint32) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := treeKey{objectID: q.ObjectID, version: root.Version}
	pages, ok := r.trees[key]
	if !ok {
		return Error.New("no committed tree for object %d version %d", q.ObjectID, root.Version)
	}
	keys := r.keys[key]

	firstPage := int(q.Offset / root.PageSize)
	if firstPage+len(selectors) > len(pages) {
		return Error.New("range extends past committed tree: page %d + %d selectors > %d pages",
			firstPage, len(selectors), len(pages))
	}

	for i, sel := range selectors {
		pageIdx := firstPage + i
		replicas := pages[pageIdx]
		if len(replicas) == 0 {
			return Error.New("page %d has no recorded replicas", pageIdx)
		}
		*sel = *metadata.NewReplicaSelector(keys[pageIdx], replicas, metadata.NewRandSource(int64(pageIdx)))
	}
	return nil
}

// WriteRecordLocations commits pageKeys/adv as the tree for the version
// named by reply's last interval, replacing any prior tree for that
// (object, version) pair — a version is only ever published once, so this
// is not expected to overwrite in practice.
func (r *Resolver) WriteRecordLocations(_ context.Context, reply metadata.VmgrReply, pageKeys []metadata.PageKey, adv metadata.ReplicaList) error {
	interval, ok := reply.LastInterval()
	if !ok {
		return Error.New("write record locations called with an empty VmgrReply")
	}
	if len(pageKeys) == 0 {
		return Error.New("write record locations called with no page keys")
	}

	replicaCount := len(adv) / len(pageKeys)
	if replicaCount == 0 {
		return Error.New("advertised replica list too short for %d pages", len(pageKeys))
	}

	pages := make([]metadata.ReplicaList, len(pageKeys))
	for i := range pageKeys {
		pages[i] = adv.Page(i, replicaCount)
	}

	key := treeKey{objectID: interval.Range.ObjectID, version: interval.Version}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.trees[key] = pages
	r.keys[key] = append([]metadata.PageKey(nil), pageKeys...)
	return nil
}

// PageKeysFor returns the page keys committed for (objectID, version), for
// tests asserting on dedup behavior across writes.
func (r *Resolver) PageKeysFor(objectID metadata.ObjectId, version metadata.Version) ([]metadata.PageKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys, ok := r.keys[treeKey{objectID: objectID, version: version}]
	return keys, ok
}

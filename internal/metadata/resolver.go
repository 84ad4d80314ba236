package metadata

import "context"

// RangeResolver is the contract the client coordinator uses to talk to the
// metadata range-query engine. Per spec §1 that engine is an external
// collaborator, treated here as opaque: the resolver turns a byte range
// into per-page replica selectors on read, and binds page keys to a new
// version's metadata tree on write.
type RangeResolver interface {
	// ReadRecordLocations fills selectors (one per page covering range,
	// in order) by resolving q against root. prefetch is an optional hint
	// list; threshold bounds how stale a replica list resolution may be.
	// It reports an error if the range cannot be resolved at all.
	ReadRecordLocations(ctx context.Context, selectors []*ReplicaSelector, prefetch []PrefetchHint, q Query, root Root, threshold uint32) error

	// WriteRecordLocations binds pageKeys (one per page in the write, in
	// order) to the placement adv returned by the publisher, committing
	// them into the metadata tree for the version named by reply's last
	// interval.
	WriteRecordLocations(ctx context.Context, reply VmgrReply, pageKeys []PageKey, adv ReplicaList) error
}

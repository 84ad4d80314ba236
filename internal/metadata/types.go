// Package metadata holds the BLOB data model shared by the read and write
// pipelines: object/version identifiers, page keys, provider descriptors,
// metadata roots, range queries, the replica selector, and the version
// cache. It also defines RangeResolver, the contract the client coordinator
// uses to talk to the (out of scope, external) metadata range-query engine.
//
// The shapes here follow metadata::root_t, metadata::provider_desc and
// metadata::query_t from the original BlobSeer object_handler, translated
// from Boost-typed C++ structs into plain Go value types.
package metadata

import (
	"crypto/md5" //nolint:gosec // page content hash is specified as MD5, not a security boundary
	"math/rand"
)

// ObjectId identifies a BLOB object, assigned by the version manager at
// create time.
type ObjectId uint32

// Version is a monotonic per-object version number. Version 0 is reserved
// to mean "latest known".
type Version uint32

// HashSize is the width of a PageKey: 128-bit MD5.
const HashSize = md5.Size

// PageKey is the content hash of one page's bytes. Equality of keys implies
// equality of contents for dedup purposes.
type PageKey [HashSize]byte

// HashPage computes the PageKey for a page's content.
func HashPage(page []byte) PageKey {
	return PageKey(md5.Sum(page)) //nolint:gosec
}

// Empty reports whether k is the zero key (never a real MD5 digest of
// meaningful input with overwhelming probability, used only as a sentinel
// for "no key computed").
func (k PageKey) Empty() bool {
	return k == PageKey{}
}

// ProviderDesc identifies one replica endpoint.
type ProviderDesc struct {
	Host    string
	Service string
}

// Empty reports whether d is the "no such replica" sentinel.
func (d ProviderDesc) Empty() bool {
	return d.Host == "" && d.Service == ""
}

// ReplicaList is an ordered sequence of replica endpoints produced by the
// publisher. Its length is num_pages*replica_count, grouped contiguously
// per page: page i's replicas occupy indices [i*replicaCount,
// (i+1)*replicaCount).
type ReplicaList []ProviderDesc

// Page returns the replica slice for page index i out of a replica list
// built with the given replicaCount.
func (rl ReplicaList) Page(i int, replicaCount int) ReplicaList {
	start := i * replicaCount
	end := start + replicaCount
	if start > len(rl) {
		start = len(rl)
	}
	if end > len(rl) {
		end = len(rl)
	}
	return rl[start:end]
}

// Root is an immutable metadata snapshot for one committed version.
type Root struct {
	ObjectID       ObjectId
	Version        Version
	TotalSize      uint64
	PageSize       uint64
	ReplicaCount   uint32
	TreeDescriptor []byte
}

// Empty reports whether r is the zero root, used the way the original's
// root_t(0,0,0,0,0) sentinel marks "no root yet".
func (r Root) Empty() bool {
	return r.PageSize == 0 && r.TotalSize == 0 && r.Version == 0
}

// Query describes a byte range against one object version.
type Query struct {
	ObjectID ObjectId
	Version  Version
	Offset   uint64
	Size     uint64
}

// VmgrInterval is one committed interval returned by VMGR_GETTICKET.
type VmgrInterval struct {
	Range   Query
	Version Version
}

// VmgrReply is the version manager's response to a ticket request.
type VmgrReply struct {
	Intervals []VmgrInterval
}

// LastInterval returns the most recently appended interval, the one whose
// range the client commits metadata against (mirrors the original's
// reply.intervals.rbegin()).
func (r VmgrReply) LastInterval() (VmgrInterval, bool) {
	if len(r.Intervals) == 0 {
		return VmgrInterval{}, false
	}
	return r.Intervals[len(r.Intervals)-1], true
}

// PrefetchHint is an opaque hint passed through to the range resolver to
// encourage prefetching of nearby pages. The original source const-casts a
// caller-supplied const prefetch list through a mutating interface; per
// spec guidance this type is plain mutable input, no const facade kept.
type PrefetchHint struct {
	ObjectID ObjectId
	Offset   uint64
	Size     uint64
}

// NewRandSource returns a generator seeded with seed. The same seed always
// yields the same sequence, so a caller that passes a fixed seed gets the
// same replica shuffle every time.
func NewRandSource(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed)) //nolint:gosec // not a security-sensitive shuffle
}

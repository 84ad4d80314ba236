package memresolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lizhe1240/blobseer/internal/metadata"
)

func commit(t *testing.T, r *Resolver, objectID metadata.ObjectId, version metadata.Version, keys []metadata.PageKey, replicaCount int, replicas metadata.ReplicaList) {
	t.Helper()
	reply := metadata.VmgrReply{Intervals: []metadata.VmgrInterval{{
		Range:   metadata.Query{ObjectID: objectID, Version: version},
		Version: version,
	}}}
	require.NoError(t, r.WriteRecordLocations(context.Background(), reply, keys, replicas))
}

func TestWriteThenReadRecordLocations(t *testing.T) {
	r := New()
	k0 := metadata.HashPage([]byte("page0"))
	k1 := metadata.HashPage([]byte("page1"))
	replicas := metadata.ReplicaList{
		{Host: "h0a", Service: "1"}, {Host: "h0b", Service: "1"},
		{Host: "h1a", Service: "1"}, {Host: "h1b", Service: "1"},
	}
	commit(t, r, 1, 1, []metadata.PageKey{k0, k1}, 2, replicas)

	root := metadata.Root{ObjectID: 1, Version: 1, PageSize: 4096, TotalSize: 8192}
	q := metadata.Query{ObjectID: 1, Version: 1, Offset: 0, Size: 8192}
	selectors := []*metadata.ReplicaSelector{{}, {}}
	require.NoError(t, r.ReadRecordLocations(context.Background(), selectors, nil, q, root, 0))

	assert.Equal(t, k0, selectors[0].PageKey())
	assert.Equal(t, k1, selectors[1].PageKey())
	assert.NotEqual(t, metadata.ProviderDesc{}, selectors[0].TryNext())
}

func TestReadRecordLocationsUnknownTreeFails(t *testing.T) {
	r := New()
	root := metadata.Root{ObjectID: 1, Version: 1, PageSize: 4096}
	q := metadata.Query{ObjectID: 1, Version: 1}
	err := r.ReadRecordLocations(context.Background(), []*metadata.ReplicaSelector{{}}, nil, q, root, 0)
	assert.Error(t, err)
}

func TestReadRecordLocationsRangePastTreeFails(t *testing.T) {
	r := New()
	k0 := metadata.HashPage([]byte("page0"))
	commit(t, r, 1, 1, []metadata.PageKey{k0}, 1, metadata.ReplicaList{{Host: "h0", Service: "1"}})

	root := metadata.Root{ObjectID: 1, Version: 1, PageSize: 4096}
	q := metadata.Query{ObjectID: 1, Version: 1, Offset: 4096}
	err := r.ReadRecordLocations(context.Background(), []*metadata.ReplicaSelector{{}}, nil, q, root, 0)
	assert.Error(t, err)
}

func TestPageKeysForReflectsCommittedTree(t *testing.T) {
	r := New()
	k0 := metadata.HashPage([]byte("page0"))
	commit(t, r, 5, 2, []metadata.PageKey{k0}, 1, metadata.ReplicaList{{Host: "h0", Service: "1"}})

	keys, ok := r.PageKeysFor(5, 2)
	require.True(t, ok)
	assert.Equal(t, []metadata.PageKey{k0}, keys)

	_, ok = r.PageKeysFor(5, 3)
	assert.False(t, ok)
}

func TestWriteRecordLocationsRejectsEmptyReply(t *testing.T) {
	r := New()
	err := r.WriteRecordLocations(context.Background(), metadata.VmgrReply{}, []metadata.PageKey{metadata.HashPage([]byte("a"))}, metadata.ReplicaList{{Host: "h", Service: "1"}})
	assert.Error(t, err)
}

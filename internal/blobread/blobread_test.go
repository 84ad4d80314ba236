package blobread

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lizhe1240/blobseer/internal/metadata"
	"github.com/lizhe1240/blobseer/internal/metadata/memresolver"
	"github.com/lizhe1240/blobseer/internal/rpcclient"
	"github.com/lizhe1240/blobseer/internal/rpcwire"
)

// providerTransport serves ProviderRead/ProviderReadPartial out of a
// per-page-key content map, standing in for a real provider over the wire.
type providerTransport struct {
	pages map[metadata.PageKey][]byte
}

func (p *providerTransport) Dial(_ context.Context, _, _ string) (net.Conn, error) {
	client, server := net.Pipe()
	go func() {
		defer server.Close()
		for {
			header, params, err := rpcwire.ReadMessage(server, nil)
			if err != nil {
				return
			}
			var key metadata.PageKey
			copy(key[:], params[0])
			content, ok := p.pages[key]
			if !ok {
				_ = rpcwire.WriteMessage(server, rpcwire.Header{Name: header.Name, Status: rpcwire.StatusEObj}, nil)
				continue
			}
			switch header.Name {
			case rpcwire.ProviderRead:
				_ = rpcwire.WriteMessage(server, rpcwire.Header{Name: header.Name, PSize: 1, Status: rpcwire.StatusOK}, [][]byte{content})
			case rpcwire.ProviderReadPartial:
				skip, _ := rpcwire.DecodeUint64(params[1])
				size, _ := rpcwire.DecodeUint64(params[2])
				_ = rpcwire.WriteMessage(server, rpcwire.Header{Name: header.Name, PSize: 1, Status: rpcwire.StatusOK}, [][]byte{content[skip : skip+size]})
			}
		}
	}()
	return client, nil
}

func setup(t *testing.T, pageSize uint64, pageContents [][]byte) (Deps, metadata.Root) {
	t.Helper()
	transport := &providerTransport{pages: make(map[metadata.PageKey][]byte)}
	keys := make([]metadata.PageKey, len(pageContents))
	for i, c := range pageContents {
		k := metadata.HashPage(c)
		keys[i] = k
		transport.pages[k] = c
	}

	resolver := memresolver.New()
	replicas := make(metadata.ReplicaList, 0, len(pageContents))
	for range pageContents {
		replicas = append(replicas, metadata.ProviderDesc{Host: "provider", Service: "1"})
	}
	reply := metadata.VmgrReply{Intervals: []metadata.VmgrInterval{{
		Range:   metadata.Query{ObjectID: 1, Version: 1},
		Version: 1,
	}}}
	require.NoError(t, resolver.WriteRecordLocations(context.Background(), reply, keys, replicas))

	totalSize := uint64(0)
	for _, c := range pageContents {
		totalSize += uint64(len(c))
	}
	root := metadata.Root{ObjectID: 1, Version: 1, PageSize: pageSize, TotalSize: totalSize}

	deps := Deps{
		Dispatcher: rpcclient.New(transport, nil),
		Resolver:   resolver,
		RetryCount: 2,
	}
	return deps, root
}

func TestReadSingleFullPage(t *testing.T) {
	deps, root := setup(t, 8, [][]byte{[]byte("abcdefgh")})
	buf := make([]byte, 8)
	require.NoError(t, Read(context.Background(), deps, root, 0, 8, buf))
	assert.Equal(t, []byte("abcdefgh"), buf)
}

func TestReadSinglePagePartial(t *testing.T) {
	deps, root := setup(t, 8, [][]byte{[]byte("abcdefgh")})
	buf := make([]byte, 3)
	require.NoError(t, Read(context.Background(), deps, root, 2, 3, buf))
	assert.Equal(t, []byte("cde"), buf)
}

func TestReadSpanningMultiplePagesWithBothPartials(t *testing.T) {
	deps, root := setup(t, 4, [][]byte{[]byte("abcd"), []byte("efgh"), []byte("ijkl")})
	buf := make([]byte, 8)
	// offset 2 .. 10: "cd"+"efgh"+"ij" -> "cdefghij"
	require.NoError(t, Read(context.Background(), deps, root, 2, 8, buf))
	assert.Equal(t, []byte("cdefghij"), buf)
}

func TestReadZeroSizeIsNoop(t *testing.T) {
	deps, root := setup(t, 4, [][]byte{[]byte("abcd")})
	buf := make([]byte, 0)
	assert.NoError(t, Read(context.Background(), deps, root, 0, 0, buf))
}

func TestReadBeyondTotalSizePanics(t *testing.T) {
	deps, root := setup(t, 4, [][]byte{[]byte("abcd")})
	buf := make([]byte, 4)
	assert.Panics(t, func() {
		_ = Read(context.Background(), deps, root, 0, 8, buf)
	})
}

func TestReadUninitializedRootPanics(t *testing.T) {
	deps, _ := setup(t, 4, [][]byte{[]byte("abcd")})
	buf := make([]byte, 1)
	assert.Panics(t, func() {
		_ = Read(context.Background(), deps, metadata.Root{}, 0, 1, buf)
	})
}

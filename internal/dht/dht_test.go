package dht

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lizhe1240/blobseer/internal/metadata"
	"github.com/lizhe1240/blobseer/internal/rpcclient"
	"github.com/lizhe1240/blobseer/internal/rpcwire"
)

// fakeGatewayTransport serves one gateway's store out of a plain map,
// avoiding real sockets in tests.
type fakeGatewayTransport struct {
	store map[metadata.PageKey][]byte
}

func (f *fakeGatewayTransport) Dial(_ context.Context, _, _ string) (net.Conn, error) {
	client, server := net.Pipe()
	go func() {
		defer server.Close()
		for {
			header, params, err := rpcwire.ReadMessage(server, nil)
			if err != nil {
				return
			}
			switch header.Name {
			case rpcwire.ProviderRead:
				result := make([][]byte, len(params))
				for i, raw := range params {
					var k metadata.PageKey
					copy(k[:], raw)
					result[i] = f.store[k]
				}
				_ = rpcwire.WriteMessage(server, rpcwire.Header{Name: header.Name, PSize: uint32(len(result)), Status: rpcwire.StatusOK}, result)
			case rpcwire.ProviderWrite:
				for i := 0; i+1 < len(params); i += 2 {
					var k metadata.PageKey
					copy(k[:], params[i])
					f.store[k] = params[i+1]
				}
				_ = rpcwire.WriteMessage(server, rpcwire.Header{Name: header.Name, Status: rpcwire.StatusOK}, nil)
			case rpcwire.ProviderRemove:
				for _, raw := range params {
					var k metadata.PageKey
					copy(k[:], raw)
					delete(f.store, k)
				}
				_ = rpcwire.WriteMessage(server, rpcwire.Header{Name: header.Name, Status: rpcwire.StatusOK}, nil)
			}
		}
	}()
	return client, nil
}

func TestPutThenGetRoundTrip(t *testing.T) {
	transport := &fakeGatewayTransport{store: make(map[metadata.PageKey][]byte)}
	dispatcher := rpcclient.New(transport, nil)
	c, err := New(dispatcher, []Gateway{{Host: "gw1", Service: "1"}, {Host: "gw2", Service: "1"}}, nil)
	require.NoError(t, err)

	key := metadata.HashPage([]byte("page-content"))
	var putErr error
	c.Put(key, []byte("page-content"), func(err error) { putErr = err })
	require.NoError(t, c.Wait(context.Background()))
	require.NoError(t, putErr)

	var got []byte
	c.Get(key, func(value []byte) { got = value })
	require.NoError(t, c.Wait(context.Background()))
	assert.Equal(t, []byte("page-content"), got)
}

func TestGetMissingKeyReturnsEmpty(t *testing.T) {
	transport := &fakeGatewayTransport{store: make(map[metadata.PageKey][]byte)}
	dispatcher := rpcclient.New(transport, nil)
	c, err := New(dispatcher, []Gateway{{Host: "gw1", Service: "1"}}, nil)
	require.NoError(t, err)

	key := metadata.HashPage([]byte("never written"))
	var got []byte
	got = []byte("sentinel")
	c.Get(key, func(value []byte) { got = value })
	require.NoError(t, c.Wait(context.Background()))
	assert.Empty(t, got)
}

func TestRemoveDeletesKey(t *testing.T) {
	transport := &fakeGatewayTransport{store: make(map[metadata.PageKey][]byte)}
	dispatcher := rpcclient.New(transport, nil)
	c, err := New(dispatcher, []Gateway{{Host: "gw1", Service: "1"}}, nil)
	require.NoError(t, err)

	key := metadata.HashPage([]byte("to remove"))
	c.Put(key, []byte("to remove"), func(error) {})
	require.NoError(t, c.Wait(context.Background()))

	c.Remove(key, []byte("to remove"), func(error) {})
	require.NoError(t, c.Wait(context.Background()))

	var got []byte = []byte("sentinel")
	c.Get(key, func(value []byte) { got = value })
	require.NoError(t, c.Wait(context.Background()))
	assert.Empty(t, got, "a real delete, not the original's no-op stub")
}

func TestNewRequiresAtLeastOneGateway(t *testing.T) {
	dispatcher := rpcclient.New(nil, nil)
	_, err := New(dispatcher, nil, nil)
	assert.Error(t, err)
}

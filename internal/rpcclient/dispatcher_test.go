package rpcclient

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lizhe1240/blobseer/internal/rpcwire"
)

// pipeTransport dials an in-memory net.Pipe and immediately starts an echo
// server on the other end that replies OK with the same params it received,
// avoiding real sockets in tests per the teacher's own test-transport style.
type pipeTransport struct {
	respond func(header rpcwire.Header, params [][]byte) (rpcwire.Header, [][]byte)
}

func (t pipeTransport) Dial(_ context.Context, _, _ string) (net.Conn, error) {
	client, server := net.Pipe()
	go func() {
		defer server.Close()
		for {
			header, params, err := rpcwire.ReadMessage(server, nil)
			if err != nil {
				return
			}
			respHeader, result := t.respond(header, params)
			if err := rpcwire.WriteMessage(server, respHeader, result); err != nil {
				return
			}
		}
	}()
	return client, nil
}

func echoTransport() pipeTransport {
	return pipeTransport{respond: func(header rpcwire.Header, params [][]byte) (rpcwire.Header, [][]byte) {
		return rpcwire.Header{Name: header.Name, PSize: header.PSize, Status: rpcwire.StatusOK}, params
	}}
}

func TestDispatchAndRunInvokesCallback(t *testing.T) {
	d := New(echoTransport(), nil)

	var gotStatus int32
	var gotResult [][]byte
	d.Dispatch("host", "svc", rpcwire.ProviderRead, [][]byte{[]byte("key")}, func(status int32, result [][]byte) {
		gotStatus = status
		gotResult = result
	})

	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, rpcwire.StatusOK, gotStatus)
	require.Len(t, gotResult, 1)
	assert.Equal(t, []byte("key"), gotResult[0])
}

func TestRunIsReentrantFromCallback(t *testing.T) {
	d := New(echoTransport(), nil)

	var secondCallbackFired bool
	d.Dispatch("host", "svc", rpcwire.ProviderProbe, [][]byte{[]byte("a")}, func(status int32, _ [][]byte) {
		require.Equal(t, rpcwire.StatusOK, status)
		d.Dispatch("host", "svc", rpcwire.ProviderProbe, [][]byte{[]byte("b")}, func(status int32, _ [][]byte) {
			secondCallbackFired = true
		})
		require.NoError(t, d.Run(context.Background()))
	})

	require.NoError(t, d.Run(context.Background()))
	assert.True(t, secondCallbackFired, "Run should drain calls enqueued by a callback it is still driving")
}

func TestDialFailureYieldsConnFailedStatus(t *testing.T) {
	d := New(failingTransport{}, nil)

	var gotStatus int32
	d.Dispatch("host", "svc", rpcwire.ProviderRead, nil, func(status int32, _ [][]byte) {
		gotStatus = status
	})
	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, rpcwire.StatusConnFailed, gotStatus)
}

type failingTransport struct{}

func (failingTransport) Dial(context.Context, string, string) (net.Conn, error) {
	return nil, assert.AnError
}

func TestConnectionPoolReusesConnAcrossCalls(t *testing.T) {
	var dialCount int
	base := echoTransport()
	counting := countingTransport{inner: base, count: &dialCount}
	d := New(counting, nil)

	for i := 0; i < 3; i++ {
		d.Dispatch("host", "svc", rpcwire.ProviderRead, [][]byte{[]byte("k")}, func(int32, [][]byte) {})
		require.NoError(t, d.Run(context.Background()))
	}

	assert.Equal(t, 1, dialCount, "the pooled connection should be reused, not redialed, across sequential Run calls")
}

type countingTransport struct {
	inner Transport
	count *int
}

func (c countingTransport) Dial(ctx context.Context, host, service string) (net.Conn, error) {
	*c.count++
	return c.inner.Dial(ctx, host, service)
}

func TestTCPTransportDialsRealSocket(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		header, params, err := rpcwire.ReadMessage(conn, nil)
		if err != nil {
			return
		}
		_ = rpcwire.WriteMessage(conn, rpcwire.Header{Name: header.Name, PSize: header.PSize, Status: rpcwire.StatusOK}, params)
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	d := New(nil, nil)
	var gotStatus int32
	d.Dispatch(host, port, rpcwire.ProviderRead, [][]byte{[]byte("x")}, func(status int32, _ [][]byte) {
		gotStatus = status
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Run(ctx))
	assert.Equal(t, rpcwire.StatusOK, gotStatus)
}

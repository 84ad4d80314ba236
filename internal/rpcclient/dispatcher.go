// Package rpcclient implements the client side of the RPC dispatcher
// described in spec.md §4.1: dispatch queues a call against a
// (host, service) endpoint, and Run drives all queued calls to completion,
// invoking each callback exactly once. This is the Go counterpart of the
// original's rpc_client_t/rpcinfo_t pair: the same enqueue-then-run shape,
// translated from Boost.Asio callbacks plus a boost::variant visitor into
// goroutines fanned out with golang.org/x/sync/errgroup and plain function
// values for callbacks.
package rpcclient

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lizhe1240/blobseer/internal/pool"
	"github.com/lizhe1240/blobseer/internal/rpcwire"
)

// Error is the error class for the rpcclient package.
var Error = errs.Class("rpcclient")

// DefaultTimeout is the per-call deadline used when none is supplied,
// matching rpcinfo_t::RPC_TIMEOUT.
const DefaultTimeout = 10 * time.Second

// Callback is invoked exactly once per dispatched call with the RPC status
// and result parameters. result is nil when the call failed in transport
// (dial, write, read or timeout); a non-OK status sent by the server still
// carries whatever result parameters the server returned.
type Callback func(status int32, result [][]byte)

// Transport dials a connection to one RPC endpoint. The default transport
// dials TCP; tests inject an in-memory transport to avoid real sockets.
type Transport interface {
	Dial(ctx context.Context, host, service string) (net.Conn, error)
}

// TCPTransport dials plain TCP connections, service being a port number or
// service name per net.Dial's "host:service" addressing.
type TCPTransport struct {
	Dialer net.Dialer
}

// Dial implements Transport.
func (t TCPTransport) Dial(ctx context.Context, host, service string) (net.Conn, error) {
	return t.Dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, service))
}

type endpoint struct {
	host    string
	service string
}

type pendingCall struct {
	id            string
	ep            endpoint
	name          uint32
	params        [][]byte
	resultBuffers [][]byte
	callback      Callback
	timeout       time.Duration
}

// Dispatcher queues RPC calls and drives them to completion. It is not safe
// for concurrent calls to Dispatch/Run from multiple goroutines on the same
// Dispatcher, matching spec §5's "not safe for use by multiple concurrent
// threads" scheduling model for one handler instance; Run may however be
// re-entered from within a callback it is itself driving.
type Dispatcher struct {
	transport Transport
	log       *zap.Logger

	mu      sync.Mutex
	pending []pendingCall
	pools   map[endpoint]*pool.Pool[net.Conn]
}

// New builds a Dispatcher using transport for dialing. A nil transport
// defaults to plain TCP.
func New(transport Transport, log *zap.Logger) *Dispatcher {
	if transport == nil {
		transport = TCPTransport{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		transport: transport,
		log:       log,
		pools:     make(map[endpoint]*pool.Pool[net.Conn]),
	}
}

// Dispatch enqueues one RPC call. It does not perform I/O; call Run to
// drive queued calls to completion. resultBuffers, when non-nil, receives
// response payloads in place (the zero-copy destination path from spec
// §4.1): resultBuffers[i] is filled only when its length equals the length
// of the i-th response parameter; any other slot gets a fresh buffer.
func (d *Dispatcher) Dispatch(host, service string, name uint32, params [][]byte, cb Callback, resultBuffers ...[]byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var rb [][]byte
	if len(resultBuffers) > 0 {
		rb = resultBuffers
	}
	d.pending = append(d.pending, pendingCall{
		id:            uuid.NewString(),
		ep:            endpoint{host: host, service: service},
		name:          name,
		params:        params,
		resultBuffers: rb,
		callback:      cb,
		timeout:       DefaultTimeout,
	})
}

// Run drains the queue: every call enqueued via Dispatch (including calls
// enqueued by callbacks fired during this very Run) is executed, fanning
// calls to distinct endpoints out concurrently, before Run returns. Run
// blocks the caller synchronously, matching spec §4.1's progress model.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		d.mu.Lock()
		batch := d.pending
		d.pending = nil
		d.mu.Unlock()

		if len(batch) == 0 {
			return nil
		}

		results := make([]struct {
			status int32
			result [][]byte
		}, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		for i := range batch {
			i := i
			call := batch[i]
			g.Go(func() error {
				status, result := d.execute(gctx, call)
				results[i].status = status
				results[i].result = result
				return nil
			})
		}
		// Errors from individual calls surface as a status code to their
		// own callback, not as a Run-wide failure; every goroutine returns
		// nil, so g.Wait() does not fail here, even when ctx is cancelled.
		if err := g.Wait(); err != nil {
			return Error.Wrap(err)
		}

		for i := range batch {
			batch[i].callback(results[i].status, results[i].result)
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, call pendingCall) (int32, [][]byte) {
	p := d.poolFor(call.ep)

	conn, ok, err := p.Acquire()
	pooled := err == nil && ok && conn != nil
	if !pooled {
		dialed, derr := d.transport.Dial(ctx, call.ep.host, call.ep.service)
		if derr != nil {
			d.log.Debug("dial failed",
				zap.String("call_id", call.id),
				zap.String("host", call.ep.host),
				zap.String("service", call.ep.service),
				zap.Error(derr))
			return rpcwire.StatusConnFailed, nil
		}
		conn = dialed
	}

	deadline := time.Now().Add(call.timeout)
	_ = conn.SetDeadline(deadline)

	header := rpcwire.Header{Name: call.name, PSize: uint32(len(call.params)), Status: rpcwire.StatusOK}
	if err := rpcwire.WriteMessage(conn, header, call.params); err != nil {
		_ = conn.Close()
		// A pooled connection that failed mid-write is left marked busy
		// rather than released, so Acquire never hands out the broken
		// conn again; it keeps its pool slot, so it still counts against
		// capacity.
		return classifyErr(err), nil
	}

	respHeader, result, err := rpcwire.ReadMessage(conn, call.resultBuffers)
	if err != nil {
		_ = conn.Close()
		return classifyErr(err), nil
	}

	if pooled {
		_ = p.Release(conn)
	}
	return respHeader.Status, result
}

func (d *Dispatcher) poolFor(ep endpoint) *pool.Pool[net.Conn] {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pools[ep]
	if !ok {
		transport := d.transport
		gen := func() (net.Conn, error) {
			return transport.Dial(context.Background(), ep.host, ep.service)
		}
		p = pool.New[net.Conn](gen, pool.DefaultCapacity)
		d.pools[ep] = p
	}
	return p
}

func classifyErr(err error) int32 {
	if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		return rpcwire.StatusTimeout
	}
	return rpcwire.StatusConnFailed
}

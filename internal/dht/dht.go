// Package dht implements the client side of the content-indexed key
// presence layer (spec.md §4.3): a sharded batching client over a static
// pool of gateway endpoints, translated from the original's
// simple_dht<SocketType> template. sdbm(key) mod N picks a gateway;
// pending gets/puts accumulate per gateway and flush as one batched
// PROVIDER_READ/PROVIDER_WRITE RPC per round, looping until every queue
// drains.
package dht

import (
	"context"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/lizhe1240/blobseer/internal/metadata"
	"github.com/lizhe1240/blobseer/internal/rpcclient"
	"github.com/lizhe1240/blobseer/internal/rpcwire"
)

// Error is the error class for the dht package.
var Error = errs.Class("dht")

// Gateway is one DHT gateway endpoint.
type Gateway struct {
	Host    string
	Service string
}

type pendingGet struct {
	key metadata.PageKey
	cb  func(value []byte)
}

type pendingPut struct {
	key metadata.PageKey
	val []byte
	cb  func(err error)
}

type pendingRemove struct {
	key metadata.PageKey
	val []byte
	cb  func(err error)
}

type gatewayQueue struct {
	gw      Gateway
	gets    []pendingGet
	puts    []pendingPut
	removes []pendingRemove
}

// Client is the DHT gateway batching client, logically Map<PageKey,[]byte>
// sharded by sdbm(key) mod len(gateways).
type Client struct {
	dispatcher *rpcclient.Dispatcher
	log        *zap.Logger
	queues     []gatewayQueue
}

// New builds a Client fanning batched requests out over dispatcher to the
// given gateways. gateways must be non-empty.
func New(dispatcher *rpcclient.Dispatcher, gateways []Gateway, log *zap.Logger) (*Client, error) {
	if len(gateways) == 0 {
		return nil, Error.New("at least one DHT gateway is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	queues := make([]gatewayQueue, len(gateways))
	for i, gw := range gateways {
		queues[i] = gatewayQueue{gw: gw}
	}
	return &Client{dispatcher: dispatcher, log: log, queues: queues}, nil
}

// chooseGateway hashes key with sdbm, verbatim from simple_dht's
// choose_gateway, and picks the gateway index responsible for it.
func (c *Client) chooseGateway(key metadata.PageKey) int {
	var hash uint32
	for _, b := range key {
		hash = uint32(b) + (hash << 6) + (hash << 16) - hash
	}
	return int(hash) % len(c.queues)
}

// Get enqueues a presence lookup; cb fires during the next Wait() with the
// stored value, or an empty value if absent or if the lookup failed.
func (c *Client) Get(key metadata.PageKey, cb func(value []byte)) {
	i := c.chooseGateway(key)
	c.queues[i].gets = append(c.queues[i].gets, pendingGet{key: key, cb: cb})
}

// Put enqueues an unconditional write; re-putting the same key with the
// same content is idempotent because pages are content-addressed.
func (c *Client) Put(key metadata.PageKey, value []byte, cb func(err error)) {
	i := c.chooseGateway(key)
	c.queues[i].puts = append(c.queues[i].puts, pendingPut{key: key, val: value, cb: cb})
}

// Remove enqueues a delete. Unlike the original's stub (fires its callback
// with 0 and does nothing — spec.md §9's open question), this issues a real
// PROVIDER_REMOVE against the owning gateway.
func (c *Client) Remove(key metadata.PageKey, value []byte, cb func(err error)) {
	i := c.chooseGateway(key)
	c.queues[i].removes = append(c.queues[i].removes, pendingRemove{key: key, val: value, cb: cb})
}

// Wait repeatedly flushes every gateway's pending batch and drives the
// dispatcher until no gateway has pending work left, matching
// simple_dht::wait()'s round-based drain loop.
func (c *Client) Wait(ctx context.Context) error {
	for {
		anyPending := false

		for i := range c.queues {
			q := &c.queues[i]

			if len(q.gets) > 0 {
				anyPending = true
				c.flushGets(q)
			}
			if len(q.puts) > 0 {
				anyPending = true
				c.flushPuts(q)
			}
			if len(q.removes) > 0 {
				anyPending = true
				c.flushRemoves(q)
			}
		}

		if !anyPending {
			return nil
		}
		if err := c.dispatcher.Run(ctx); err != nil {
			return Error.Wrap(err)
		}
	}
}

func (c *Client) flushGets(q *gatewayQueue) {
	gets := q.gets
	q.gets = nil

	params := make([][]byte, len(gets))
	for i, g := range gets {
		params[i] = append([]byte(nil), g.key[:]...)
	}
	c.dispatcher.Dispatch(q.gw.Host, q.gw.Service, rpcwire.ProviderRead, params,
		func(status int32, result [][]byte) {
			for i, g := range gets {
				if status != rpcwire.StatusOK && status != rpcwire.StatusEObj {
					g.cb(nil)
					continue
				}
				if i >= len(result) {
					g.cb(nil)
					continue
				}
				g.cb(result[i])
			}
		})
}

func (c *Client) flushPuts(q *gatewayQueue) {
	puts := q.puts
	q.puts = nil

	params := make([][]byte, 0, len(puts)*2)
	for _, p := range puts {
		params = append(params, append([]byte(nil), p.key[:]...), p.val)
	}
	c.dispatcher.Dispatch(q.gw.Host, q.gw.Service, rpcwire.ProviderWrite, params,
		func(status int32, _ [][]byte) {
			var err error
			if status != rpcwire.StatusOK {
				err = Error.New("DHT put failed with status %d", status)
			}
			for _, p := range puts {
				p.cb(err)
			}
		})
}

func (c *Client) flushRemoves(q *gatewayQueue) {
	removes := q.removes
	q.removes = nil

	params := make([][]byte, len(removes))
	for i, r := range removes {
		params[i] = append([]byte(nil), r.key[:]...)
	}
	c.dispatcher.Dispatch(q.gw.Host, q.gw.Service, rpcwire.ProviderRemove, params,
		func(status int32, _ [][]byte) {
			var err error
			if status != rpcwire.StatusOK {
				err = Error.New("DHT remove failed with status %d", status)
			}
			for _, r := range removes {
				r.cb(err)
			}
		})
}

// Package blobwrite implements the write pipeline from spec.md §4.7:
// placement via the publisher, per-page MD5 hashing, an optional DHT-backed
// dedup probe, per-replica writes with same-provider retry, a page-quorum
// check, ticket acquisition, metadata commit, and publish. Grounded on
// object_handler.cpp's object_handler::write/write_dedup pair.
package blobwrite

import (
	"context"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/lizhe1240/blobseer/internal/dht"
	"github.com/lizhe1240/blobseer/internal/metadata"
	"github.com/lizhe1240/blobseer/internal/rpcclient"
	"github.com/lizhe1240/blobseer/internal/rpcwire"
)

// Error is the error class for the blobwrite package.
var Error = errs.Class("blobwrite")

// Endpoint is a (host, service) RPC target.
type Endpoint struct {
	Host    string
	Service string
}

// Deps is the set of collaborators Write needs from the owning handler.
type Deps struct {
	Dispatcher *rpcclient.Dispatcher
	Resolver   metadata.RangeResolver
	DHT        *dht.Client // nil disables the dedup probe entirely
	Dedup      bool
	RetryCount int
	Publisher  Endpoint
	VersionMgr Endpoint
	Log        *zap.Logger
}

// replicaStatus tracks one replica slot's write outcome across retries.
type replicaStatus struct {
	replica  metadata.ProviderDesc
	retries  int
	inFlight bool
	ok       bool
	done     bool // ok, or retry budget exhausted
}

type pageState struct {
	key       metadata.PageKey
	value     []byte
	satisfied bool // dedup: no RPC needed, page already counts as quorum-met
	replicas  []*replicaStatus
}

// Write implements spec §4.7 end to end, returning the newly published
// version or (0, err) on any pipeline-stage failure (mirroring the
// original's "return 0" convention, with an error attached for
// diagnosability). offset and size must already be multiples of
// root.PageSize; violating that is a precondition fault, not a returned
// error, per spec §7/§9.
func Write(ctx context.Context, d Deps, root metadata.Root, offset, size uint64, buf []byte, isAppend bool) (metadata.Version, error) {
	if root.PageSize == 0 {
		metadata.Panic("write", "uninitialized object: root has a zero page_size")
	}
	if offset%root.PageSize != 0 || size%root.PageSize != 0 {
		metadata.Panic("write", "offset %d and size %d must both be multiples of page_size %d", offset, size, root.PageSize)
	}
	if uint64(len(buf)) < size {
		metadata.Panic("write", "source buffer too small: need %d bytes, got %d", size, len(buf))
	}
	if size == 0 {
		return 0, nil
	}

	numPages := int(size / root.PageSize)
	replicaCount := int(root.ReplicaCount)
	retryCount := d.RetryCount
	if retryCount <= 0 {
		retryCount = 1
	}

	// 1. Placement.
	adv, err := placement(ctx, d, numPages, replicaCount)
	if err != nil {
		return 0, Error.Wrap(err)
	}

	// 2. Hashing + 3/4. dedup or direct fan-out.
	pages := make([]*pageState, numPages)
	firstOccurrence := make(map[metadata.PageKey]int, numPages)
	for i := 0; i < numPages; i++ {
		value := buf[i*int(root.PageSize) : (i+1)*int(root.PageSize)]
		key := metadata.HashPage(value)
		page := &pageState{key: key, value: value}
		pageReplicas := adv.Page(i, replicaCount)
		page.replicas = make([]*replicaStatus, len(pageReplicas))
		for j, r := range pageReplicas {
			page.replicas[j] = &replicaStatus{replica: r}
		}
		pages[i] = page

		if _, seen := firstOccurrence[key]; seen {
			// Local dedup: identical content within this write, no RPC.
			// The first occurrence still flows through dedupProbe/fanOutWrites
			// so the content actually gets stored once.
			page.satisfied = true
			continue
		}
		firstOccurrence[key] = i
	}

	if d.Dedup && d.DHT != nil {
		if err := dedupProbe(ctx, d, pages); err != nil {
			return 0, Error.Wrap(err)
		}
	}

	if err := fanOutWrites(ctx, d, pages, retryCount); err != nil {
		return 0, Error.Wrap(err)
	}

	// 6. Page quorum.
	pageKeys := make([]metadata.PageKey, numPages)
	for i, p := range pages {
		pageKeys[i] = p.key
		if !p.satisfied && !pageHasQuorum(p) {
			return 0, Error.New("page %d has zero successful replica writes", i)
		}
	}

	// 7. Ticket.
	q := metadata.Query{ObjectID: root.ObjectID, Version: root.Version, Offset: offset, Size: size}
	reply, err := getTicket(ctx, d, q, isAppend)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	interval, ok := reply.LastInterval()
	if !ok {
		return 0, Error.New("version manager returned no committed interval")
	}

	// 8. Metadata commit.
	if err := d.Resolver.WriteRecordLocations(ctx, reply, pageKeys, adv); err != nil {
		return 0, Error.Wrap(err)
	}

	// 9. Publish.
	if err := publish(ctx, d, interval.Range); err != nil {
		return 0, Error.Wrap(err)
	}

	return interval.Version, nil
}

func markAllDone(p *pageState) {
	for _, r := range p.replicas {
		r.done, r.ok = true, true
	}
}

func pageHasQuorum(p *pageState) bool {
	for _, r := range p.replicas {
		if r.ok {
			return true
		}
	}
	return false
}

// placement calls PUBLISHER_GET(numPages*replicaCount, replicaCount).
func placement(ctx context.Context, d Deps, numPages, replicaCount int) (metadata.ReplicaList, error) {
	var adv metadata.ReplicaList
	var rpcErr error

	d.Dispatcher.Dispatch(d.Publisher.Host, d.Publisher.Service, rpcwire.PublisherGet,
		[][]byte{
			rpcwire.EncodeUint64(uint64(numPages * replicaCount)),
			rpcwire.EncodeUint32(uint32(replicaCount)),
		},
		func(status int32, result [][]byte) {
			if status != rpcwire.StatusOK {
				rpcErr = Error.New("PUBLISHER_GET failed with status %d", status)
				return
			}
			if len(result)%2 != 0 {
				rpcErr = Error.New("PUBLISHER_GET returned an odd number of fields")
				return
			}
			adv = make(metadata.ReplicaList, 0, len(result)/2)
			for i := 0; i+1 < len(result); i += 2 {
				adv = append(adv, metadata.ProviderDesc{Host: string(result[i]), Service: string(result[i+1])})
			}
		})

	if err := d.Dispatcher.Run(ctx); err != nil {
		return nil, err
	}
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(adv) < numPages*replicaCount {
		return nil, Error.New("publisher returned %d endpoints, need %d", len(adv), numPages*replicaCount)
	}
	return adv, nil
}

// dedupProbe issues dht.Get for every page that isn't already locally
// satisfied, then marks pages whose probe returns non-empty as satisfied
// (spec §4.7 step 3: "duplicate suppressed").
func dedupProbe(ctx context.Context, d Deps, pages []*pageState) error {
	for _, p := range pages {
		if p.satisfied {
			continue
		}
		page := p
		d.DHT.Get(page.key, func(value []byte) {
			if len(value) > 0 {
				page.satisfied = true
				markAllDone(page)
				if d.Log != nil {
					d.Log.Info("duplicate suppressed",
						zap.ByteString("page_key", page.key[:]))
				}
			}
		})
	}
	return d.DHT.Wait(ctx)
}

// fanOutWrites issues PROVIDER_WRITE to every replica slot not already
// satisfied by dedup, retrying a failed slot against the same provider up
// to retryCount times (spec §4.7 step 5), looping dispatcher rounds until
// every slot is done or exhausted.
func fanOutWrites(ctx context.Context, d Deps, pages []*pageState, retryCount int) error {
	for {
		dispatchedAny := false
		for _, p := range pages {
			if p.satisfied {
				continue
			}
			for _, r := range p.replicas {
				if r.done || r.inFlight {
					continue
				}
				dispatchedAny = true
				dispatchWrite(d, p, r, retryCount)
			}
		}
		if !dispatchedAny {
			return nil
		}
		if err := d.Dispatcher.Run(ctx); err != nil {
			return err
		}
	}
}

func dispatchWrite(d Deps, p *pageState, r *replicaStatus, retryCount int) {
	r.inFlight = true
	replica := r
	params := [][]byte{append([]byte(nil), p.key[:]...), p.value}
	d.Dispatcher.Dispatch(r.replica.Host, r.replica.Service, rpcwire.ProviderWrite, params,
		func(status int32, _ [][]byte) {
			replica.inFlight = false
			if status == rpcwire.StatusOK {
				replica.ok = true
				replica.done = true
				return
			}
			replica.retries++
			if replica.retries >= retryCount {
				replica.done = true
			}
			// else: left not-done, not-in-flight; the next fan-out round
			// re-dispatches to the same provider (no replica switch).
		})
}

// getTicket calls VMGR_GETTICKET(query, append).
func getTicket(ctx context.Context, d Deps, q metadata.Query, isAppend bool) (metadata.VmgrReply, error) {
	var reply metadata.VmgrReply
	var rpcErr error

	params := [][]byte{
		rpcwire.EncodeUint32(uint32(q.ObjectID)),
		rpcwire.EncodeUint32(uint32(q.Version)),
		rpcwire.EncodeUint64(q.Offset),
		rpcwire.EncodeUint64(q.Size),
		rpcwire.EncodeBool(isAppend),
	}
	d.Dispatcher.Dispatch(d.VersionMgr.Host, d.VersionMgr.Service, rpcwire.VmgrGetTicket, params,
		func(status int32, result [][]byte) {
			if status != rpcwire.StatusOK || len(result) != 1 {
				rpcErr = Error.New("VMGR_GETTICKET failed with status %d", status)
				return
			}
			version, err := rpcwire.DecodeUint32(result[0])
			if err != nil {
				rpcErr = Error.Wrap(err)
				return
			}
			committed := q
			committed.Version = metadata.Version(version)
			reply = metadata.VmgrReply{Intervals: []metadata.VmgrInterval{{
				Range:   committed,
				Version: metadata.Version(version),
			}}}
		})

	if err := d.Dispatcher.Run(ctx); err != nil {
		return metadata.VmgrReply{}, err
	}
	return reply, rpcErr
}

// publish calls VMGR_PUBLISH(range).
func publish(ctx context.Context, d Deps, q metadata.Query) error {
	var rpcErr error
	params := [][]byte{
		rpcwire.EncodeUint32(uint32(q.ObjectID)),
		rpcwire.EncodeUint32(uint32(q.Version)),
		rpcwire.EncodeUint64(q.Offset),
		rpcwire.EncodeUint64(q.Size),
	}
	d.Dispatcher.Dispatch(d.VersionMgr.Host, d.VersionMgr.Service, rpcwire.VmgrPublish, params,
		func(status int32, _ [][]byte) {
			if status != rpcwire.StatusOK {
				rpcErr = Error.New("VMGR_PUBLISH failed with status %d", status)
			}
		})
	if err := d.Dispatcher.Run(ctx); err != nil {
		return err
	}
	return rpcErr
}

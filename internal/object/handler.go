// Package object implements the public coordinator API (spec.md §4.9): the
// single entry point an application links against to create, clone, read,
// write, and introspect BLOBs. Handler composes the RPC dispatcher, the DHT
// client, the metadata range resolver, and a version cache the way torua's
// coordinator.Coordinator composes a ShardRegistry and a HealthMonitor out
// of focused collaborators — here restructured around BLOB versioning
// instead of shard assignment.
//
// A Handler is not safe for concurrent use by multiple goroutines (spec
// §5: "single-threaded cooperative I/O multiplexing per ObjectHandler
// instance"). Callers that need concurrent access should own one Handler
// per goroutine, or serialize access externally.
package object

import (
	"context"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/lizhe1240/blobseer/internal/blobread"
	"github.com/lizhe1240/blobseer/internal/blobwrite"
	"github.com/lizhe1240/blobseer/internal/config"
	"github.com/lizhe1240/blobseer/internal/dht"
	"github.com/lizhe1240/blobseer/internal/metadata"
	"github.com/lizhe1240/blobseer/internal/rpcclient"
	"github.com/lizhe1240/blobseer/internal/rpcwire"
)

// Error is the error class for the object package. Transient RPC/protocol
// failures surface this way; precondition violations surface as a
// metadata.Fault panic instead, per spec §7/§9.
var Error = errs.Class("object")

// Handler is the coordinator for one BLOB object. The zero value is not
// usable; build one with New.
type Handler struct {
	dispatcher *rpcclient.Dispatcher
	resolver   metadata.RangeResolver
	dht        *dht.Client
	versions   *metadata.VersionCache
	log        *zap.Logger

	cfg config.Config

	objectID   metadata.ObjectId
	latestRoot metadata.Root
}

// New builds a Handler wired against resolver and, when cfg's DHT gateways
// are non-empty, a DHT client for dedup — mirroring the original's
// blob_init lifecycle call (spec §9 supplemented feature) rather than a
// package-level initializer.
func New(cfg config.Config, transport rpcclient.Transport, resolver metadata.RangeResolver, log *zap.Logger) (*Handler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dispatcher := rpcclient.New(transport, log)

	var dhtClient *dht.Client
	if len(cfg.DHT.Gateways) > 0 {
		gateways := make([]dht.Gateway, len(cfg.DHT.Gateways))
		for i, g := range cfg.DHT.Gateways {
			gateways[i] = dht.Gateway{Host: g, Service: cfg.DHT.Service}
		}
		var err error
		dhtClient, err = dht.New(dispatcher, gateways, log)
		if err != nil {
			return nil, Error.Wrap(err)
		}
	}

	versions, err := metadata.NewVersionCache(cfg.DHT.CacheSize)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	return &Handler{
		dispatcher: dispatcher,
		resolver:   resolver,
		dht:        dhtClient,
		versions:   versions,
		log:        log,
		cfg:        cfg,
	}, nil
}

// Close releases resources held by the handler (spec §9's blob_finalize
// supplemented feature). The dispatcher holds no non-GC resources beyond
// pooled connections. Close releases nothing and always returns nil: pooled
// connections are not closed and stay open until the process exits.
func (h *Handler) Close() error {
	return nil
}

// Create registers a new object with the version manager, capturing its
// assigned id and initial root.
func (h *Handler) Create(ctx context.Context, pageSize uint64, replicaCount uint32) (metadata.ObjectId, error) {
	var root metadata.Root
	var rpcErr error

	h.dispatcher.Dispatch(h.cfg.VersionMgr.Host, h.cfg.VersionMgr.Service, rpcwire.VmgrCreate,
		[][]byte{rpcwire.EncodeUint64(pageSize), rpcwire.EncodeUint32(replicaCount)},
		func(status int32, result [][]byte) {
			if status != rpcwire.StatusOK || len(result) != 2 {
				rpcErr = Error.New("VMGR_CREATE failed with status %d", status)
				return
			}
			objID, err := rpcwire.DecodeUint32(result[0])
			if err != nil {
				rpcErr = Error.Wrap(err)
				return
			}
			root = metadata.Root{ObjectID: metadata.ObjectId(objID), PageSize: pageSize, ReplicaCount: replicaCount}
		})

	if err := h.dispatcher.Run(ctx); err != nil {
		return 0, Error.Wrap(err)
	}
	if rpcErr != nil {
		return 0, rpcErr
	}

	h.objectID = root.ObjectID
	h.latestRoot = root
	return root.ObjectID, nil
}

// Clone asks the version manager to materialize a new object id rooted at
// (srcID, srcVersion). Fails if the source root is empty.
func (h *Handler) Clone(ctx context.Context, srcID metadata.ObjectId, srcVersion metadata.Version) (metadata.ObjectId, error) {
	srcRoot, err := h.GetRoot(ctx, srcID, srcVersion)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	if srcRoot.Empty() {
		return 0, Error.New("clone source (object %d, version %d) has an empty root", srcID, srcVersion)
	}

	var newID metadata.ObjectId
	var rpcErr error
	h.dispatcher.Dispatch(h.cfg.VersionMgr.Host, h.cfg.VersionMgr.Service, rpcwire.VmgrClone,
		[][]byte{rpcwire.EncodeUint32(uint32(srcID)), rpcwire.EncodeUint32(uint32(srcVersion))},
		func(status int32, result [][]byte) {
			if status != rpcwire.StatusOK || len(result) != 1 {
				rpcErr = Error.New("VMGR_CLONE failed with status %d", status)
				return
			}
			id, err := rpcwire.DecodeUint32(result[0])
			if err != nil {
				rpcErr = Error.Wrap(err)
				return
			}
			newID = metadata.ObjectId(id)
		})
	if err := h.dispatcher.Run(ctx); err != nil {
		return 0, Error.Wrap(err)
	}
	if rpcErr != nil {
		return 0, rpcErr
	}

	h.objectID = newID
	h.latestRoot = srcRoot
	h.latestRoot.ObjectID = newID
	return newID, nil
}

// GetRoot fetches the root for (id, version), checking the version cache
// first. version == 0 always goes to the version manager (it has no
// meaning to cache — "latest" is a moving target).
func (h *Handler) GetRoot(ctx context.Context, id metadata.ObjectId, version metadata.Version) (metadata.Root, error) {
	if version != 0 {
		if cached, ok := h.versions.Read(version); ok {
			return cached, nil
		}
	}

	var root metadata.Root
	var rpcErr error
	h.dispatcher.Dispatch(h.cfg.VersionMgr.Host, h.cfg.VersionMgr.Service, rpcwire.VmgrGetRoot,
		[][]byte{rpcwire.EncodeUint32(uint32(id)), rpcwire.EncodeUint32(uint32(version))},
		func(status int32, result [][]byte) {
			if status != rpcwire.StatusOK || len(result) != 4 {
				rpcErr = Error.New("VMGR_GETROOT failed with status %d", status)
				return
			}
			totalSize, err := rpcwire.DecodeUint64(result[0])
			if err != nil {
				rpcErr = Error.Wrap(err)
				return
			}
			pageSize, err := rpcwire.DecodeUint64(result[1])
			if err != nil {
				rpcErr = Error.Wrap(err)
				return
			}
			replicaCount, err := rpcwire.DecodeUint32(result[2])
			if err != nil {
				rpcErr = Error.Wrap(err)
				return
			}
			gotVersion, err := rpcwire.DecodeUint32(result[3])
			if err != nil {
				rpcErr = Error.Wrap(err)
				return
			}
			root = metadata.Root{
				ObjectID:     id,
				Version:      metadata.Version(gotVersion),
				TotalSize:    totalSize,
				PageSize:     pageSize,
				ReplicaCount: replicaCount,
			}
		})
	if err := h.dispatcher.Run(ctx); err != nil {
		return metadata.Root{}, Error.Wrap(err)
	}
	if rpcErr != nil {
		return metadata.Root{}, rpcErr
	}

	h.versions.Write(root.Version, root)
	return root, nil
}

// GetLatest fetches the latest root for id into the handler's in-process
// latest_root field, matching spec §4.9's get_latest contract.
func (h *Handler) GetLatest(ctx context.Context, id metadata.ObjectId) (metadata.Root, error) {
	root, err := h.GetRoot(ctx, id, 0)
	if err != nil {
		return metadata.Root{}, err
	}
	h.objectID = id
	h.latestRoot = root
	return root, nil
}

// GetSize returns root.total_size for version (0 means "latest").
func (h *Handler) GetSize(ctx context.Context, version metadata.Version) (uint64, error) {
	root, err := h.rootFor(ctx, version)
	if err != nil {
		return 0, err
	}
	return root.TotalSize, nil
}

// Read fills buf with bytes [offset, offset+len(buf)) of the given version
// (0 means "latest"), per spec §4.6.
func (h *Handler) Read(ctx context.Context, offset uint64, buf []byte, version metadata.Version) error {
	root, err := h.rootFor(ctx, version)
	if err != nil {
		return err
	}
	return blobread.Read(ctx, blobread.Deps{
		Dispatcher: h.dispatcher,
		Resolver:   h.resolver,
		RetryCount: h.cfg.Provider.Retry,
		Log:        h.log,
	}, root, offset, uint64(len(buf)), buf)
}

// Write implements spec §4.7's write, returning the new version.
func (h *Handler) Write(ctx context.Context, offset uint64, buf []byte) (metadata.Version, error) {
	return h.writeOrAppend(ctx, offset, buf, false)
}

// Append implements spec §4.7's append semantics: offset is always 0 on
// the wire and the ticket's append flag is set; the version manager picks
// the real offset.
func (h *Handler) Append(ctx context.Context, buf []byte) (metadata.Version, error) {
	return h.writeOrAppend(ctx, 0, buf, true)
}

func (h *Handler) writeOrAppend(ctx context.Context, offset uint64, buf []byte, isAppend bool) (metadata.Version, error) {
	root := h.latestRoot
	if root.Empty() {
		metadata.Panic("write", "uninitialized object: call Create or GetLatest first")
	}

	version, err := blobwrite.Write(ctx, blobwrite.Deps{
		Dispatcher: h.dispatcher,
		Resolver:   h.resolver,
		DHT:        h.dht,
		Dedup:      h.cfg.Provider.Deduplication,
		RetryCount: h.cfg.Provider.Retry,
		Publisher:  blobwrite.Endpoint{Host: h.cfg.Publisher.Host, Service: h.cfg.Publisher.Service},
		VersionMgr: blobwrite.Endpoint{Host: h.cfg.VersionMgr.Host, Service: h.cfg.VersionMgr.Service},
		Log:        h.log,
	}, root, offset, uint64(len(buf)), buf, isAppend)
	if err != nil {
		return 0, err
	}

	if version > 0 {
		newRoot := root
		newRoot.Version = version
		newRoot.TotalSize = offset + uint64(len(buf))
		if isAppend {
			newRoot.TotalSize = root.TotalSize + uint64(len(buf))
		}
		h.latestRoot = newRoot
		h.versions.Write(version, newRoot)
	}
	return version, nil
}

// GetLocations resolves a range and returns a flat sequence of
// (ProviderDesc, page_offset, page_size) tuples enumerating every replica
// of every page covering the range, per spec §4.9.
type Location struct {
	Provider   metadata.ProviderDesc
	PageOffset uint64
	PageSize   uint64
}

// GetLocations implements the §4.9 get_locations contract.
func (h *Handler) GetLocations(ctx context.Context, offset, size uint64, version metadata.Version) ([]Location, error) {
	root, err := h.rootFor(ctx, version)
	if err != nil {
		return nil, err
	}
	if root.PageSize == 0 {
		metadata.Panic("get_locations", "uninitialized object: root has a zero page_size")
	}
	if offset+size > root.TotalSize {
		metadata.Panic("get_locations", "offset %d + size %d exceeds total_size %d", offset, size, root.TotalSize)
	}

	pageSize := root.PageSize
	alignedOffset := (offset / pageSize) * pageSize
	end := offset + size
	nPages := (end - alignedOffset + pageSize - 1) / pageSize

	selectors := make([]*metadata.ReplicaSelector, nPages)
	for i := range selectors {
		selectors[i] = &metadata.ReplicaSelector{}
	}
	q := metadata.Query{ObjectID: root.ObjectID, Version: root.Version, Offset: offset, Size: size}
	if err := h.resolver.ReadRecordLocations(ctx, selectors, nil, q, root, ^uint32(0)); err != nil {
		return nil, Error.Wrap(err)
	}

	var locations []Location
	for i, sel := range selectors {
		pageOffset := alignedOffset + uint64(i)*pageSize
		for {
			replica := sel.TryNext()
			if replica.Empty() {
				break
			}
			locations = append(locations, Location{Provider: replica, PageOffset: pageOffset, PageSize: pageSize})
		}
	}
	return locations, nil
}

// GetObjCount asks the version manager for the total number of objects.
func (h *Handler) GetObjCount(ctx context.Context) (int32, error) {
	var count int32
	var rpcErr error
	h.dispatcher.Dispatch(h.cfg.VersionMgr.Host, h.cfg.VersionMgr.Service, rpcwire.VmgrGetObjNo, nil,
		func(status int32, result [][]byte) {
			if status != rpcwire.StatusOK || len(result) != 1 {
				rpcErr = Error.New("VMGR_GETOBJNO failed with status %d", status)
				return
			}
			v, err := rpcwire.DecodeUint32(result[0])
			if err != nil {
				rpcErr = Error.Wrap(err)
				return
			}
			count = int32(v)
		})
	if err := h.dispatcher.Run(ctx); err != nil {
		return 0, Error.Wrap(err)
	}
	return count, rpcErr
}

func (h *Handler) rootFor(ctx context.Context, version metadata.Version) (metadata.Root, error) {
	if version == 0 {
		if h.latestRoot.Empty() {
			metadata.Panic("read", "uninitialized object: no latest root known, call GetLatest first")
		}
		return h.latestRoot, nil
	}
	return h.GetRoot(ctx, h.objectID, version)
}

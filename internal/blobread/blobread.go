// Package blobread implements the read pipeline from spec.md §4.6: resolve
// a byte range to per-page replica locations, classify each page as a left
// partial, a right partial, or a full page, fan the resulting RPCs out
// through the dispatcher, and rotate replicas on failure up to a fixed
// retry budget. Grounded on object_handler.cpp's object_handler::read and
// its left_part/right_part alignment arithmetic.
package blobread

import (
	"context"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/lizhe1240/blobseer/internal/metadata"
	"github.com/lizhe1240/blobseer/internal/rpcclient"
	"github.com/lizhe1240/blobseer/internal/rpcwire"
)

// Error is the error class for the blobread package.
var Error = errs.Class("blobread")

// Deps is the set of collaborators Read needs from the owning handler.
type Deps struct {
	Dispatcher *rpcclient.Dispatcher
	Resolver   metadata.RangeResolver
	RetryCount int
	Log        *zap.Logger
}

type pageKind int

const (
	kindFull pageKind = iota
	kindLeftPartial
	kindRightPartial
)

// pageTask tracks one covered page across retry rounds. inFlight is true
// while an RPC for this page is queued or running; done once a replica has
// supplied bytes; failed once the retry budget is exhausted.
type pageTask struct {
	kind     pageKind
	selector *metadata.ReplicaSelector
	skip     uint64
	size     uint64
	dest     []byte
	retries  int
	inFlight bool
	done     bool
	failed   bool
}

// Read fills buf (length size) with bytes [offset, offset+size) of the
// object version named by root, per spec §4.6 steps 2-7. Callers resolve
// root themselves (via the version cache or a fresh VMGR_GETROOT) and pass
// it in along with the originating query, since root resolution is shared
// with write/get_locations and does not belong to this package alone.
func Read(ctx context.Context, d Deps, root metadata.Root, offset, size uint64, buf []byte) error {
	if size == 0 {
		return nil
	}
	if root.PageSize == 0 {
		metadata.Panic("read", "uninitialized object: root has a zero page_size")
	}
	if offset+size > root.TotalSize {
		metadata.Panic("read", "offset %d + size %d exceeds total_size %d", offset, size, root.TotalSize)
	}
	if uint64(len(buf)) < size {
		metadata.Panic("read", "destination buffer too small: need %d bytes, got %d", size, len(buf))
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
	if err := d.Resolver.ReadRecordLocations(ctx, selectors, nil, q, root, ^uint32(0)); err != nil {
		return Error.Wrap(err)
	}

	tasks := classifyPages(pageSize, alignedOffset, offset, end, nPages, selectors, buf)

	retryCount := d.RetryCount
	if retryCount <= 0 {
		retryCount = 1
	}

	for {
		dispatched := dispatchRound(d, tasks, retryCount)
		if !dispatched {
			break
		}
		if err := d.Dispatcher.Run(ctx); err != nil {
			return Error.Wrap(err)
		}
	}

	for i, t := range tasks {
		if !t.done {
			return Error.New("page %d failed after exhausting retry budget", i)
		}
	}
	return nil
}

// classifyPages assigns each covered page its left-partial / right-partial /
// full treatment per spec §4.6 step 5, including the single-page edge cases
// from §4.6's "Edge cases" paragraph.
func classifyPages(pageSize, alignedOffset, offset, end, nPages uint64, selectors []*metadata.ReplicaSelector, buf []byte) []*pageTask {
	tasks := make([]*pageTask, nPages)

	if nPages == 1 {
		skip := offset - alignedOffset
		if skip != 0 {
			tasks[0] = &pageTask{kind: kindLeftPartial, selector: selectors[0], skip: skip, size: end - offset, dest: buf}
		} else if end-offset == pageSize {
			tasks[0] = &pageTask{kind: kindFull, selector: selectors[0], skip: 0, size: pageSize, dest: buf[0:pageSize]}
		} else {
			tasks[0] = &pageTask{kind: kindRightPartial, selector: selectors[0], skip: 0, size: end - offset, dest: buf}
		}
		return tasks
	}

	leftSkip := offset - alignedOffset
	lastPageStart := alignedOffset + (nPages-1)*pageSize
	rightLen := end - lastPageStart

	startFull := uint64(0)
	if leftSkip != 0 {
		leftLen := pageSize - leftSkip
		tasks[0] = &pageTask{kind: kindLeftPartial, selector: selectors[0], skip: leftSkip, size: leftLen, dest: buf[0:leftLen]}
		startFull = 1
	}

	endFull := nPages
	if rightLen != pageSize {
		dest := buf[uint64(len(buf))-rightLen:]
		tasks[nPages-1] = &pageTask{kind: kindRightPartial, selector: selectors[nPages-1], skip: 0, size: rightLen, dest: dest}
		endFull = nPages - 1
	}

	for i := startFull; i < endFull; i++ {
		pageStart := alignedOffset + i*pageSize
		bufStart := pageStart - offset
		tasks[i] = &pageTask{kind: kindFull, selector: selectors[i], skip: 0, size: pageSize, dest: buf[bufStart : bufStart+pageSize]}
	}
	return tasks
}

// dispatchRound enqueues one RPC for every task that is neither done,
// failed, nor already in flight, rotating to the next replica per spec
// §4.6 step 6. It reports whether anything was dispatched this round.
func dispatchRound(d Deps, tasks []*pageTask, retryCount int) bool {
	dispatchedAny := false
	for _, t := range tasks {
		if t.done || t.failed || t.inFlight {
			continue
		}

		replica := t.selector.TryNext()
		if replica.Empty() {
			t.selector.TryAgain()
			t.retries++
			if t.retries >= retryCount {
				t.failed = true
				continue
			}
			replica = t.selector.TryNext()
			if replica.Empty() {
				t.failed = true
				continue
			}
		}

		task := t
		task.inFlight = true
		dispatchedAny = true

		onResult := func(status int32, result [][]byte) {
			task.inFlight = false
			if status != rpcwire.StatusOK || len(result) != 1 {
				return
			}
			copy(task.dest, result[0])
			task.done = true
		}

		key := task.selector.PageKey()
		switch task.kind {
		case kindFull:
			d.Dispatcher.Dispatch(replica.Host, replica.Service, rpcwire.ProviderRead,
				[][]byte{append([]byte(nil), key[:]...)}, onResult, task.dest)
		case kindLeftPartial, kindRightPartial:
			params := [][]byte{
				append([]byte(nil), key[:]...),
				rpcwire.EncodeUint64(task.skip),
				rpcwire.EncodeUint64(task.size),
			}
			d.Dispatcher.Dispatch(replica.Host, replica.Service, rpcwire.ProviderReadPartial, params, onResult)
		}
	}
	return dispatchedAny
}

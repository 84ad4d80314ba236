// Package provider implements the server side of one page provider: the
// pluggable page store plus the RPC-facing page manager that serves
// PROVIDER_READ / PROVIDER_WRITE / PROVIDER_PROBE / PROVIDER_READ_PARTIAL
// (and the Remove extension resolving spec.md's DHT-remove open question)
// against it, and notifies registered listeners of every successful op.
//
// This is the Go translation of page_manager.hpp's page_manager<Persistency>
// template: PageStore plays the role of the Persistency type parameter, and
// Manager plays the role of page_manager itself.
package provider

import (
	"sync"

	"github.com/zeebo/errs"

	"github.com/lizhe1240/blobseer/internal/metadata"
	"github.com/lizhe1240/blobseer/internal/rpcwire"
)

// Error is the error class for the provider package.
var Error = errs.Class("provider")

// PageStore is the pluggable persistence backend a Manager serves RPCs
// against. Implementations must be safe for concurrent use.
type PageStore interface {
	// Read returns the page bytes for key, or ok=false if absent.
	Read(key metadata.PageKey) (value []byte, ok bool)
	// Write stores value under key, returning false only on a genuine
	// storage failure (not "already exists": overwrite is allowed).
	Write(key metadata.PageKey, value []byte) bool
	// Remove deletes key, if present. Idempotent.
	Remove(key metadata.PageKey)
	// GetFree reports free capacity remaining, in bytes, for monitoring
	// and for the free_space field carried on update events.
	GetFree() uint64
}

// UpdateEvent is delivered to listeners after each successful store
// mutation or read, carrying the same fields as the original's
// monitored_params_t tuple (free space, page id, value, sender).
type UpdateEvent struct {
	RPCName    uint32
	Key        metadata.PageKey
	Value      []byte
	Sender     string
	FreeSpace  uint64
}

// Manager serves the provider RPC surface against a PageStore.
//
// Manager itself holds no data: every read/write goes straight to the
// backing PageStore, so Manager's only mutable state is its listener list,
// guarded by a single mutex per spec §5 ("server-side listener list is one
// of the only multi-writer structures in the core").
type Manager struct {
	store     PageStore
	mu        sync.Mutex
	listeners []func(UpdateEvent)
}

// NewManager builds a Manager serving RPCs against store.
func NewManager(store PageStore) *Manager {
	return &Manager{store: store}
}

// AddListener registers hook to be invoked synchronously after each
// successful page operation.
func (m *Manager) AddListener(hook func(UpdateEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, hook)
}

func (m *Manager) notify(rpcName uint32, key metadata.PageKey, value []byte, sender string) {
	m.mu.Lock()
	hooks := make([]func(UpdateEvent), len(m.listeners))
	copy(hooks, m.listeners)
	m.mu.Unlock()

	ev := UpdateEvent{
		RPCName:   rpcName,
		Key:       key,
		Value:     value,
		Sender:    sender,
		FreeSpace: m.store.GetFree(),
	}
	for _, hook := range hooks {
		hook(ev)
	}
}

// WritePage serves PROVIDER_WRITE: params are alternating (key, value)
// pairs, at least one pair, and an even count.
func (m *Manager) WritePage(params [][]byte, sender string) ([][]byte, int32) {
	if len(params) < 2 || len(params)%2 != 0 {
		return nil, rpcwire.StatusEArg
	}
	for i := 0; i < len(params); i += 2 {
		key, err := decodeKey(params[i])
		if err != nil {
			return nil, rpcwire.StatusEArg
		}
		if !m.store.Write(key, params[i+1]) {
			return nil, rpcwire.StatusERes
		}
		m.notify(rpcwire.ProviderWrite, key, params[i+1], sender)
	}
	return nil, rpcwire.StatusOK
}

// ReadPage serves PROVIDER_READ: N keys in, N results out (empty slot for
// a missing key). Status is ok iff every key was present.
func (m *Manager) ReadPage(params [][]byte, sender string) ([][]byte, int32) {
	if len(params) < 1 {
		return nil, rpcwire.StatusEArg
	}
	result := make([][]byte, len(params))
	ok := 0
	for i, raw := range params {
		key, err := decodeKey(raw)
		if err != nil {
			return nil, rpcwire.StatusEArg
		}
		value, present := m.store.Read(key)
		if !present {
			continue
		}
		result[i] = value
		ok++
		m.notify(rpcwire.ProviderRead, key, value, sender)
	}
	if ok == len(params) {
		return result, rpcwire.StatusOK
	}
	return result, rpcwire.StatusEObj
}

// ProbePage serves PROVIDER_PROBE: presence check with the same shape as
// ReadPage.
func (m *Manager) ProbePage(params [][]byte, sender string) ([][]byte, int32) {
	if len(params) < 1 {
		return nil, rpcwire.StatusEArg
	}
	result := make([][]byte, len(params))
	ok := 0
	for i, raw := range params {
		key, err := decodeKey(raw)
		if err != nil {
			return nil, rpcwire.StatusEArg
		}
		value, present := m.store.Read(key)
		if !present {
			continue
		}
		result[i] = value
		ok++
		m.notify(rpcwire.ProviderProbe, key, value, sender)
	}
	if ok == len(params) {
		return result, rpcwire.StatusOK
	}
	return result, rpcwire.StatusEObj
}

// ReadPartialPage serves PROVIDER_READ_PARTIAL(key, offset, size) -> one
// byte slice.
func (m *Manager) ReadPartialPage(params [][]byte, sender string) ([][]byte, int32) {
	if len(params) != 3 {
		return nil, rpcwire.StatusEArg
	}
	key, err := decodeKey(params[0])
	if err != nil {
		return nil, rpcwire.StatusEArg
	}
	offset, err := rpcwire.DecodeUint64(params[1])
	if err != nil {
		return nil, rpcwire.StatusEArg
	}
	size, err := rpcwire.DecodeUint64(params[2])
	if err != nil {
		return nil, rpcwire.StatusEArg
	}

	data, present := m.store.Read(key)
	if !present {
		return nil, rpcwire.StatusEObj
	}
	if offset+size > uint64(len(data)) {
		return nil, rpcwire.StatusEObj
	}

	view := data[offset : offset+size]
	m.notify(rpcwire.ProviderRead, key, view, sender)
	return [][]byte{view}, rpcwire.StatusOK
}

// RemovePage serves the PROVIDER_REMOVE extension (spec.md §9 open
// question: DHT remove resolved here as a working delete rather than the
// original's stub).
func (m *Manager) RemovePage(params [][]byte, sender string) ([][]byte, int32) {
	if len(params) < 1 {
		return nil, rpcwire.StatusEArg
	}
	for _, raw := range params {
		key, err := decodeKey(raw)
		if err != nil {
			return nil, rpcwire.StatusEArg
		}
		m.store.Remove(key)
		m.notify(rpcwire.ProviderRemove, key, nil, sender)
	}
	return nil, rpcwire.StatusOK
}

func decodeKey(raw []byte) (metadata.PageKey, error) {
	var key metadata.PageKey
	if len(raw) != metadata.HashSize {
		return key, Error.New("page key must be %d bytes, got %d", metadata.HashSize, len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

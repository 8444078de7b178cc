// Package svc implements the per-service transaction coordinator of §4.2:
// read/write-set computation, parallel wait-die lock acquisition across
// local and remote cells, and the DoAction/DoRedefine client operations of
// §6. TestRequestPred is answered by the cells themselves, resolved through
// Registry.ResolveTestable.
package svc

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/reactorlang/runtime/internal/reactive"
	"github.com/reactorlang/runtime/internal/reactive/eval"
	"github.com/reactorlang/runtime/internal/reactive/message"
)

// SrcRef is the subset of *src.Cell's API the coordinator depends on. Both a
// local Src cell and a *remote.Proxy satisfy it, so DoAction never branches
// on whether a cell is local or remote (§9 "Remote cells").
type SrcRef interface {
	Addr() reactive.Address
	RequestLock(ctx context.Context, txn reactive.TxnID, mode message.LockMode) (granted bool, reason message.AbortReason, err error)
	Read(ctx context.Context, txn reactive.TxnID) (value eval.Expr, iteration reactive.Iteration, err error)
	Write(ctx context.Context, txn reactive.TxnID, value eval.Expr) error
	Discard(ctx context.Context, txn reactive.TxnID) error
	ReleaseLock(ctx context.Context, txn reactive.TxnID) error
}

// DrvRef is the subset of *drv.Cell's API the coordinator needs to read a
// derived cell's current value inline, without taking a lock: Drv cells are
// never part of the 2PL read/write set (§4.3 — they are recomputed, not
// written to).
type DrvRef interface {
	Addr() reactive.Address
	TestPred(ctx context.Context, testID uuid.UUID) (message.TestRequestPredGranted, error)
}

// Registry resolves the cell names a parsed ActionDecl references to the
// live SrcRef/DrvRef actors of one service, including names imported from
// another service.
type Registry struct {
	mu sync.RWMutex

	service string
	src     map[string]SrcRef
	drv     map[string]DrvRef
	imports map[string]reactive.Address

	// remoteSrc holds the remote.Proxy wired up for each import address, once
	// connected. An import whose proxy hasn't been registered yet resolves
	// its address but fails lookup until it is.
	remoteSrc map[reactive.Address]SrcRef
}

// NewRegistry builds an empty registry for service, with aliasToAddr as the
// `import ident` table from the service's declaration.
func NewRegistry(service string, aliasToAddr map[string]reactive.Address) *Registry {
	return &Registry{
		service:   service,
		src:       make(map[string]SrcRef),
		drv:       make(map[string]DrvRef),
		imports:   aliasToAddr,
		remoteSrc: make(map[reactive.Address]SrcRef),
	}
}

// RegisterSrc adds a local Src cell under its declared name.
func (r *Registry) RegisterSrc(name string, ref SrcRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.src[name] = ref
}

// RegisterDrv adds a local Drv cell under its declared name.
func (r *Registry) RegisterDrv(name string, ref DrvRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drv[name] = ref
}

// RegisterRemote binds addr (one of r.imports' targets) to a connected
// remote.Proxy, once the service's amqp router has established it.
func (r *Registry) RegisterRemote(addr reactive.Address, ref SrcRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remoteSrc[addr] = ref
}

// ResolveSrc resolves name to a SrcRef: a locally declared `var`, or an
// imported alias whose remote proxy is connected.
func (r *Registry) ResolveSrc(name string) (SrcRef, reactive.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if ref, ok := r.src[name]; ok {
		return ref, ref.Addr(), nil
	}
	if addr, ok := r.imports[name]; ok {
		if ref, ok := r.remoteSrc[addr]; ok {
			return ref, addr, nil
		}
		return nil, reactive.Address{}, fmt.Errorf("svc: import %q (%s) not yet connected", name, addr)
	}
	return nil, reactive.Address{}, fmt.Errorf("svc: %w: %q", ErrUnknownCell, name)
}

// ResolveDrv resolves name to a locally declared `def`. Derived cells are
// never importable by name for direct read in this version — a remote
// service's derived values are only visible through its own client protocol
// (§9 Non-goal: no cross-service Drv subscriptions beyond what Imports
// wires for Drv-to-Drv expressions, which bypasses the registry entirely
// via remote.Wire's proxy subscriptions).
func (r *Registry) ResolveDrv(name string) (DrvRef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.drv[name]
	return ref, ok
}

// Names returns the declared Src and Drv cell names of this service, sorted
// by the caller if it cares; used by the HTTP status endpoint
// (internal/handler/http), which the status dashboard (cmd/status.go) polls.
func (r *Registry) Names() (src []string, drv []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name := range r.src {
		src = append(src, name)
	}
	for name := range r.drv {
		drv = append(drv, name)
	}
	return src, drv
}

// ErrUnknownCell is returned by Resolve* when name isn't declared or
// imported anywhere in the service — a fatal, pre-lock error per §7 item 3.
var ErrUnknownCell = fmt.Errorf("unknown cell")

// Testable is satisfied by both *src.Cell and *drv.Cell: a lockless current
// value read, used by Assert (§6) which never takes part in 2PL.
type Testable interface {
	Addr() reactive.Address
	TestPred(ctx context.Context, testID uuid.UUID) (message.TestRequestPredGranted, error)
}

// ResolveTestable resolves name to whichever local cell kind can answer
// Assert: a declared Src cell or a declared Drv cell. An imported remote
// cell is not resolvable here — Assert is a same-service, dev-facing
// operation (§6 "two channels, dev-facing and client-facing").
func (r *Registry) ResolveTestable(name string) (Testable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if ref, ok := r.src[name]; ok {
		if t, ok := ref.(Testable); ok {
			return t, true
		}
	}
	if ref, ok := r.drv[name]; ok {
		if t, ok := ref.(Testable); ok {
			return t, true
		}
	}
	return nil, false
}

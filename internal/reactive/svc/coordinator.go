package svc

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/reactorlang/runtime/internal/program"
	"github.com/reactorlang/runtime/internal/reactive"
	"github.com/reactorlang/runtime/internal/reactive/eval"
	"github.com/reactorlang/runtime/internal/reactive/message"
)

// defaultMaxRetries bounds a transaction's wait-die retries before it is
// reported to the client as a hard Conflict abort (§9 "Starvation bound").
// Each retry draws a fresh TxnID, so a transaction that dies young on one
// attempt is not doomed to die young forever.
const defaultMaxRetries = 8

// defaultOverloadThreshold is the per-cell lock-wait queue depth at which
// the coordinator stops joining the queue and instead fails fast with
// Overloaded (§9 "Overload shedding") rather than adding to an already
// saturated cell.
const defaultOverloadThreshold = 128

// backoffBase is the starting delay of the exponential backoff between
// retries; it doubles per attempt with no cap, so the waits between the
// defaultMaxRetries attempts run from 2ms up to 128ms.
const backoffBase = 2 * time.Millisecond

// Coordinator is one service's transaction coordinator: it implements
// DoAction and DoRedefine (§4.2) against a Registry of local and remote
// cells. TestRequestPred (§4.3) is answered by the cells themselves, reached
// through Registry.ResolveTestable.
type Coordinator struct {
	service           string
	registry          *Registry
	evaluator         eval.Evaluator
	logger            *slog.Logger
	seq               atomic.Uint64
	maxRetries        int
	overloadThreshold int
}

// New builds a Coordinator for service, serving requests against registry.
func New(service string, registry *Registry, evaluator eval.Evaluator, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		service:           service,
		registry:          registry,
		evaluator:         evaluator,
		logger:            logger,
		maxRetries:        defaultMaxRetries,
		overloadThreshold: defaultOverloadThreshold,
	}
}

func (c *Coordinator) nextTxnID() reactive.TxnID {
	return reactive.TxnID{Service: c.service, Seq: c.seq.Add(1)}
}

// Service returns the name of the service this coordinator answers for,
// used by the HTTP transport to validate DoAction's service_name parameter
// (§6 client protocol).
func (c *Coordinator) Service() string { return c.service }

// Registry exposes the coordinator's registry to the Assert/status
// transports, which need to resolve cell names without going through
// DoAction's transactional machinery.
func (c *Coordinator) Registry() *Registry { return c.registry }

// Result is the outcome of DoAction/DoRedefine: Committed on commit; Aborted
// with a Reason on an abort, where EvalError and UnknownCell aborts also
// carry the cause in Err; on a transport/context failure only Err is set and
// neither Committed nor Aborted is true.
type Result struct {
	Txn       reactive.TxnID
	Committed bool
	Aborted   bool
	Reason    message.AbortReason
	Err       error
}

type target struct {
	name string
	addr reactive.Address
	ref  SrcRef
	mode message.LockMode
}

// queueLenProbe is satisfied by local Src cells (and may be satisfied by a
// remote.Proxy forwarding the figure); the coordinator only sheds load on
// cells that expose it, so a remote cell with no cheap queue-depth signal
// simply always joins the queue.
type queueLenProbe interface{ QueueLen() int }

// DoAction resolves action's read/write set, then retries under wait-die
// until it commits, exhausts its retry budget, or hits a fatal error.
func (c *Coordinator) DoAction(ctx context.Context, action program.ActionDecl) Result {
	writeTargets, readTargets, err := c.resolveSets(action)
	if err != nil {
		return Result{Reason: message.UnknownCell, Aborted: true, Err: err}
	}
	targets := append(append([]target{}, writeTargets...), readTargets...)
	sort.Slice(targets, func(i, j int) bool { return targets[i].addr.String() < targets[j].addr.String() })

	var last Result
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		txn := c.nextTxnID()
		last = c.attempt(ctx, txn, action, targets)
		if last.Err != nil {
			return last
		}
		if last.Committed {
			return last
		}
		if last.Reason != message.Conflict {
			return last // EvalError, Overloaded: retrying won't help
		}
		if attempt == c.maxRetries-1 {
			break
		}
		if !c.backoff(ctx, attempt) {
			return Result{Txn: txn, Err: ctx.Err()}
		}
	}
	return last
}

func (c *Coordinator) backoff(ctx context.Context, attempt int) bool {
	delay := backoffBase << uint(attempt)
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// resolveSets computes the write set (assignment targets) and read set (free
// variables of every RHS, minus the write set) and resolves every name to an
// address up front — an unresolvable name is a fatal pre-lock error (§7
// item 3), never a per-attempt one.
func (c *Coordinator) resolveSets(action program.ActionDecl) (write, read []target, err error) {
	writeNames := make(map[string]struct{}, len(action.Writes))
	for _, a := range action.Writes {
		writeNames[a.Cell] = struct{}{}
	}

	for name := range writeNames {
		ref, addr, rerr := c.registry.ResolveSrc(name)
		if rerr != nil {
			return nil, nil, rerr
		}
		write = append(write, target{name: name, addr: addr, ref: ref, mode: message.Write})
	}

	readNames := make(map[string]struct{})
	for _, a := range action.Writes {
		for _, fv := range a.RHS.FreeVars() {
			if _, isWrite := writeNames[fv]; !isWrite {
				readNames[fv] = struct{}{}
			}
		}
	}

	for name := range readNames {
		if ref, addr, rerr := c.registry.ResolveSrc(name); rerr == nil {
			read = append(read, target{name: name, addr: addr, ref: ref, mode: message.Read})
			continue
		}
		if _, ok := c.registry.ResolveDrv(name); ok {
			// Drv cells are read inline during Executing, not locked; they
			// carry no target here.
			continue
		}
		return nil, nil, fmt.Errorf("svc: %w: %q", ErrUnknownCell, name)
	}

	return write, read, nil
}

type lockOutcome struct {
	target  target
	granted bool
	reason  message.AbortReason
	err     error
}

// attempt runs one full Locking -> Executing -> Releasing pass for txn.
func (c *Coordinator) attempt(ctx context.Context, txn reactive.TxnID, action program.ActionDecl, targets []target) Result {
	tx := newTransaction(txn)
	tx.state = stateLocking

	outcomes := c.acquireAll(ctx, txn, targets)

	var denyReason message.AbortReason
	denied := false
	var txErr error
	for i, o := range outcomes {
		if o.err != nil {
			txErr = multierr.Append(txErr, o.err)
			continue
		}
		if !o.granted {
			denied = true
			denyReason = o.reason
			continue
		}
		tx.noteLocked(targets[i].addr, targets[i].ref)
	}

	if txErr != nil {
		c.releaseAll(ctx, tx)
		return Result{Txn: txn, Err: txErr}
	}
	if denied {
		c.releaseAll(ctx, tx)
		return Result{Txn: txn, Aborted: true, Reason: denyReason}
	}

	tx.state = stateExecuting
	env, derr := c.buildEnv(ctx, txn, action)
	if derr != nil {
		c.discardAndRelease(ctx, tx)
		return Result{Txn: txn, Aborted: true, Reason: message.EvalError, Err: derr}
	}

	for _, a := range action.Writes {
		value, everr := c.evaluator.Eval(a.RHS, env)
		if everr != nil {
			c.discardAndRelease(ctx, tx)
			return Result{Txn: txn, Aborted: true, Reason: message.EvalError, Err: everr}
		}
		ref, _, rerr := c.registry.ResolveSrc(a.Cell)
		if rerr != nil {
			c.discardAndRelease(ctx, tx)
			return Result{Txn: txn, Aborted: true, Reason: message.UnknownCell, Err: rerr}
		}
		if werr := ref.Write(ctx, txn, value); werr != nil {
			c.discardAndRelease(ctx, tx)
			return Result{Txn: txn, Err: werr}
		}
		tx.noteWritten(ref.Addr())
		env[a.Cell] = value // later assignments in the same action may read an earlier one
	}

	tx.state = stateReleasing
	c.releaseAll(ctx, tx)
	tx.state = stateCommitted
	return Result{Txn: txn, Committed: true}
}

// acquireAll fans out RequestLock to every target concurrently: wait-die's
// correctness does not depend on a global acquisition order, only on each
// cell's own table comparing ages correctly, so every target can be tried
// at once (golang.org/x/sync/errgroup).
func (c *Coordinator) acquireAll(ctx context.Context, txn reactive.TxnID, targets []target) []lockOutcome {
	outcomes := make([]lockOutcome, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, tg := range targets {
		i, tg := i, tg
		g.Go(func() error {
			if probe, ok := tg.ref.(queueLenProbe); ok && probe.QueueLen() >= c.overloadThreshold {
				outcomes[i] = lockOutcome{target: tg, reason: message.Overloaded}
				return nil
			}
			granted, reason, err := tg.ref.RequestLock(gctx, txn, tg.mode)
			outcomes[i] = lockOutcome{target: tg, granted: granted, reason: reason, err: err}
			return nil
		})
	}
	_ = g.Wait() // goroutines above never return a non-nil error themselves
	return outcomes
}

func (c *Coordinator) releaseAll(ctx context.Context, tx *transaction) {
	for _, a := range tx.locked {
		if err := a.ref.ReleaseLock(ctx, tx.id); err != nil {
			c.logger.Error("SVC_RELEASE_FAILED", "cell", a.addr.String(), "txn", tx.id.String(), "err", err)
		}
	}
}

func (c *Coordinator) discardAndRelease(ctx context.Context, tx *transaction) {
	for _, addr := range tx.written {
		for _, a := range tx.locked {
			if a.addr == addr {
				if err := a.ref.Discard(ctx, tx.id); err != nil {
					c.logger.Error("SVC_DISCARD_FAILED", "cell", addr.String(), "txn", tx.id.String(), "err", err)
				}
			}
		}
	}
	tx.state = stateAborted
	c.releaseAll(ctx, tx)
}

// DrvUpgradeRef is the subset of *drv.Cell's API DoRedefine needs: the
// Upgrade-lock pair plus the expression swap itself.
type DrvUpgradeRef interface {
	DrvRef
	RequestLock(ctx context.Context, txn reactive.TxnID, mode message.LockMode) (bool, message.AbortReason, error)
	ReleaseLock(ctx context.Context, txn reactive.TxnID) error
	Redefine(ctx context.Context, txn reactive.TxnID, expr eval.Expr, inputAddrs map[string]reactive.Address) error
}

// DoRedefine implements the Upgrade-lock code-change operation of §6: swap
// name's expression for newExpr, resolving its free variables with resolve.
// Retries under the same wait-die discipline as DoAction.
func (c *Coordinator) DoRedefine(ctx context.Context, name string, newExpr eval.Expr, resolve func(string) (reactive.Address, bool)) Result {
	ref, ok := c.registry.ResolveDrv(name)
	if !ok {
		return Result{Reason: message.UnknownCell, Aborted: true, Err: fmt.Errorf("svc: %w: %q", ErrUnknownCell, name)}
	}
	upgradable, ok := ref.(DrvUpgradeRef)
	if !ok {
		return Result{Reason: message.UnknownCell, Aborted: true, Err: fmt.Errorf("svc: %q does not support redefinition", name)}
	}

	inputAddrs := make(map[string]reactive.Address)
	for _, fv := range newExpr.FreeVars() {
		addr, ok := resolve(fv)
		if !ok {
			return Result{Reason: message.UnknownCell, Aborted: true, Err: fmt.Errorf("svc: %w: %q", ErrUnknownCell, fv)}
		}
		inputAddrs[fv] = addr
	}

	var last Result
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		txn := c.nextTxnID()
		granted, reason, err := upgradable.RequestLock(ctx, txn, message.Upgrade)
		if err != nil {
			return Result{Txn: txn, Err: err}
		}
		if !granted {
			last = Result{Txn: txn, Aborted: true, Reason: reason}
			if reason != message.Conflict || attempt == c.maxRetries-1 {
				return last
			}
			if !c.backoff(ctx, attempt) {
				return Result{Txn: txn, Err: ctx.Err()}
			}
			continue
		}

		if err := upgradable.Redefine(ctx, txn, newExpr, inputAddrs); err != nil {
			_ = upgradable.ReleaseLock(ctx, txn)
			return Result{Txn: txn, Err: err}
		}
		if err := upgradable.ReleaseLock(ctx, txn); err != nil {
			return Result{Txn: txn, Err: err}
		}
		return Result{Txn: txn, Committed: true}
	}
	return last
}

// buildEnv reads every Src cell in the action's read set under txn's locks
// and peeks every Drv cell in it without a lock, building the evaluation
// environment for the action's assignment sequence.
func (c *Coordinator) buildEnv(ctx context.Context, txn reactive.TxnID, action program.ActionDecl) (eval.Env, error) {
	env := make(eval.Env)
	writeNames := make(map[string]struct{}, len(action.Writes))
	for _, a := range action.Writes {
		writeNames[a.Cell] = struct{}{}
	}

	seen := make(map[string]struct{})
	for _, a := range action.Writes {
		for _, fv := range a.RHS.FreeVars() {
			if _, ok := seen[fv]; ok {
				continue
			}
			seen[fv] = struct{}{}
			if _, isWrite := writeNames[fv]; isWrite {
				continue // resolved from env as the action assigns it
			}
			if ref, _, err := c.registry.ResolveSrc(fv); err == nil {
				value, _, rerr := ref.Read(ctx, txn)
				if rerr != nil {
					return nil, rerr
				}
				env[fv] = value
				continue
			}
			if ref, ok := c.registry.ResolveDrv(fv); ok {
				granted, rerr := ref.TestPred(ctx, uuid.Nil)
				if rerr != nil {
					return nil, rerr
				}
				env[fv] = granted.Value
				continue
			}
			return nil, fmt.Errorf("svc: %w: %q", ErrUnknownCell, fv)
		}
	}
	return env, nil
}

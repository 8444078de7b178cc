// Package drv implements the glitch-free merge engine of §4.3 — the
// hardest part of the system. A Drv cell subscribes to its named inputs,
// buffers arriving stamped values, and emits a new output only when a
// consistent (pairwise-compatible) batch covering every input is available
// and strictly advances its current basis.
package drv

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/reactorlang/runtime/internal/reactive"
	"github.com/reactorlang/runtime/internal/reactive/basis"
	"github.com/reactorlang/runtime/internal/reactive/eval"
	"github.com/reactorlang/runtime/internal/reactive/lock"
	"github.com/reactorlang/runtime/internal/reactive/message"
	"github.com/reactorlang/runtime/internal/reactive/pubsub"
)

// defaultInputBufferCap bounds each input's pending buffer (§9 "Buffer
// growth"). It is generous enough that a handful of concurrently in-flight
// transactions never overflow it in normal operation; Overloaded aborts are
// a coordinator-level concern (§9), not this cell's.
const defaultInputBufferCap = 64

// Cell is a Drv cell actor.
type Cell struct {
	addr       reactive.Address
	expr       eval.Expr
	evaluator  eval.Evaluator
	glitchFree bool
	router     *pubsub.Router
	logger     *slog.Logger

	// inputNames is the fixed deterministic iteration order required by
	// try_advance step 2; inputAddrs maps each name to the address it was
	// wired to, and addrToName is the reverse lookup used when a PropChange
	// arrives.
	inputNames []string
	inputAddrs map[string]reactive.Address
	addrToName map[reactive.Address]string

	incoming chan message.PropChange
	control  chan any
	doneCh   chan struct{}

	buffers       map[string]*buffer
	currentInputs map[string]stamped
	currentBasis  basis.Stamp
	currentValue  eval.Expr

	// table guards DoRedefine (§6): a code-change operation takes the
	// Upgrade lock, which conflicts with every other mode, so no concurrent
	// try_advance result is published mid-swap. Ordinary PropChange
	// processing never consults table — only onControl does.
	table           *lock.Table
	redefineWaiting map[reactive.TxnID]chan lockResult
}

// Option configures a Drv Cell at construction.
type Option func(*Cell)

// WithGlitchFree marks the cell per the @glitchfree annotation in §6.
func WithGlitchFree(on bool) Option {
	return func(c *Cell) { c.glitchFree = on }
}

// New constructs a Drv cell for expr, subscribing to inputAddrs (a mapping
// from the free-variable name in expr to the address it resolves to) and
// starts its actor loop.
func New(addr reactive.Address, expr eval.Expr, evaluator eval.Evaluator, inputAddrs map[string]reactive.Address, logger *slog.Logger, opts ...Option) *Cell {
	names := make([]string, 0, len(inputAddrs))
	addrToName := make(map[reactive.Address]string, len(inputAddrs))
	buffers := make(map[string]*buffer, len(inputAddrs))
	for name, a := range inputAddrs {
		names = append(names, name)
		addrToName[a] = name
		buffers[name] = newBuffer(defaultInputBufferCap)
	}
	sort.Strings(names) // fixed deterministic order, §4.3 step 2

	c := &Cell{
		addr:          addr,
		expr:          expr,
		evaluator:     evaluator,
		router:        pubsub.NewRouter(logger),
		logger:        logger,
		inputNames:    names,
		inputAddrs:    inputAddrs,
		addrToName:    addrToName,
		incoming:      make(chan message.PropChange, 256),
		control:       make(chan any, 16),
		doneCh:        make(chan struct{}),
		buffers:       buffers,
		currentInputs: make(map[string]stamped),
		currentBasis:  basis.Empty(),
		table:           lock.NewTable(),
		redefineWaiting: make(map[reactive.TxnID]chan lockResult),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.loop()
	return c
}

func (c *Cell) Addr() reactive.Address { return c.addr }

// Inbox returns the channel this cell's inputs should be subscribed against
// — program.Load wires each input address's Subscribe call to this channel.
func (c *Cell) Inbox() chan<- message.PropChange { return c.incoming }

func (c *Cell) Subscribe(subscriber reactive.Address, sink chan<- message.PropChange) {
	c.router.Subscribe(subscriber, sink)
}

func (c *Cell) Unsubscribe(subscriber reactive.Address) {
	c.router.Unsubscribe(subscriber)
}

func (c *Cell) Stop() { close(c.doneCh) }

type testPredReq struct {
	testID uuid.UUID
	reply  chan message.TestRequestPredGranted
}

type lockResult struct {
	granted bool
	reason  message.AbortReason
}

type lockReq struct {
	txn   reactive.TxnID
	mode  message.LockMode
	reply chan lockResult
}

type releaseReq struct {
	txn   reactive.TxnID
	reply chan struct{}
}

// redefineReq replaces the cell's expression and input wiring; the caller
// must hold the Upgrade lock for txn before sending this (§6 DoRedefine).
type redefineReq struct {
	txn        reactive.TxnID
	expr       eval.Expr
	inputAddrs map[string]reactive.Address
	reply      chan struct{}
}

// RequestLock implements the Upgrade-lock half of DoRedefine: a code-change
// operation takes this lock before swapping the cell's expression, exactly
// like a Src cell's Write lock guards a value swap.
func (c *Cell) RequestLock(ctx context.Context, txn reactive.TxnID, mode message.LockMode) (bool, message.AbortReason, error) {
	reply := make(chan lockResult, 1)
	select {
	case c.control <- lockReq{txn: txn, mode: mode, reply: reply}:
	case <-ctx.Done():
		return false, message.Conflict, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.granted, res.reason, nil
	case <-ctx.Done():
		return false, message.Conflict, ctx.Err()
	}
}

func (c *Cell) ReleaseLock(ctx context.Context, txn reactive.TxnID) error {
	reply := make(chan struct{}, 1)
	select {
	case c.control <- releaseReq{txn: txn, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Redefine swaps the cell's expression and input wiring while txn holds the
// Upgrade lock. Existing subscriptions to stale input addresses are left for
// the caller to Unsubscribe; Redefine only rewires this cell's own view.
func (c *Cell) Redefine(ctx context.Context, txn reactive.TxnID, expr eval.Expr, inputAddrs map[string]reactive.Address) error {
	reply := make(chan struct{}, 1)
	select {
	case c.control <- redefineReq{txn: txn, expr: expr, inputAddrs: inputAddrs, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TestPred implements TestRequestPred/TestRequestPredGranted for a Drv
// cell: the current value and basis, read without a lock (§4.3).
func (c *Cell) TestPred(ctx context.Context, testID uuid.UUID) (message.TestRequestPredGranted, error) {
	reply := make(chan message.TestRequestPredGranted, 1)
	select {
	case c.control <- testPredReq{testID: testID, reply: reply}:
	case <-ctx.Done():
		return message.TestRequestPredGranted{}, ctx.Err()
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return message.TestRequestPredGranted{}, ctx.Err()
	}
}

func (c *Cell) loop() {
	for {
		select {
		case <-c.doneCh:
			return
		case pc := <-c.incoming:
			c.onPropChange(pc)
		case m := <-c.control:
			c.onControl(m)
		}
	}
}

func (c *Cell) onControl(m any) {
	switch req := m.(type) {
	case testPredReq:
		req.reply <- message.TestRequestPredGranted{
			TestID: req.testID,
			Cell:   c.addr,
			Value:  c.currentValue,
			Basis:  c.currentBasis,
		}
	case lockReq:
		switch c.table.Request(req.txn, req.mode) {
		case lock.Granted:
			req.reply <- lockResult{granted: true}
		case lock.Denied:
			req.reply <- lockResult{granted: false, reason: message.Conflict}
		case lock.Queued:
			c.redefineWaiting[req.txn] = req.reply
		}
	case releaseReq:
		_, granted := c.table.Release(req.txn)
		for _, txn := range granted {
			if reply, ok := c.redefineWaiting[txn]; ok {
				delete(c.redefineWaiting, txn)
				reply <- lockResult{granted: true}
			}
		}
		req.reply <- struct{}{}
	case redefineReq:
		c.applyRedefine(req)
		req.reply <- struct{}{}
	}
}

// applyRedefine replaces expr, input wiring and buffers. Prior buffered
// values and currentInputs referred to the old input set and no longer
// apply, so tryAdvance/advanceGlitchy start over against the new inputs.
func (c *Cell) applyRedefine(req redefineReq) {
	names := make([]string, 0, len(req.inputAddrs))
	addrToName := make(map[reactive.Address]string, len(req.inputAddrs))
	buffers := make(map[string]*buffer, len(req.inputAddrs))
	for name, a := range req.inputAddrs {
		names = append(names, name)
		addrToName[a] = name
		buffers[name] = newBuffer(defaultInputBufferCap)
	}
	sort.Strings(names)

	c.expr = req.expr
	c.inputNames = names
	c.inputAddrs = req.inputAddrs
	c.addrToName = addrToName
	c.buffers = buffers
	c.currentInputs = make(map[string]stamped)
}

func (c *Cell) onPropChange(pc message.PropChange) {
	name, ok := c.addrToName[pc.From]
	if !ok {
		return // not one of our declared inputs; ignore
	}

	s := c.buffers[name].push(pc.Value, pc.Basis, pc.Preds)

	if !c.glitchFree {
		c.advanceGlitchy(name, s)
		return
	}

	// §4.3 step 5: "repeat from step 2 — more updates may now be jointly
	// satisfiable", so keep trying until a round makes no progress.
	for c.tryAdvance() {
	}
}

// tryAdvance runs one pass of the try_advance search (§4.3 steps 2-4) and
// reports whether it committed and published a new output.
func (c *Cell) tryAdvance() bool {
	candidates := make(map[string]stamped, len(c.inputNames))
	running := basis.Empty()

	for _, name := range c.inputNames {
		cand, ok := c.candidateFor(name, running)
		if !ok {
			return false // no admissible assignment this round
		}
		candidates[name] = cand
		running = basis.Merge(running, cand.basis)
	}

	if !basis.StrictlyAdvances(c.currentBasis, running) {
		return false
	}

	c.commit(candidates, running)
	return true
}

// candidateFor picks the input i's candidate per §4.3 step 2: the most
// recent buffered entry compatible with the running merged basis, falling
// back to the last-applied value, else reporting no candidate.
func (c *Cell) candidateFor(name string, running basis.Stamp) (stamped, bool) {
	if s, ok := c.buffers[name].mostRecentCompatible(running); ok {
		return s, true
	}
	if s, ok := c.currentInputs[name]; ok && s.basis.Compatible(running) {
		return s, true
	}
	return stamped{}, false
}

func (c *Cell) commit(candidates map[string]stamped, merged basis.Stamp) {
	env := make(eval.Env, len(candidates))
	var preds []reactive.TxnID
	for name, s := range candidates {
		env[name] = s.value
		preds = append(preds, s.preds...)
		if prev, ok := c.currentInputs[name]; !ok || prev.seq != s.seq {
			c.buffers[name].dropThrough(s)
		}
	}

	value, err := c.evaluator.Eval(c.expr, env)
	if err != nil {
		c.logger.Error("DRV_EVAL_FAILED", "cell", c.addr.String(), "err", err)
		return
	}

	c.currentInputs = candidates
	c.currentBasis = merged
	c.currentValue = value

	c.logger.Debug("DRV_COMMIT", "cell", c.addr.String(), "basis", merged)

	c.router.Publish(message.PropChange{
		From:  c.addr,
		Value: value,
		Basis: merged,
		Preds: preds,
	})
}

// advanceGlitchy implements the non-glitch-free path (§4.3 "Non-glitch-free
// mode" and the §9 Open Question resolution documented in SPEC_FULL.md):
// adopt the arriving value for this one input unconditionally, recompute
// using current_inputs for every other input, and publish even when that
// mixes generations.
func (c *Cell) advanceGlitchy(name string, s stamped) {
	c.currentInputs[name] = s
	c.buffers[name].dropThrough(s)

	if len(c.currentInputs) < len(c.inputNames) {
		return // not all inputs have arrived at least once yet
	}

	env := make(eval.Env, len(c.currentInputs))
	merged := basis.Empty()
	var preds []reactive.TxnID
	for _, n := range c.inputNames {
		in := c.currentInputs[n]
		env[n] = in.value
		merged = basis.Merge(merged, in.basis)
		preds = append(preds, in.preds...)
	}

	value, err := c.evaluator.Eval(c.expr, env)
	if err != nil {
		c.logger.Error("DRV_EVAL_FAILED", "cell", c.addr.String(), "err", err)
		return
	}

	c.currentBasis = merged
	c.currentValue = value

	c.router.Publish(message.PropChange{
		From:  c.addr,
		Value: value,
		Basis: merged,
		Preds: preds,
	})
}

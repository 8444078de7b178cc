// Package src implements the Src cell actor of §4.1: a single mutable value
// with a generation counter, a wait-die lock table, and a pub/sub router for
// PropChange notifications. Each Cell owns one goroutine processing its
// mailbox one message at a time — no other goroutine ever touches a Cell's
// state directly, matching the ownership rule in §3/§5.
package src

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/reactorlang/runtime/internal/reactive"
	"github.com/reactorlang/runtime/internal/reactive/basis"
	"github.com/reactorlang/runtime/internal/reactive/eval"
	"github.com/reactorlang/runtime/internal/reactive/lock"
	"github.com/reactorlang/runtime/internal/reactive/message"
	"github.com/reactorlang/runtime/internal/reactive/pubsub"
)

// Cell is a Src cell actor.
type Cell struct {
	addr   reactive.Address
	router *pubsub.Router
	logger *slog.Logger

	mailbox chan any
	doneCh  chan struct{}

	// State below is owned exclusively by the loop goroutine.
	value     eval.Expr
	iteration reactive.Iteration
	table     *lock.Table
	staged    map[reactive.TxnID]eval.Expr
	waiting   map[reactive.TxnID]chan lockResult
}

// New creates a Src cell with the given initial value and starts its actor
// loop. mailboxSize bounds the cell's inbox, matching the bounded-mailbox
// backpressure model of §5.
func New(addr reactive.Address, initial eval.Expr, logger *slog.Logger, mailboxSize int) *Cell {
	c := &Cell{
		addr:    addr,
		router:  pubsub.NewRouter(logger),
		logger:  logger,
		mailbox: make(chan any, mailboxSize),
		doneCh:  make(chan struct{}),
		value:   initial,
		table:   lock.NewTable(),
		staged:  make(map[reactive.TxnID]eval.Expr),
		waiting: make(map[reactive.TxnID]chan lockResult),
	}
	go c.loop()
	return c
}

func (c *Cell) Addr() reactive.Address { return c.addr }

// Subscribe registers sink as a recipient of this cell's PropChange stream.
func (c *Cell) Subscribe(subscriber reactive.Address, sink chan<- message.PropChange) {
	c.router.Subscribe(subscriber, sink)
}

func (c *Cell) Unsubscribe(subscriber reactive.Address) {
	c.router.Unsubscribe(subscriber)
}

// Stop terminates the actor loop. Cells otherwise live for the process
// lifetime per §3 "Lifecycle"; Stop exists for test teardown.
func (c *Cell) Stop() { close(c.doneCh) }

type lockResult struct {
	granted bool
	reason  message.AbortReason
}

type lockReq struct {
	txn   reactive.TxnID
	mode  message.LockMode
	reply chan lockResult
}

type readReq struct {
	txn   reactive.TxnID
	reply chan readResult
}
type readResult struct {
	value     eval.Expr
	iteration reactive.Iteration
}

type writeReq struct {
	txn   reactive.TxnID
	value eval.Expr
	reply chan struct{}
}

type releaseReq struct {
	txn   reactive.TxnID
	reply chan struct{}
}

type discardReq struct {
	txn   reactive.TxnID
	reply chan struct{}
}

type testPredReq struct {
	testID uuid.UUID
	reply  chan message.TestRequestPredGranted
}

// RequestLock implements the LockRequest/LockGranted/LockDenied contract.
func (c *Cell) RequestLock(ctx context.Context, txn reactive.TxnID, mode message.LockMode) (bool, message.AbortReason, error) {
	reply := make(chan lockResult, 1)
	select {
	case c.mailbox <- lockReq{txn: txn, mode: mode, reply: reply}:
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

// Read implements ReadRequest/ReadFinish.
func (c *Cell) Read(ctx context.Context, txn reactive.TxnID) (eval.Expr, reactive.Iteration, error) {
	reply := make(chan readResult, 1)
	select {
	case c.mailbox <- readReq{txn: txn, reply: reply}:
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.value, res.iteration, nil
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
}

// Write implements WriteRequest/WriteFinish: stages new_expr; it is not
// published until the Write lock is released.
func (c *Cell) Write(ctx context.Context, txn reactive.TxnID, value eval.Expr) error {
	reply := make(chan struct{}, 1)
	select {
	case c.mailbox <- writeReq{txn: txn, value: value, reply: reply}:
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

// Discard drops a staged write without committing it, so a subsequent
// ReleaseLock is a plain unlock. Used when a transaction aborts mid-action
// after some of its assignments already staged values (§4.2 "Executing"):
// the whole action must apply atomically or not at all.
func (c *Cell) Discard(ctx context.Context, txn reactive.TxnID) error {
	reply := make(chan struct{}, 1)
	select {
	case c.mailbox <- discardReq{txn: txn, reply: reply}:
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

// ReleaseLock implements LockRelease. Releasing a Write lock commits the
// staged value, advances the iteration and publishes a PropChange.
func (c *Cell) ReleaseLock(ctx context.Context, txn reactive.TxnID) error {
	reply := make(chan struct{}, 1)
	select {
	case c.mailbox <- releaseReq{txn: txn, reply: reply}:
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

// TestPred implements TestRequestPred/TestRequestPredGranted: reads the
// current value and basis without taking a lock.
func (c *Cell) TestPred(ctx context.Context, testID uuid.UUID) (message.TestRequestPredGranted, error) {
	reply := make(chan message.TestRequestPredGranted, 1)
	select {
	case c.mailbox <- testPredReq{testID: testID, reply: reply}:
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
		case m := <-c.mailbox:
			c.handle(m)
		}
	}
}

func (c *Cell) handle(m any) {
	switch req := m.(type) {
	case lockReq:
		c.handleLock(req)
	case readReq:
		req.reply <- readResult{value: c.value, iteration: c.iteration}
	case writeReq:
		// §4.1: evaluating new_expr against the current value is the only
		// "read" of self permitted mid-transaction. The reference
		// evaluator here is a pass-through; a real evaluator would reduce
		// new_expr against c.value as its environment.
		c.staged[req.txn] = req.value
		req.reply <- struct{}{}
	case releaseReq:
		c.handleRelease(req)
	case discardReq:
		delete(c.staged, req.txn)
		req.reply <- struct{}{}
	case testPredReq:
		req.reply <- message.TestRequestPredGranted{
			TestID: req.testID,
			Cell:   c.addr,
			Value:  c.value,
			Basis:  basis.Singleton(c.addr, c.iteration),
		}
	case queueLenReq:
		req.reply <- c.table.QueueLen()
	}
}

func (c *Cell) handleLock(req lockReq) {
	switch c.table.Request(req.txn, req.mode) {
	case lock.Granted:
		req.reply <- lockResult{granted: true}
	case lock.Denied:
		req.reply <- lockResult{granted: false, reason: message.Conflict}
	case lock.Queued:
		c.waiting[req.txn] = req.reply
	}
}

func (c *Cell) handleRelease(req releaseReq) {
	releasedWrite, granted := c.table.Release(req.txn)
	if releasedWrite {
		c.commit(req.txn)
	}
	delete(c.staged, req.txn)

	for _, txn := range granted {
		if reply, ok := c.waiting[txn]; ok {
			delete(c.waiting, txn)
			reply <- lockResult{granted: true}
		}
	}
	req.reply <- struct{}{}
}

func (c *Cell) commit(txn reactive.TxnID) {
	newVal, ok := c.staged[txn]
	if !ok {
		return
	}
	c.value = newVal
	c.iteration++

	c.logger.Debug("SRC_COMMIT", "cell", c.addr.String(), "iteration", c.iteration, "txn", txn.String())

	c.router.Publish(message.PropChange{
		From:  c.addr,
		Value: c.value,
		Basis: basis.Singleton(c.addr, c.iteration),
		Preds: []reactive.TxnID{txn},
	})
}

// QueueLen reports the current lock-wait queue depth, used by the Svc
// overload-shedding diagnostic from §9.
func (c *Cell) QueueLen() int {
	reply := make(chan int, 1)
	c.mailbox <- queueLenReq{reply: reply}
	return <-reply
}

type queueLenReq struct{ reply chan int }

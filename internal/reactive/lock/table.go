// Package lock implements the wait-die lock table described in §4.1: one
// Table per Src cell, guarding Read/Write/Upgrade access under strict
// two-phase locking. A Table never blocks a caller — every decision is
// computed synchronously so the owning Src actor can make it without
// suspending mid-handler (§5).
package lock

import (
	"github.com/reactorlang/runtime/internal/reactive"
	"github.com/reactorlang/runtime/internal/reactive/message"
)

// Decision is the immediate outcome of a lock Request.
type Decision int

const (
	// Granted: the caller holds the lock now.
	Granted Decision = iota
	// Denied: wait-die aborts the requester; it must retry with a fresh,
	// younger-ordered TxnID.
	Denied
	// Queued: the requester is older than every conflicting holder/waiter
	// and has been enqueued; it will be granted later, reported in the
	// granted list a subsequent Release returns.
	Queued
)

type waiter struct {
	txn  reactive.TxnID
	mode message.LockMode
}

// Table holds the lock state for one Src cell.
type Table struct {
	holders map[reactive.TxnID]message.LockMode
	queue   []waiter
}

func NewTable() *Table {
	return &Table{holders: make(map[reactive.TxnID]message.LockMode)}
}

// Request decides the outcome of txn asking for mode. If Queued is
// returned, the caller is responsible for remembering it is waiting; the
// grant will surface from a later Release call's returned waiter list.
func (t *Table) Request(txn reactive.TxnID, mode message.LockMode) Decision {
	if held, ok := t.holders[txn]; ok {
		// Re-entrant: idempotent if the held mode already covers mode.
		if held == mode || held == message.Write && mode == message.Read {
			return Granted
		}
	}

	if t.compatibleWithHolders(txn, mode) {
		t.holders[txn] = mode
		return Granted
	}

	// Conflict: wait-die. txn waits only if it is older than every current
	// holder and every already-queued waiter whose mode conflicts with it.
	for other := range t.holders {
		if other == txn {
			continue
		}
		if !txn.Older(other) {
			return Denied
		}
	}
	for _, w := range t.queue {
		if w.txn == txn {
			continue
		}
		if conflicts(w.mode, mode) && !txn.Older(w.txn) {
			return Denied
		}
	}

	t.queue = append(t.queue, waiter{txn: txn, mode: mode})
	return Queued
}

// compatibleWithHolders reports whether mode can be granted to txn given
// the current holder set, per the compatibility matrix in §4.1. A Free
// table (no holders) is always compatible; multiple Read holders coexist;
// anything else (a Write or Upgrade holder, or a Write/Upgrade request
// against Read holders) conflicts.
func (t *Table) compatibleWithHolders(txn reactive.TxnID, mode message.LockMode) bool {
	if len(t.holders) == 0 {
		return true
	}
	for other, heldMode := range t.holders {
		if other == txn {
			continue
		}
		if conflicts(heldMode, mode) {
			return false
		}
	}
	return true
}

func conflicts(held, requested message.LockMode) bool {
	if held == message.Read && requested == message.Read {
		return false
	}
	return true
}

// Release drops txn's lock (if any) and sweeps the wait queue front-to-back,
// granting as many compatible waiters as possible. It stops at the first
// waiter it cannot yet grant, preserving FIFO fairness instead of letting
// later-arriving compatible waiters jump the queue. It reports whether the
// released lock was a Write lock (the Src cell must publish a PropChange
// when that is true) and the list of waiters newly granted.
func (t *Table) Release(txn reactive.TxnID) (releasedWrite bool, granted []reactive.TxnID) {
	mode, held := t.holders[txn]
	if held {
		delete(t.holders, txn)
		releasedWrite = mode == message.Write
	}

	for len(t.queue) > 0 {
		head := t.queue[0]
		if !t.compatibleWithHolders(head.txn, head.mode) {
			break
		}
		t.holders[head.txn] = head.mode
		granted = append(granted, head.txn)
		t.queue = t.queue[1:]
	}
	return releasedWrite, granted
}

// ModeOf reports the mode txn currently holds, if any.
func (t *Table) ModeOf(txn reactive.TxnID) (message.LockMode, bool) {
	m, ok := t.holders[txn]
	return m, ok
}

// QueueLen reports the number of waiters, used for the overload-shedding
// diagnostic in §9.
func (t *Table) QueueLen() int {
	return len(t.queue)
}

// Package message defines the internal wire contract between actors: the
// exact set from §6 of the spec ("Internal message set (core wire contract
// between actors)"). These are plain structs exchanged over Go channels
// in-process and over watermill topics cross-process (internal/reactive/remote);
// nothing here depends on a transport.
package message

import (
	"github.com/google/uuid"
	"github.com/reactorlang/runtime/internal/reactive"
	"github.com/reactorlang/runtime/internal/reactive/basis"
	"github.com/reactorlang/runtime/internal/reactive/eval"
)

// LockMode is one of the three lock modes a transaction can hold on a Src
// cell.
type LockMode int

const (
	Read LockMode = iota
	Write
	Upgrade
)

func (m LockMode) String() string {
	switch m {
	case Read:
		return "Read"
	case Write:
		return "Write"
	case Upgrade:
		return "Upgrade"
	default:
		return "Unknown"
	}
}

// AbortReason classifies why a transaction did not commit, per §7.
type AbortReason int

const (
	Conflict AbortReason = iota
	EvalError
	UnknownCell
	Overloaded
)

func (r AbortReason) String() string {
	switch r {
	case Conflict:
		return "Conflict"
	case EvalError:
		return "EvalError"
	case UnknownCell:
		return "UnknownCell"
	case Overloaded:
		return "Overloaded"
	default:
		return "Unknown"
	}
}

// LockRequest asks a Src cell for a lock on behalf of Txn.
type LockRequest struct {
	Txn  reactive.TxnID
	Mode LockMode
}

// LockGranted/LockDenied are replies to LockRequest.
type LockGranted struct{ Txn reactive.TxnID }
type LockDenied struct {
	Txn    reactive.TxnID
	Reason AbortReason
}

// ReadRequest/ReadFinish let a Svc read a Src cell's current value while
// holding a lock on it.
type ReadRequest struct{ Txn reactive.TxnID }
type ReadFinish struct {
	Txn       reactive.TxnID
	Value     eval.Expr
	Iteration reactive.Iteration
}

// WriteRequest/WriteFinish stage a new value on a Src cell without
// publishing it; the value becomes visible only on LockRelease of the Write
// lock.
type WriteRequest struct {
	Txn   reactive.TxnID
	Value eval.Expr
}
type WriteFinish struct{ Txn reactive.TxnID }

// LockRelease releases a held lock; releasing a Write lock commits the
// staged write and triggers a PropChange publish (§4.1).
type LockRelease struct{ Txn reactive.TxnID }

// PropChange is the propagated change notification published by a Src or
// Drv cell to its subscribers.
type PropChange struct {
	From  reactive.Address
	Value eval.Expr
	Basis basis.Stamp
	// Preds names the transactions (or upstream PropChanges) this value is
	// causally derived from, for diagnostics only.
	Preds []reactive.TxnID
}

// Subscribe/Unsubscribe register and deregister a subscriber address with a
// publisher cell's pub/sub router.
type Subscribe struct {
	Subscriber reactive.Address
	Sink       chan<- PropChange
}
type Unsubscribe struct {
	Subscriber reactive.Address
}

// TransactionCommitted/ActionAborted are the Svc-to-client replies.
type TransactionCommitted struct{ Txn reactive.TxnID }
type ActionAborted struct {
	Txn    reactive.TxnID
	Reason AbortReason
	Err    error
}

// TestRequestPred/TestRequestPredGranted support the external assertion
// harness: they read a cell's current value and its basis stamp, without
// taking a lock (§4.3 "State machine"). The id of the transaction that
// produced the value is not reported.
type TestRequestPred struct {
	TestID uuid.UUID
}
type TestRequestPredGranted struct {
	TestID uuid.UUID
	Cell   reactive.Address
	Value  eval.Expr
	Basis  basis.Stamp
}

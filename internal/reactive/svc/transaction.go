package svc

import "github.com/reactorlang/runtime/internal/reactive"

// state is a transaction's position in the §4.2 pipeline.
type state int

const (
	stateInit state = iota
	stateLocking
	stateExecuting
	stateReleasing
	stateCommitted
	stateAborted
)

func (s state) String() string {
	switch s {
	case stateInit:
		return "init"
	case stateLocking:
		return "locking"
	case stateExecuting:
		return "executing"
	case stateReleasing:
		return "releasing"
	case stateCommitted:
		return "committed"
	case stateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// transaction is one DoAction/DoRedefine attempt's bookkeeping: which cells
// it has locked so far (so a denial or failure mid-pipeline can release
// exactly what was acquired, never more, never less) and which writes it has
// staged (so an eval failure partway through an action's assignment
// sequence can be unwound without committing a partial result).
type transaction struct {
	id    reactive.TxnID
	state state

	locked  []acquired
	written []reactive.Address
}

type acquired struct {
	addr reactive.Address
	ref  SrcRef
}

func newTransaction(id reactive.TxnID) *transaction {
	return &transaction{id: id, state: stateInit}
}

func (t *transaction) noteLocked(addr reactive.Address, ref SrcRef) {
	t.locked = append(t.locked, acquired{addr: addr, ref: ref})
}

func (t *transaction) noteWritten(addr reactive.Address) {
	t.written = append(t.written, addr)
}

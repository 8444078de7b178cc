// Package reactive holds the identity types shared by every cell, transaction
// and wire message in the runtime: addresses, iterations and transaction ids.
package reactive

import (
	"fmt"
	"strings"
)

// Address identifies a cell uniquely across the whole deployment: a service
// name and a cell name, unique within that service.
type Address struct {
	Service string
	Cell    string
}

func (a Address) String() string {
	return fmt.Sprintf("%s/%s", a.Service, a.Cell)
}

// MarshalText/UnmarshalText let Address serve as a map key in JSON (used by
// basis.Stamp) and as a wire field in remote RPC payloads (internal/reactive/remote).
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	service, cell, ok := strings.Cut(string(text), "/")
	if !ok {
		return fmt.Errorf("reactive: malformed address %q", text)
	}
	a.Service = service
	a.Cell = cell
	return nil
}

// Iteration is the monotonic generation counter of a Src cell. Zero means
// "unobserved initial value"; the first committed write advances it to 1.
type Iteration uint64

// TxnID is a strictly totally ordered transaction identifier. Ordering is by
// Seq alone: smaller Seq is strictly older, which is the only fact wait-die
// needs. Seq is assigned by a single Svc's monotonic counter, so ids are only
// comparable within one service's transactions plus whatever remote ids that
// service has observed and recorded locally.
type TxnID struct {
	Service string
	Seq     uint64
}

func (t TxnID) String() string {
	return fmt.Sprintf("%s#%d", t.Service, t.Seq)
}

// Older reports whether t is strictly older than other, i.e. t must never
// die to a conflicting request from other under wait-die.
func (t TxnID) Older(other TxnID) bool {
	return t.Seq < other.Seq
}

func (t TxnID) Equal(other TxnID) bool {
	return t.Service == other.Service && t.Seq == other.Seq
}

// Package remote implements the Src-cell message contract of §4.1 over a
// watermill pub/sub transport, for a cell owned by a different service
// (§9 "Remote cells"): a proxy that looks like any other svc.SrcRef to the
// coordinator, and a responder that answers requests against the cell it
// actually owns.
package remote

import (
	"encoding/json"
	"fmt"

	"github.com/reactorlang/runtime/internal/reactive"
	"github.com/reactorlang/runtime/internal/reactive/eval"
	"github.com/reactorlang/runtime/internal/reactive/message"
)

// op names one of the Src-cell operations carried over the wire.
type op string

const (
	opLock    op = "lock"
	opRead    op = "read"
	opWrite   op = "write"
	opDiscard op = "discard"
	opRelease op = "release"
)

// request is the envelope published to a cell's "<addr>/rpc" topic.
type request struct {
	Op            op                `json:"op"`
	CorrelationID string            `json:"correlation_id"`
	ReplyTo       string            `json:"reply_to"`
	Txn           reactive.TxnID    `json:"txn"`
	Mode          message.LockMode  `json:"mode,omitempty"`
	Value         *eval.Lit         `json:"value,omitempty"`
}

// reply is the envelope published back to request.ReplyTo.
type reply struct {
	CorrelationID string             `json:"correlation_id"`
	Granted       bool               `json:"granted,omitempty"`
	Reason        message.AbortReason `json:"reason,omitempty"`
	Value         *eval.Lit          `json:"value,omitempty"`
	Iteration     reactive.Iteration `json:"iteration,omitempty"`
	Err           string             `json:"err,omitempty"`
}

func encodeRequest(r request) ([]byte, error) { return json.Marshal(r) }
func decodeRequest(b []byte) (request, error) {
	var r request
	err := json.Unmarshal(b, &r)
	return r, err
}

func encodeReply(r reply) ([]byte, error) { return json.Marshal(r) }
func decodeReply(b []byte) (reply, error) {
	var r reply
	err := json.Unmarshal(b, &r)
	return r, err
}

// rpcTopic and replyTopic derive this cell's two well-known topic names from
// its address: one the owning service listens on for requests, one per
// proxy instance for replies so concurrent callers don't cross streams.
func rpcTopic(addr reactive.Address) string { return addr.String() + "/rpc" }

func replyTopic(addr reactive.Address, proxyID string) string {
	return fmt.Sprintf("%s/rpc/reply/%s", addr.String(), proxyID)
}

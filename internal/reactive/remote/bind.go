package remote

import (
	"context"
	"log/slog"
	"runtime/debug"

	wmmessage "github.com/ThreeDotsLabs/watermill/message"

	"github.com/reactorlang/runtime/internal/reactive"
	"github.com/reactorlang/runtime/internal/reactive/eval"
	"github.com/reactorlang/runtime/internal/reactive/message"
)

// cellOps is the subset of *src.Cell's API a Responder dispatches against;
// expressed narrowly here so a Responder depends only on this interface,
// not on the src package.
type cellOps interface {
	RequestLock(ctx context.Context, txn reactive.TxnID, mode message.LockMode) (bool, message.AbortReason, error)
	Read(ctx context.Context, txn reactive.TxnID) (eval.Expr, reactive.Iteration, error)
	Write(ctx context.Context, txn reactive.TxnID, value eval.Expr) error
	Discard(ctx context.Context, txn reactive.TxnID) error
	ReleaseLock(ctx context.Context, txn reactive.TxnID) error
}

// Responder answers remote RPC requests against one locally-owned Src
// cell's actual actor, bridging watermill to the cell's own exported
// methods — the owning-service counterpart to Proxy.
type Responder struct {
	cell      cellOps
	publisher wmmessage.Publisher
	logger    *slog.Logger
}

// NewResponder builds a Responder serving cell's rpc topic.
func NewResponder(cell cellOps, publisher wmmessage.Publisher, logger *slog.Logger) *Responder {
	return &Responder{cell: cell, publisher: publisher, logger: logger}
}

// Bind returns the watermill handler that answers every request on cell's
// rpc topic, matching the panic-recovery discipline of the rest of the
// runtime's message handlers: a bad or malformed request must never take
// the consumer down.
func (r *Responder) Bind() wmmessage.NoPublishHandlerFunc {
	return func(msg *wmmessage.Message) (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("REMOTE_RESPONDER_PANIC_RECOVERED", "err", rec, "stack", string(debug.Stack()), "msg_id", msg.UUID)
				err = nil
			}
		}()

		req, derr := decodeRequest(msg.Payload)
		if derr != nil {
			r.logger.Error("REMOTE_REQUEST_DECODE_FAILED", "err", derr, "msg_id", msg.UUID)
			return nil
		}

		rep := r.dispatch(msg.Context(), req)

		payload, eerr := encodeReply(rep)
		if eerr != nil {
			r.logger.Error("REMOTE_REPLY_ENCODE_FAILED", "err", eerr, "msg_id", msg.UUID)
			return nil
		}

		out := wmmessage.NewMessage(msg.UUID, payload)
		if err := r.publisher.Publish(req.ReplyTo, out); err != nil {
			r.logger.Error("REMOTE_REPLY_PUBLISH_FAILED", "err", err, "topic", req.ReplyTo)
		}
		return nil
	}
}

func (r *Responder) dispatch(ctx context.Context, req request) reply {
	rep := reply{CorrelationID: req.CorrelationID}

	switch req.Op {
	case opLock:
		granted, reason, err := r.cell.RequestLock(ctx, req.Txn, req.Mode)
		rep.Granted, rep.Reason = granted, reason
		if err != nil {
			rep.Err = err.Error()
		}
	case opRead:
		value, it, err := r.cell.Read(ctx, req.Txn)
		rep.Iteration = it
		if err != nil {
			rep.Err = err.Error()
		} else if lit, ok := value.(eval.Lit); ok {
			rep.Value = &lit
		}
	case opWrite:
		if req.Value == nil {
			rep.Err = "remote: write request missing value"
		} else if err := r.cell.Write(ctx, req.Txn, *req.Value); err != nil {
			rep.Err = err.Error()
		}
	case opDiscard:
		if err := r.cell.Discard(ctx, req.Txn); err != nil {
			rep.Err = err.Error()
		}
	case opRelease:
		if err := r.cell.ReleaseLock(ctx, req.Txn); err != nil {
			rep.Err = err.Error()
		}
	default:
		rep.Err = "remote: unknown op " + string(req.Op)
	}
	return rep
}

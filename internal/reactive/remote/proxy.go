package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmmessage "github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/reactorlang/runtime/internal/reactive"
	"github.com/reactorlang/runtime/internal/reactive/eval"
	"github.com/reactorlang/runtime/internal/reactive/message"
)

// replyTimeout bounds how long a Proxy call waits for its correlated reply
// before giving up — a remote cell that never answers must not hang a
// transaction's Locking phase forever.
const replyTimeout = 5 * time.Second

// Proxy implements svc.SrcRef (structurally — see that package's doc
// comment) for a cell owned by a different service, by round-tripping every
// call over watermill request/reply topics. A sony/gobreaker.CircuitBreaker
// wraps every call so a remote service that is down or saturated degrades
// to fast Overloaded aborts instead of hanging every caller's transaction
// (§9 "Remote cell failure").
type Proxy struct {
	addr      reactive.Address
	proxyID   string
	publisher wmmessage.Publisher
	logger    *slog.Logger
	breaker   *gobreaker.CircuitBreaker

	mu      sync.Mutex
	pending map[string]chan reply
}

// NewProxy builds a proxy for addr. The caller must also arrange for the
// process's subscriber to feed replyTopic(addr, proxyID) messages into
// HandleReply (see router.go).
func NewProxy(addr reactive.Address, publisher wmmessage.Publisher, logger *slog.Logger) *Proxy {
	p := &Proxy{
		addr:      addr,
		proxyID:   watermill.NewShortUUID(),
		publisher: publisher,
		logger:    logger,
		pending:   make(map[string]chan reply),
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "remote-cell:" + addr.String(),
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return p
}

func (p *Proxy) Addr() reactive.Address { return p.addr }

// ReplyTopic is the topic this proxy's owning router subscription must
// deliver replies from.
func (p *Proxy) ReplyTopic() string { return replyTopic(p.addr, p.proxyID) }

// HandleReply correlates an inbound reply message with a waiting call.
func (p *Proxy) HandleReply(payload []byte) {
	r, err := decodeReply(payload)
	if err != nil {
		p.logger.Error("REMOTE_REPLY_DECODE_FAILED", "cell", p.addr.String(), "err", err)
		return
	}
	p.mu.Lock()
	ch, ok := p.pending[r.CorrelationID]
	if ok {
		delete(p.pending, r.CorrelationID)
	}
	p.mu.Unlock()
	if ok {
		ch <- r
	}
}

func (p *Proxy) call(ctx context.Context, req request) (reply, error) {
	req.CorrelationID = uuid.NewString()
	req.ReplyTo = p.ReplyTopic()

	ch := make(chan reply, 1)
	p.mu.Lock()
	p.pending[req.CorrelationID] = ch
	p.mu.Unlock()

	result, err := p.breaker.Execute(func() (any, error) {
		payload, err := encodeRequest(req)
		if err != nil {
			return nil, err
		}
		msg := wmmessage.NewMessage(watermill.NewUUID(), payload)
		msg.SetContext(ctx)
		if err := p.publisher.Publish(rpcTopic(p.addr), msg); err != nil {
			return nil, err
		}

		select {
		case r := <-ch:
			return r, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(replyTimeout):
			return nil, fmt.Errorf("remote: timed out waiting for %s on %s", req.Op, p.addr)
		}
	})

	p.mu.Lock()
	delete(p.pending, req.CorrelationID)
	p.mu.Unlock()

	if err != nil {
		return reply{}, err
	}
	return result.(reply), nil
}

func (p *Proxy) RequestLock(ctx context.Context, txn reactive.TxnID, mode message.LockMode) (bool, message.AbortReason, error) {
	r, err := p.call(ctx, request{Op: opLock, Txn: txn, Mode: mode})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return false, message.Overloaded, nil
		}
		return false, message.Conflict, err
	}
	if r.Err != "" {
		return false, message.Overloaded, errors.New(r.Err)
	}
	return r.Granted, r.Reason, nil
}

func (p *Proxy) Read(ctx context.Context, txn reactive.TxnID) (eval.Expr, reactive.Iteration, error) {
	r, err := p.call(ctx, request{Op: opRead, Txn: txn})
	if err != nil {
		return nil, 0, err
	}
	if r.Err != "" {
		return nil, 0, errors.New(r.Err)
	}
	if r.Value == nil {
		return nil, r.Iteration, nil
	}
	return *r.Value, r.Iteration, nil
}

func (p *Proxy) Write(ctx context.Context, txn reactive.TxnID, value eval.Expr) error {
	lit, ok := value.(eval.Lit)
	if !ok {
		return fmt.Errorf("remote: cannot write non-literal value %T to remote cell %s", value, p.addr)
	}
	r, err := p.call(ctx, request{Op: opWrite, Txn: txn, Value: &lit})
	if err != nil {
		return err
	}
	if r.Err != "" {
		return errors.New(r.Err)
	}
	return nil
}

func (p *Proxy) Discard(ctx context.Context, txn reactive.TxnID) error {
	r, err := p.call(ctx, request{Op: opDiscard, Txn: txn})
	if err != nil {
		return err
	}
	if r.Err != "" {
		return errors.New(r.Err)
	}
	return nil
}

func (p *Proxy) ReleaseLock(ctx context.Context, txn reactive.TxnID) error {
	r, err := p.call(ctx, request{Op: opRelease, Txn: txn})
	if err != nil {
		return err
	}
	if r.Err != "" {
		return errors.New(r.Err)
	}
	return nil
}

// Package watch implements the dev-facing streaming connection behind the
// websocket "watch" channel (§6): a client subscribes to a set of cells and
// receives every PropChange as it commits, independent of DoAction/Assert's
// request/reply protocol.
package watch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/reactorlang/runtime/internal/reactive/message"
)

// Conn is the interface external layers (the ws handler) depend on,
// decoupling them from the pooled concrete implementation below.
type Conn interface {
	ID() uuid.UUID
	Send(pc message.PropChange, timeout time.Duration) bool
	Recv() <-chan message.PropChange
	// Sink exposes the connection's own mailbox for direct use as a Src/Drv
	// cell's subscriber sink (pubsub.Router.Subscribe), so a watched cell's
	// PropChange reaches the client without a relay goroutine in between.
	// Multiple cells may all subscribe this same sink under the connection's
	// address to watch several cells over one stream.
	Sink() chan<- message.PropChange
	Close()
}

type conn struct {
	id        uuid.UUID
	createdAt time.Time
	ctx       context.Context
	cancelFn  context.CancelFunc
	sendCh    chan message.PropChange
	closeOnce sync.Once

	lastActivityAt int64
	droppedCount   uint64
}

// connPool reuses conn structs across watch sessions to keep the hot path —
// a new WS connection arriving, an old one tearing down — allocation-free.
var connPool = sync.Pool{
	New: func() any { return &conn{} },
}

// NewConn builds (or recycles) a watch connection bounded to bufferSize
// pending PropChanges.
func NewConn(ctx context.Context, bufferSize int) Conn {
	c := connPool.Get().(*conn)
	c.reset(ctx, bufferSize)
	return c
}

func (c *conn) reset(ctx context.Context, bufferSize int) {
	childCtx, cancel := context.WithCancel(ctx)
	*c = conn{
		id:             uuid.New(),
		createdAt:      time.Now(),
		ctx:            childCtx,
		cancelFn:       cancel,
		sendCh:         make(chan message.PropChange, bufferSize),
		lastActivityAt: time.Now().UnixNano(),
	}
}

func (c *conn) ID() uuid.UUID { return c.id }

// Send pushes pc into the connection's mailbox, waiting up to timeout for
// space before falling back to dropping the oldest pending PropChange — a
// watch stream only ever needs a cell's most recent values, so the newest
// update is always worth keeping over an older one.
func (c *conn) Send(pc message.PropChange, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	atomic.StoreInt64(&c.lastActivityAt, time.Now().UnixNano())

	select {
	case <-c.ctx.Done():
		return false
	case c.sendCh <- pc:
		return true
	case <-ctx.Done():
		return c.dropOldestAndSend(pc)
	}
}

func (c *conn) dropOldestAndSend(pc message.PropChange) bool {
	select {
	case <-c.sendCh:
		atomic.AddUint64(&c.droppedCount, 1)
	default:
	}
	select {
	case c.sendCh <- pc:
		return true
	default:
		atomic.AddUint64(&c.droppedCount, 1)
		return false
	}
}

func (c *conn) Recv() <-chan message.PropChange { return c.sendCh }

func (c *conn) Sink() chan<- message.PropChange { return c.sendCh }

// Close terminates the session and recycles the struct. Idempotent: calling
// it more than once is a no-op. The channel Recv returned before Close is
// closed; Recv called after Close returns a nil channel.
func (c *conn) Close() {
	c.closeOnce.Do(func() {
		c.cancelFn()
		if c.sendCh != nil {
			close(c.sendCh)
		}
		c.sendCh = nil
		connPool.Put(c)
	})
}

package watch_test

import (
	"context"
	"testing"
	"time"

	"github.com/reactorlang/runtime/internal/reactive"
	"github.com/reactorlang/runtime/internal/reactive/basis"
	"github.com/reactorlang/runtime/internal/reactive/message"
	"github.com/reactorlang/runtime/internal/reactive/watch"
)

func TestSendRecvRoundTrip(t *testing.T) {
	c := watch.NewConn(context.Background(), 4)
	defer c.Close()

	pc := message.PropChange{From: reactive.Address{Service: "svc", Cell: "x"}, Value: nil, Basis: basis.Empty()}
	if !c.Send(pc, time.Second) {
		t.Fatal("want Send to succeed on an empty buffer")
	}

	select {
	case got := <-c.Recv():
		if got.From != pc.From {
			t.Fatalf("want %v, got %v", pc.From, got.From)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the sent PropChange")
	}
}

func TestSendDropsOldestWhenFull(t *testing.T) {
	c := watch.NewConn(context.Background(), 1)
	defer c.Close()

	first := message.PropChange{From: reactive.Address{Service: "svc", Cell: "x"}, Basis: basis.Singleton(reactive.Address{Service: "svc", Cell: "x"}, 1)}
	second := message.PropChange{From: reactive.Address{Service: "svc", Cell: "x"}, Basis: basis.Singleton(reactive.Address{Service: "svc", Cell: "x"}, 2)}

	if !c.Send(first, time.Second) {
		t.Fatal("want first Send to succeed")
	}
	// The buffer is now full; this Send should drop "first" and deliver
	// "second" rather than blocking past the timeout.
	if !c.Send(second, 20*time.Millisecond) {
		t.Fatal("want second Send to succeed by dropping the oldest entry")
	}

	select {
	case got := <-c.Recv():
		if got.Basis[reactive.Address{Service: "svc", Cell: "x"}] != 2 {
			t.Fatalf("want the newer entry to survive, got basis %v", got.Basis)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the surviving PropChange")
	}
}

func TestSinkFeedsRecv(t *testing.T) {
	c := watch.NewConn(context.Background(), 2)
	defer c.Close()

	pc := message.PropChange{From: reactive.Address{Service: "svc", Cell: "y"}, Basis: basis.Empty()}
	c.Sink() <- pc

	select {
	case got := <-c.Recv():
		if got.From != pc.From {
			t.Fatalf("want %v, got %v", pc.From, got.From)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting on Recv after writing directly to Sink")
	}
}

func TestCloseIsIdempotentAndClosesRecv(t *testing.T) {
	c := watch.NewConn(context.Background(), 1)
	recv := c.Recv()
	c.Close()
	c.Close() // must not panic

	_, ok := <-recv
	if ok {
		t.Fatal("want Recv closed after Close")
	}
}

func TestIDIsUniquePerConnection(t *testing.T) {
	a := watch.NewConn(context.Background(), 1)
	defer a.Close()
	b := watch.NewConn(context.Background(), 1)
	defer b.Close()

	if a.ID() == b.ID() {
		t.Fatal("want distinct connections to get distinct IDs even when the pool recycles structs")
	}
}

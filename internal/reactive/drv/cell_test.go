package drv_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/reactorlang/runtime/internal/reactive"
	"github.com/reactorlang/runtime/internal/reactive/basis"
	"github.com/reactorlang/runtime/internal/reactive/drv"
	"github.com/reactorlang/runtime/internal/reactive/eval"
	"github.com/reactorlang/runtime/internal/reactive/message"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func addr(cell string) reactive.Address {
	return reactive.Address{Service: "svc", Cell: cell}
}

func send(c *drv.Cell, from reactive.Address, value eval.Expr, iter reactive.Iteration) {
	c.Inbox() <- message.PropChange{
		From:  from,
		Value: value,
		Basis: basis.Stamp{from: iter},
	}
}

// TestGlitchFreeDiamondWaitsForBothInputs mirrors the §8 "Diamond" scenario:
// w = y + z where y and z both derive from x. A glitch-free w must not
// publish until it has seen compatible y and z values from the same x
// iteration, never an intermediate mix.
func TestGlitchFreeDiamondWaitsForBothInputs(t *testing.T) {
	w := drv.New(
		addr("w"),
		eval.BinOp{Op: "+", Left: eval.Var{Name: "y"}, Right: eval.Var{Name: "z"}},
		eval.Arith{},
		map[string]reactive.Address{"y": addr("y"), "z": addr("z")},
		testLogger(),
		drv.WithGlitchFree(true),
	)
	t.Cleanup(w.Stop)

	sink := make(chan message.PropChange, 4)
	w.Subscribe(addr("consumer"), sink)

	// Only y arrives first; w must stay silent.
	send(w, addr("y"), eval.Int(2), 1)
	select {
	case pc := <-sink:
		t.Fatalf("unexpected publish before z arrives: %v", pc)
	case <-time.After(50 * time.Millisecond):
	}

	// z arrives from the same generation; now both inputs are jointly
	// satisfiable and w should commit.
	send(w, addr("z"), eval.Int(4), 1)
	select {
	case pc := <-sink:
		got := pc.Value.(eval.Lit).V.(int64)
		if got != 6 {
			t.Fatalf("want w=6, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for diamond commit")
	}
}

// TestNonGlitchFreeAdoptsEachArrivalUnconditionally exercises the resolved
// Open Question (§9): a non-glitch-free Drv cell recomputes on every single
// input arrival, mixing generations, rather than waiting for a consistent
// batch.
func TestNonGlitchFreeAdoptsEachArrivalUnconditionally(t *testing.T) {
	w := drv.New(
		addr("w"),
		eval.BinOp{Op: "+", Left: eval.Var{Name: "y"}, Right: eval.Var{Name: "z"}},
		eval.Arith{},
		map[string]reactive.Address{"y": addr("y"), "z": addr("z")},
		testLogger(),
	)
	t.Cleanup(w.Stop)

	sink := make(chan message.PropChange, 4)
	w.Subscribe(addr("consumer"), sink)

	send(w, addr("y"), eval.Int(1), 1)
	select {
	case pc := <-sink:
		t.Fatalf("unexpected publish before every input has arrived once: %v", pc)
	case <-time.After(50 * time.Millisecond):
	}

	send(w, addr("z"), eval.Int(10), 1)
	select {
	case pc := <-sink:
		if got := pc.Value.(eval.Lit).V.(int64); got != 11 {
			t.Fatalf("want w=11, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first commit")
	}

	// A lone z update from a newer generation publishes immediately, mixing
	// with the stale y=1.
	send(w, addr("z"), eval.Int(20), 2)
	select {
	case pc := <-sink:
		if got := pc.Value.(eval.Lit).V.(int64); got != 21 {
			t.Fatalf("want w=21, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for second commit")
	}
}

func TestTestPredReturnsCurrentValueAndBasis(t *testing.T) {
	w := drv.New(
		addr("w"),
		eval.BinOp{Op: "+", Left: eval.Var{Name: "y"}, Right: eval.Var{Name: "z"}},
		eval.Arith{},
		map[string]reactive.Address{"y": addr("y"), "z": addr("z")},
		testLogger(),
		drv.WithGlitchFree(true),
	)
	t.Cleanup(w.Stop)

	send(w, addr("y"), eval.Int(2), 1)
	send(w, addr("z"), eval.Int(4), 1)

	// give the actor loop a moment to commit before polling TestPred
	time.Sleep(50 * time.Millisecond)

	res, err := w.TestPred(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("TestPred: %v", err)
	}
	if res.Value == nil {
		t.Fatal("want a committed value, got nil")
	}
	if got := res.Value.(eval.Lit).V.(int64); got != 6 {
		t.Fatalf("want value 6, got %v", got)
	}
	if res.Basis[addr("y")] != 1 || res.Basis[addr("z")] != 1 {
		t.Fatalf("want y and z's iterations present in the merged basis, got %v", res.Basis)
	}
}

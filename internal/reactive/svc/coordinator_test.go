package svc_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/reactorlang/runtime/internal/program"
	"github.com/reactorlang/runtime/internal/reactive"
	"github.com/reactorlang/runtime/internal/reactive/eval"
	"github.com/reactorlang/runtime/internal/reactive/message"
	"github.com/reactorlang/runtime/internal/reactive/src"
	"github.com/reactorlang/runtime/internal/reactive/svc"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRegistryWithSrc(names map[string]eval.Expr) *svc.Registry {
	reg := svc.NewRegistry("demo", nil)
	for name, initial := range names {
		addr := reactive.Address{Service: "demo", Cell: name}
		reg.RegisterSrc(name, src.New(addr, initial, testLogger(), 16))
	}
	return reg
}

func TestDoActionCommitsAndPublishes(t *testing.T) {
	reg := newRegistryWithSrc(map[string]eval.Expr{"balance": eval.Int(10)})
	coord := svc.New("demo", reg, eval.Arith{}, testLogger())

	ref, _, err := reg.ResolveSrc("balance")
	if err != nil {
		t.Fatal(err)
	}
	sink := make(chan message.PropChange, 4)
	ref.(*src.Cell).Subscribe(reactive.Address{Service: "demo", Cell: "watcher"}, sink)

	action := program.ActionDecl{
		Name: "deposit",
		Writes: []program.AssignDecl{
			{Cell: "balance", RHS: eval.BinOp{Op: "+", Left: eval.Var{Name: "balance"}, Right: eval.Int(5)}},
		},
	}

	res := coord.DoAction(context.Background(), action)
	if !res.Committed {
		t.Fatalf("expected commit, got %+v", res)
	}

	select {
	case pc := <-sink:
		if pc.Value.(eval.Lit).V.(int64) != 15 {
			t.Fatalf("want published value 15, got %v", pc.Value)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the committed PropChange")
	}

	value, _, err := ref.Read(context.Background(), reactive.TxnID{Service: "demo", Seq: 999})
	if err != nil {
		t.Fatal(err)
	}
	if value.(eval.Lit).V.(int64) != 15 {
		t.Fatalf("want 15, got %v", value)
	}
}

func TestDoActionUnknownCellAbortsFast(t *testing.T) {
	reg := newRegistryWithSrc(nil)
	coord := svc.New("demo", reg, eval.Arith{}, testLogger())

	action := program.ActionDecl{
		Name: "bad",
		Writes: []program.AssignDecl{
			{Cell: "nosuch", RHS: eval.Int(1)},
		},
	}

	res := coord.DoAction(context.Background(), action)
	if !res.Aborted || res.Reason != message.UnknownCell {
		t.Fatalf("want UnknownCell abort, got %+v", res)
	}
}

func TestDoActionEvalErrorDiscardsPartialWrites(t *testing.T) {
	reg := newRegistryWithSrc(map[string]eval.Expr{
		"a": eval.Int(1),
		"b": eval.Int(0),
	})
	coord := svc.New("demo", reg, eval.Arith{}, testLogger())

	action := program.ActionDecl{
		Name: "divideByZero",
		Writes: []program.AssignDecl{
			{Cell: "a", RHS: eval.Int(99)},
			{Cell: "b", RHS: eval.BinOp{Op: "/", Left: eval.Int(1), Right: eval.Int(0)}},
		},
	}

	res := coord.DoAction(context.Background(), action)
	if !res.Aborted || res.Reason != message.EvalError {
		t.Fatalf("want EvalError abort, got %+v", res)
	}

	ref, _, _ := reg.ResolveSrc("a")
	value, _, _ := ref.Read(context.Background(), reactive.TxnID{Service: "demo", Seq: 999})
	if value.(eval.Lit).V.(int64) != 1 {
		t.Fatalf("expected first assignment to be discarded, still 1, got %v", value)
	}
}

func TestDoActionYoungerDiesUnderConflict(t *testing.T) {
	reg := newRegistryWithSrc(map[string]eval.Expr{"x": eval.Int(0)})
	coord := svc.New("demo", reg, eval.Arith{}, testLogger())
	ref, addr, _ := reg.ResolveSrc("x")

	// Hold the Write lock externally with an older txn so the coordinator's
	// first internally-generated (younger) attempt dies, then retries once
	// the external holder releases.
	older := reactive.TxnID{Service: "demo", Seq: 0}
	if granted, _, _ := ref.RequestLock(context.Background(), older, message.Write); !granted {
		t.Fatal("expected external lock granted")
	}

	release := make(chan struct{})
	go func() {
		<-release
		_ = ref.ReleaseLock(context.Background(), older)
	}()

	resCh := make(chan svc.Result, 1)
	go func() {
		action := program.ActionDecl{
			Name:   "bump",
			Writes: []program.AssignDecl{{Cell: "x", RHS: eval.Int(1)}},
		}
		resCh <- coord.DoAction(context.Background(), action)
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case res := <-resCh:
		if !res.Committed {
			t.Fatalf("expected eventual commit after retry, got %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for DoAction to retry past the conflict")
	}

	_ = addr
}

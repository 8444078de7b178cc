package svc_test

import (
	"testing"

	"github.com/reactorlang/runtime/internal/reactive"
	"github.com/reactorlang/runtime/internal/reactive/drv"
	"github.com/reactorlang/runtime/internal/reactive/eval"
	"github.com/reactorlang/runtime/internal/reactive/src"
	"github.com/reactorlang/runtime/internal/reactive/svc"
)

func TestResolveTestableFindsSrcAndDrvCells(t *testing.T) {
	reg := svc.NewRegistry("demo", nil)

	srcAddr := reactive.Address{Service: "demo", Cell: "x"}
	srcCell := src.New(srcAddr, eval.Int(1), testLogger(), 16)
	t.Cleanup(srcCell.Stop)
	reg.RegisterSrc("x", srcCell)

	drvAddr := reactive.Address{Service: "demo", Cell: "y"}
	drvCell := drv.New(drvAddr, eval.BinOp{Op: "+", Left: eval.Var{Name: "x"}, Right: eval.Int(1)}, eval.Arith{},
		map[string]reactive.Address{"x": srcAddr}, testLogger(), drv.WithGlitchFree(true))
	t.Cleanup(drvCell.Stop)
	reg.RegisterDrv("y", drvCell)

	if _, ok := reg.ResolveTestable("x"); !ok {
		t.Fatal("want x resolvable as Testable")
	}
	if _, ok := reg.ResolveTestable("y"); !ok {
		t.Fatal("want y resolvable as Testable")
	}
	if _, ok := reg.ResolveTestable("nosuch"); ok {
		t.Fatal("want unregistered name to fail resolution")
	}
}

func TestNamesListsDeclaredSrcAndDrvCells(t *testing.T) {
	reg := svc.NewRegistry("demo", nil)

	srcAddr := reactive.Address{Service: "demo", Cell: "x"}
	srcCell := src.New(srcAddr, eval.Int(1), testLogger(), 16)
	t.Cleanup(srcCell.Stop)
	reg.RegisterSrc("x", srcCell)

	srcNames, drvNames := reg.Names()
	if len(srcNames) != 1 || srcNames[0] != "x" {
		t.Fatalf("want [x], got %v", srcNames)
	}
	if len(drvNames) != 0 {
		t.Fatalf("want no drv names, got %v", drvNames)
	}
}

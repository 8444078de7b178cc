package remote_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmmessage "github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"github.com/reactorlang/runtime/internal/program"
	"github.com/reactorlang/runtime/internal/reactive"
	"github.com/reactorlang/runtime/internal/reactive/eval"
	"github.com/reactorlang/runtime/internal/reactive/message"
	"github.com/reactorlang/runtime/internal/reactive/remote"
	"github.com/reactorlang/runtime/internal/reactive/svc"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestWirePropagatesPropChangeAcrossServices exercises Wire end to end across
// two services sharing one transport: "upstream" exposes a Src cell,
// "downstream" imports it into a local Drv cell. A write committed on the
// upstream cell must reach the downstream Drv cell's computed value, the
// same as two processes meshed over AMQP would see it, proving the exposed
// side (exposeSrcCell/PropChangeDispatcher) and the consuming side
// (ConnectProxy) actually meet on the wire.
func TestWirePropagatesPropChangeAcrossServices(t *testing.T) {
	logger := testLogger()
	wmLogger := watermill.NewSlogLogger(logger)
	bus := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            256,
		Persistent:                     false,
		BlockPublishUntilSubscriberAck: false,
	}, wmLogger)
	defer bus.Close()

	upstreamDecl := program.ServiceDecl{
		Name: "upstream",
		Cells: []program.CellDecl{
			{Name: "x", Kind: program.SrcCell, Initial: eval.Int(1)},
		},
	}
	upstreamLoaded, err := program.Load(upstreamDecl, eval.Arith{}, logger)
	if err != nil {
		t.Fatalf("program.Load(upstream): %v", err)
	}
	upstreamRegistry := svc.NewRegistry(upstreamDecl.Name, nil)
	for name, cell := range upstreamLoaded.SrcCells {
		upstreamRegistry.RegisterSrc(name, cell)
	}

	remoteAddr := reactive.Address{Service: "upstream", Cell: "x"}
	downstreamDecl := program.ServiceDecl{
		Name: "downstream",
		Cells: []program.CellDecl{
			{Name: "y", Kind: program.DrvCell, GlitchFree: true, Expr: eval.BinOp{Op: "+", Left: eval.Var{Name: "ix"}, Right: eval.Int(1)}},
		},
		Imports: map[string]reactive.Address{"ix": remoteAddr},
	}
	downstreamLoaded, err := program.Load(downstreamDecl, eval.Arith{}, logger)
	if err != nil {
		t.Fatalf("program.Load(downstream): %v", err)
	}
	downstreamRegistry := svc.NewRegistry(downstreamDecl.Name, downstreamDecl.Imports)

	upstreamRouter, err := wmmessage.NewRouter(wmmessage.RouterConfig{}, wmLogger)
	if err != nil {
		t.Fatal(err)
	}
	downstreamRouter, err := wmmessage.NewRouter(wmmessage.RouterConfig{}, wmLogger)
	if err != nil {
		t.Fatal(err)
	}

	remote.Wire(upstreamRouter, bus, bus, upstreamDecl, upstreamLoaded, upstreamRegistry, logger)
	remote.Wire(downstreamRouter, bus, bus, downstreamDecl, downstreamLoaded, downstreamRegistry, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go upstreamRouter.Run(ctx)
	go downstreamRouter.Run(ctx)
	defer upstreamRouter.Close()
	defer downstreamRouter.Close()

	select {
	case <-upstreamRouter.Running():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the upstream router to start")
	}
	select {
	case <-downstreamRouter.Running():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the downstream router to start")
	}

	x := upstreamLoaded.SrcCells["x"]
	tx := reactive.TxnID{Service: "upstream", Seq: 1}
	if granted, _, err := x.RequestLock(ctx, tx, message.Write); err != nil || !granted {
		t.Fatalf("expected write lock granted, got granted=%v err=%v", granted, err)
	}
	if err := x.Write(ctx, tx, eval.Int(9)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := x.ReleaseLock(ctx, tx); err != nil {
		t.Fatalf("release: %v", err)
	}

	y := downstreamLoaded.DrvCells["y"]
	deadline := time.Now().Add(2 * time.Second)
	for {
		res, err := y.TestPred(ctx, uuid.New())
		if err != nil {
			t.Fatal(err)
		}
		if lit, ok := res.Value.(eval.Lit); ok {
			if got, ok := lit.V.(int64); ok && got == 10 {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for the downstream cell to reach 10, last value %+v", res)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

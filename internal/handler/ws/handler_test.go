package ws_test

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	wshandler "github.com/reactorlang/runtime/internal/handler/ws"
	"github.com/reactorlang/runtime/internal/program"
	"github.com/reactorlang/runtime/internal/reactive"
	"github.com/reactorlang/runtime/internal/reactive/eval"
	"github.com/reactorlang/runtime/internal/reactive/message"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWatchStreamsPropChangeOnWrite(t *testing.T) {
	decl := program.ServiceDecl{
		Name: "demo",
		Cells: []program.CellDecl{
			{Name: "x", Kind: program.SrcCell, Initial: eval.Int(1)},
		},
	}
	loaded, err := program.Load(decl, eval.Arith{}, testLogger())
	if err != nil {
		t.Fatalf("program.Load: %v", err)
	}

	h := wshandler.NewHandler(loaded, testLogger())
	srv := httptest.NewServer(h)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/watch?cells=x"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// give the server's Subscribe call a moment to land before writing
	time.Sleep(20 * time.Millisecond)

	ctx := context.Background()
	tx := reactive.TxnID{Service: "demo", Seq: 1}
	x := loaded.SrcCells["x"]
	if granted, _, err := x.RequestLock(ctx, tx, message.Write); err != nil || !granted {
		t.Fatalf("expected write lock granted, got granted=%v err=%v", granted, err)
	}
	if err := x.Write(ctx, tx, eval.Int(5)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := x.ReleaseLock(ctx, tx); err != nil {
		t.Fatalf("release: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var payload map[string]any
	if err := conn.ReadJSON(&payload); err != nil {
		t.Fatalf("read: %v", err)
	}
	if payload["from"] != "demo/x" {
		t.Fatalf("want from=demo/x, got %v", payload)
	}
	if got := payload["value"]; got != float64(5) {
		t.Fatalf("want value=5, got %v", got)
	}
}

func TestWatchUnknownCellReturns404(t *testing.T) {
	decl := program.ServiceDecl{
		Name: "demo",
		Cells: []program.CellDecl{
			{Name: "x", Kind: program.SrcCell, Initial: eval.Int(1)},
		},
	}
	loaded, err := program.Load(decl, eval.Arith{}, testLogger())
	if err != nil {
		t.Fatalf("program.Load: %v", err)
	}

	h := wshandler.NewHandler(loaded, testLogger())
	srv := httptest.NewServer(h)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/watch?cells=nosuch"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("want the dial to fail for an unknown cell")
	}
	if resp == nil || resp.StatusCode != 404 {
		t.Fatalf("want 404, got %+v", resp)
	}
}

package http_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	handler "github.com/reactorlang/runtime/internal/handler/http"
	"github.com/reactorlang/runtime/internal/program"
	"github.com/reactorlang/runtime/internal/reactive/eval"
	"github.com/reactorlang/runtime/internal/reactive/svc"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(t *testing.T) *handler.Handler {
	t.Helper()
	h, _ := newTestHandlerWithShutdown(t)
	return h
}

func newTestHandlerWithShutdown(t *testing.T) (*handler.Handler, chan struct{}) {
	t.Helper()
	decl := program.ServiceDecl{
		Name: "demo",
		Cells: []program.CellDecl{
			{Name: "x", Kind: program.SrcCell, Initial: eval.Int(1)},
			{Name: "y", Kind: program.DrvCell, GlitchFree: true, Expr: eval.BinOp{Op: "+", Left: eval.Var{Name: "x"}, Right: eval.Int(1)}},
		},
		Actions: []program.ActionDecl{
			{Name: "bump", Writes: []program.AssignDecl{{Cell: "x", RHS: eval.Int(5)}}},
		},
	}

	loaded, err := program.Load(decl, eval.Arith{}, testLogger())
	if err != nil {
		t.Fatalf("program.Load: %v", err)
	}

	registry := svc.NewRegistry(decl.Name, nil)
	for name, cell := range loaded.SrcCells {
		registry.RegisterSrc(name, cell)
	}
	for name, cell := range loaded.DrvCells {
		registry.RegisterDrv(name, cell)
	}

	coordinator := svc.New(decl.Name, registry, eval.Arith{}, testLogger())
	shutdown := make(chan struct{})
	return handler.NewHandler(coordinator, loaded, eval.Arith{}, testLogger(), shutdown), shutdown
}

func TestDoActionCommitsOverHTTP(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := srv.Client().Post(srv.URL+"/actions/demo/bump", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Committed bool `json:"committed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !body.Committed {
		t.Fatalf("want committed=true, got %+v", body)
	}
}

func TestDoActionUnknownServiceReturns404(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := srv.Client().Post(srv.URL+"/actions/other/bump", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Fatalf("want 404, got %d", resp.StatusCode)
	}
}

func TestAssertPassesAgainstCurrentValue(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	reqBody, _ := json.Marshal(map[string]any{
		"cell":     "x",
		"expected": map[string]any{"kind": "int", "v": 1},
	})
	resp, err := srv.Client().Post(srv.URL+"/assert", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Pass bool `json:"pass"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !body.Pass {
		t.Fatalf("want pass=true for x==1, got %+v", body)
	}
}

func TestExitAcceptsAndClosesShutdownChannel(t *testing.T) {
	h, shutdown := newTestHandlerWithShutdown(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := srv.Client().Post(srv.URL+"/exit", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 202 {
		t.Fatalf("want 202 Accepted, got %d", resp.StatusCode)
	}

	select {
	case <-shutdown:
	case <-time.After(time.Second):
		t.Fatal("want the shutdown channel closed after Exit")
	}
}

func TestStatusListsDeclaredCells(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	// give the Drv cell's seeded initial value a moment to land
	time.Sleep(20 * time.Millisecond)

	resp, err := srv.Client().Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var rows []struct {
		Name string `json:"name"`
		Kind string `json:"kind"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("want 2 cells (x, y), got %d: %+v", len(rows), rows)
	}
}

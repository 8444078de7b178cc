// Package http implements the client-facing channel of §6's client
// protocol: DoAction, Assert and Exit, transported over chi-routed HTTP
// instead of the unspecified REPL front end.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/reactorlang/runtime/internal/program"
	"github.com/reactorlang/runtime/internal/reactive/eval"
	"github.com/reactorlang/runtime/internal/reactive/message"
	"github.com/reactorlang/runtime/internal/reactive/svc"
)

// Handler serves one service's client protocol.
type Handler struct {
	coordinator *svc.Coordinator
	loaded      *program.Loaded
	evaluator   eval.Evaluator
	logger      *slog.Logger
	shutdown    chan struct{}
}

// NewHandler builds a Handler for coordinator's service. shutdown is closed
// exactly once, by Exit, to signal the process's fx lifecycle to stop.
func NewHandler(coordinator *svc.Coordinator, loaded *program.Loaded, evaluator eval.Evaluator, logger *slog.Logger, shutdown chan struct{}) *Handler {
	return &Handler{coordinator: coordinator, loaded: loaded, evaluator: evaluator, logger: logger, shutdown: shutdown}
}

// Routes builds the chi router for this handler's endpoints.
func (h *Handler) Routes() *chi.Mux {
	r := chi.NewRouter()
	r.Post("/actions/{service}/{action}", h.DoAction)
	r.Post("/assert", h.Assert)
	r.Post("/exit", h.Exit)
	r.Get("/status", h.Status)
	return r
}

type doActionResponse struct {
	Txn       string `json:"txn,omitempty"`
	Committed bool   `json:"committed"`
	Aborted   bool   `json:"aborted"`
	Reason    string `json:"reason,omitempty"`
	Err       string `json:"error,omitempty"`
}

// DoAction runs the named action to completion (commit or exhausted
// retries) and replies with TransactionCommitted/ActionAborted (§6).
func (h *Handler) DoAction(w http.ResponseWriter, r *http.Request) {
	serviceName := chi.URLParam(r, "service")
	actionName := chi.URLParam(r, "action")

	if serviceName != h.coordinator.Service() {
		writeError(w, http.StatusNotFound, fmt.Errorf("http: no such service %q on this node", serviceName))
		return
	}
	action, ok := h.loaded.Actions[actionName]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("http: no such action %q", actionName))
		return
	}

	result := h.coordinator.DoAction(r.Context(), action)
	writeResult(w, result)
}

func writeResult(w http.ResponseWriter, result svc.Result) {
	resp := doActionResponse{
		Txn:       result.Txn.String(),
		Committed: result.Committed,
		Aborted:   result.Aborted,
	}
	if result.Aborted {
		resp.Reason = result.Reason.String()
	}
	if result.Err != nil {
		resp.Err = result.Err.Error()
	}

	status := http.StatusOK
	if result.Err != nil {
		status = http.StatusInternalServerError
	} else if result.Aborted {
		status = http.StatusConflict
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

type assertRequest struct {
	Cell     string   `json:"cell"`
	Expected eval.Lit `json:"expected"`
}

type assertResponse struct {
	Pass   bool     `json:"pass"`
	Actual eval.Lit `json:"actual,omitempty"`
	Err    string   `json:"error,omitempty"`
}

// Assert reads cell's current value with TestRequestPred (no lock taken, so
// Assert never competes with a running transaction) and replies
// AssertPass/AssertFail(actual) (§6).
func (h *Handler) Assert(w http.ResponseWriter, r *http.Request) {
	var req assertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("http: malformed assert request: %w", err))
		return
	}

	testable, ok := h.coordinator.Registry().ResolveTestable(req.Cell)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("http: %w: %q", svc.ErrUnknownCell, req.Cell))
		return
	}

	granted, err := testable.TestPred(r.Context(), uuid.New())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	actual, ok := granted.Value.(eval.Lit)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("http: %q holds a non-literal value %T", req.Cell, granted.Value))
		return
	}

	equal, everr := h.evaluator.Eval(eval.BinOp{Op: "==", Left: actual, Right: req.Expected}, nil)
	if everr != nil {
		writeError(w, http.StatusInternalServerError, everr)
		return
	}
	pass, _ := equal.(eval.Lit)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(assertResponse{Pass: pass.V == true, Actual: actual})
}

// Exit asks the process to terminate gracefully (§6). It replies
// immediately and signals shutdown asynchronously, so the HTTP response
// itself is never lost to the server tearing down mid-write.
func (h *Handler) Exit(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusAccepted)
	go h.triggerShutdown()
}

func (h *Handler) triggerShutdown() {
	defer func() { recover() }() // closing an already-closed channel must not panic the goroutine
	close(h.shutdown)
}

type cellStatus struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Value     any    `json:"value,omitempty"`
	Iteration uint64 `json:"iteration"`
}

// Status dumps every declared cell's current value and iteration, consumed
// by cmd/status.go's terminal dashboard.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	srcNames, drvNames := h.coordinator.Registry().Names()
	out := make([]cellStatus, 0, len(srcNames)+len(drvNames))

	for _, name := range srcNames {
		t, ok := h.coordinator.Registry().ResolveTestable(name)
		if !ok {
			continue
		}
		out = append(out, h.describe(r.Context(), name, "src", t))
	}
	for _, name := range drvNames {
		t, ok := h.coordinator.Registry().ResolveTestable(name)
		if !ok {
			continue
		}
		out = append(out, h.describe(r.Context(), name, "drv", t))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(out)
}

func (h *Handler) describe(ctx context.Context, name, kind string, t svc.Testable) cellStatus {
	granted, err := t.TestPred(ctx, uuid.New())
	if err != nil {
		h.logger.Error("HTTP_STATUS_READ_FAILED", "cell", name, "err", err)
		return cellStatus{Name: name, Kind: kind}
	}
	cs := cellStatus{Name: name, Kind: kind, Iteration: uint64(granted.Basis[t.Addr()])}
	if lit, ok := granted.Value.(eval.Lit); ok {
		cs.Value = lit.V
	}
	return cs
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Err string `json:"error"`
	}{Err: err.Error()})
}

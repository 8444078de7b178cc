// Package ws implements the dev-facing streaming channel of §6: a client
// opens a websocket on a set of cell names and receives every PropChange
// those cells emit, live, independent of the request/reply client protocol
// served by internal/handler/http.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/reactorlang/runtime/internal/program"
	"github.com/reactorlang/runtime/internal/reactive"
	"github.com/reactorlang/runtime/internal/reactive/eval"
	"github.com/reactorlang/runtime/internal/reactive/message"
	"github.com/reactorlang/runtime/internal/reactive/watch"
)

const watchMailboxSize = 64

// subscribable is satisfied by both *src.Cell and *drv.Cell.
type subscribable interface {
	Addr() reactive.Address
	Subscribe(subscriber reactive.Address, sink chan<- message.PropChange)
	Unsubscribe(subscriber reactive.Address)
}

// Handler upgrades a request to a websocket and streams PropChange for the
// cells named in its "cells" query parameter.
type Handler struct {
	loaded   *program.Loaded
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(loaded *program.Loaded, logger *slog.Logger) *Handler {
	return &Handler{
		loaded: loaded,
		logger: logger,
		upgrader: websocket.Upgrader{
			// Dev-facing tooling channel, not the client-facing surface;
			// left permissive the way the teacher's dev WS endpoint is.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	names := strings.Split(r.URL.Query().Get("cells"), ",")
	cells := make([]subscribable, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if c, ok := h.loaded.SrcCells[name]; ok {
			cells = append(cells, c)
			continue
		}
		if c, ok := h.loaded.DrvCells[name]; ok {
			cells = append(cells, c)
			continue
		}
		http.Error(w, "unknown cell: "+name, http.StatusNotFound)
		return
	}
	if len(cells) == 0 {
		http.Error(w, "watch: at least one cell name required in ?cells=", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WS_UPGRADE_FAILED", "err", err)
		return
	}
	defer conn.Close()

	watcher := watch.NewConn(r.Context(), watchMailboxSize)
	defer watcher.Close()

	subscriber := reactive.Address{Service: "watch", Cell: watcher.ID().String()}
	for _, c := range cells {
		c.Subscribe(subscriber, watcher.Sink())
	}
	defer func() {
		for _, c := range cells {
			c.Unsubscribe(subscriber)
		}
	}()

	h.logger.Info("WS_WATCH_OPENED", "conn_id", watcher.ID(), "cells", names)
	h.pump(conn, watcher)
}

func (h *Handler) pump(ws *websocket.Conn, watcher watch.Conn) {
	for pc := range watcher.Recv() {
		payload, err := encodePropChange(pc)
		if err != nil {
			h.logger.Error("WS_ENCODE_FAILED", "err", err)
			continue
		}
		if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Warn("WS_SEND_FAILED", "err", err)
			return
		}
	}
}

type wirePropChange struct {
	From  reactive.Address  `json:"from"`
	Value any               `json:"value"`
	Basis map[string]uint64 `json:"basis"`
}

func encodePropChange(pc message.PropChange) ([]byte, error) {
	w := wirePropChange{From: pc.From, Basis: make(map[string]uint64, len(pc.Basis))}
	if lit, ok := pc.Value.(eval.Lit); ok {
		w.Value = lit.V
	}
	for addr, it := range pc.Basis {
		w.Basis[addr.String()] = uint64(it)
	}
	return json.Marshal(w)
}

package remote

import (
	"context"
	"log/slog"

	wmmessage "github.com/ThreeDotsLabs/watermill/message"

	adapterpubsub "github.com/reactorlang/runtime/internal/adapter/pubsub"
	"github.com/reactorlang/runtime/internal/program"
	"github.com/reactorlang/runtime/internal/reactive"
	rmsg "github.com/reactorlang/runtime/internal/reactive/message"
	"github.com/reactorlang/runtime/internal/reactive/svc"
)

// remoteDispatchMailboxSize bounds the forwarding channel between a local Src
// cell's own Router and the watermill publisher — generous for the same
// reason program.Load's defaultMailboxSize is: a handful of in-flight commits
// should never fill it under normal operation.
const remoteDispatchMailboxSize = 256

// remoteDispatchSubscriber is the synthetic address every exposed Src cell's
// Router sees this forwarder subscribed under; it only has to be unique
// within that one cell's own Router, not globally.
var remoteDispatchSubscriber = reactive.Address{Service: "remote", Cell: "dispatch"}

// Wire connects loaded's local cells and decl's imports to router: every
// local Src cell gets a Responder so other services can reach it, and every
// imported cell gets a Proxy registered into registry and forwarded into
// each local Drv cell that depends on it — completing the cross-service
// subscription program.Load deliberately left open (see load.go's default
// case in the input-wiring loop). Every local Src cell is also exposed via a
// PropChangeDispatcher, republishing its own commits onto its address's
// topic so a remote service's Proxy (ConnectProxy, remote/router.go) — which
// subscribes exactly that topic — actually receives them; without this an
// imported cell's remote Drv subscribers would never see a generation past
// the one they were seeded with.
func Wire(router *wmmessage.Router, subscriber wmmessage.Subscriber, publisher wmmessage.Publisher, decl program.ServiceDecl, loaded *program.Loaded, registry *svc.Registry, logger *slog.Logger) {
	dispatcher := adapterpubsub.NewPropChangeDispatcher(publisher)

	for _, cell := range loaded.SrcCells {
		RegisterResponder(router, subscriber, publisher, cell.Addr(), cell, logger)
		exposeSrcCell(cell, dispatcher, logger)
	}

	for alias, addr := range decl.Imports {
		sinks := sinksFor(decl, loaded, alias)
		proxy := ConnectProxy(router, subscriber, publisher, addr, logger, sinks)
		registry.RegisterRemote(addr, proxy)
	}
}

// exposedSrc is the subset of *src.Cell's API exposeSrcCell depends on.
type exposedSrc interface {
	Addr() reactive.Address
	Subscribe(subscriber reactive.Address, sink chan<- rmsg.PropChange)
}

// exposeSrcCell subscribes a dispatcher-backed sink to cell's own PropChange
// output, so every commit is republished onto cell.Addr()'s topic regardless
// of whether any other service actually imports it — the same
// expose-unconditionally shape RegisterResponder already uses for the
// request/reply side.
func exposeSrcCell(cell exposedSrc, dispatcher adapterpubsub.PropChangeDispatcher, logger *slog.Logger) {
	sink := make(chan rmsg.PropChange, remoteDispatchMailboxSize)
	cell.Subscribe(remoteDispatchSubscriber, sink)

	go func() {
		for pc := range sink {
			if err := dispatcher.Publish(context.Background(), pc); err != nil {
				logger.Error("REMOTE_PROPCHANGE_PUBLISH_FAILED", "cell", cell.Addr().String(), "err", err)
			}
		}
	}()
}

// sinksFor collects the Inbox channel of every local Drv cell whose
// expression references alias.
func sinksFor(decl program.ServiceDecl, loaded *program.Loaded, alias string) []chan<- rmsg.PropChange {
	var sinks []chan<- rmsg.PropChange
	for _, cd := range decl.Cells {
		if cd.Kind != program.DrvCell {
			continue
		}
		for _, fv := range cd.Expr.FreeVars() {
			if fv == alias {
				if dc, ok := loaded.DrvCells[cd.Name]; ok {
					sinks = append(sinks, dc.Inbox())
				}
				break
			}
		}
	}
	return sinks
}

package remote

import (
	"log/slog"

	wmmessage "github.com/ThreeDotsLabs/watermill/message"

	adapterpubsub "github.com/reactorlang/runtime/internal/adapter/pubsub"
	"github.com/reactorlang/runtime/internal/reactive"
	rmsg "github.com/reactorlang/runtime/internal/reactive/message"
)

// RegisterResponder wires cell's rpc topic into router, so requests from a
// remote service's Proxy reach this process's actual Src cell.
func RegisterResponder(router *wmmessage.Router, subscriber wmmessage.Subscriber, publisher wmmessage.Publisher, addr reactive.Address, cell cellOps, logger *slog.Logger) {
	responder := NewResponder(cell, publisher, logger)
	router.AddNoPublisherHandler(
		"remote-responder:"+addr.String(),
		rpcTopic(addr),
		subscriber,
		responder.Bind(),
	)
}

// ConnectProxy builds a Proxy for addr, wires its reply topic into router,
// and forwards every PropChange published on addr's fan-out topic into each
// of sinks (typically a Drv cell's Inbox(), so an imported cell feeds the
// same try_advance machinery a local input would).
func ConnectProxy(router *wmmessage.Router, subscriber wmmessage.Subscriber, publisher wmmessage.Publisher, addr reactive.Address, logger *slog.Logger, sinks []chan<- rmsg.PropChange) *Proxy {
	proxy := NewProxy(addr, publisher, logger)

	router.AddNoPublisherHandler(
		"remote-proxy-reply:"+addr.String()+":"+proxy.proxyID,
		proxy.ReplyTopic(),
		subscriber,
		func(msg *wmmessage.Message) error {
			proxy.HandleReply(msg.Payload)
			return nil
		},
	)

	if len(sinks) > 0 {
		router.AddNoPublisherHandler(
			"remote-proxy-propchange:"+addr.String(),
			addr.String(),
			subscriber,
			func(msg *wmmessage.Message) error {
				pc, err := adapterpubsub.DecodePropChange(msg.Payload)
				if err != nil {
					logger.Error("REMOTE_PROPCHANGE_DECODE_FAILED", "cell", addr.String(), "err", err)
					return nil
				}
				for _, sink := range sinks {
					select {
					case sink <- pc:
					case <-msg.Context().Done():
					}
				}
				return nil
			},
		)
	}

	return proxy
}

// Package pubsub adapts the reactive runtime's internal PropChange messages
// onto a watermill message.Publisher, so the in-process and cross-process
// transports (infra/pubsub) share one dispatch path for remote cell fan-out.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	wmmessage "github.com/ThreeDotsLabs/watermill/message"

	"github.com/reactorlang/runtime/internal/reactive"
	"github.com/reactorlang/runtime/internal/reactive/basis"
	"github.com/reactorlang/runtime/internal/reactive/eval"
	rmsg "github.com/reactorlang/runtime/internal/reactive/message"
)

// wirePropChange is PropChange's wire form. Only Lit values ever reach this
// adapter: a remote cell's Drv/Src subscribers only ever need the computed
// result, never the expression that produced it (§9 "Remote cells").
type wirePropChange struct {
	From  reactive.Address      `json:"from"`
	Value eval.Lit              `json:"value"`
	Basis basis.Stamp           `json:"basis"`
	Preds []reactive.TxnID      `json:"preds,omitempty"`
}

// PropChangeDispatcher publishes a PropChange to the topic named after its
// origin cell's address, so a remote.Proxy subscribed to that address's
// topic sees every update without the publisher knowing who, if anyone, is
// listening remotely.
type PropChangeDispatcher interface {
	Publish(ctx context.Context, pc rmsg.PropChange) error
	Publisher() wmmessage.Publisher
}

type propChangeDispatcher struct {
	publisher wmmessage.Publisher
}

// NewPropChangeDispatcher returns the interface instead of the pointer to
// the struct.
func NewPropChangeDispatcher(pub wmmessage.Publisher) PropChangeDispatcher {
	return &propChangeDispatcher{publisher: pub}
}

func (d *propChangeDispatcher) Publish(ctx context.Context, pc rmsg.PropChange) error {
	lit, ok := pc.Value.(eval.Lit)
	if !ok {
		return fmt.Errorf("propchange dispatcher: cannot publish non-literal value %T for %s", pc.Value, pc.From)
	}

	payload, err := json.Marshal(wirePropChange{From: pc.From, Value: lit, Basis: pc.Basis, Preds: pc.Preds})
	if err != nil {
		return fmt.Errorf("propchange dispatcher: marshal failure: %w", err)
	}

	msg := wmmessage.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("from", pc.From.String())

	topic := pc.From.String()
	if err := d.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("propchange dispatcher: failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

func (d *propChangeDispatcher) Publisher() wmmessage.Publisher {
	return d.publisher
}

// DecodePropChange reverses Publish's encoding, used by remote.Proxy when
// consuming a subscription.
func DecodePropChange(payload []byte) (rmsg.PropChange, error) {
	var w wirePropChange
	if err := json.Unmarshal(payload, &w); err != nil {
		return rmsg.PropChange{}, err
	}
	return rmsg.PropChange{From: w.From, Value: w.Value, Basis: w.Basis, Preds: w.Preds}, nil
}

// Package pubsub provides this process's single watermill transport: an
// in-process github.com/ThreeDotsLabs/watermill/pubsub/gochannel backbone by
// default, or a cross-process github.com/ThreeDotsLabs/watermill-amqp/v3
// backbone when an AMQP URL is configured, so PropChange fan-out and remote
// cell RPC (internal/reactive/remote) never have to know which transport
// backs them.
package pubsub

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	amqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Provider hands out a Publisher/Subscriber pair bound to one transport.
// Topics are per-cell (reactive.Address.String()) for PropChange fan-out and
// per-request-type for remote RPC; the provider itself is topic-agnostic.
type Provider interface {
	Publisher() message.Publisher
	Subscriber() message.Subscriber
	Close() error
}

// gochannelProvider backs a single-process deployment: every service in the
// process shares one in-memory bus, matching how program.Load wires local
// subscriptions directly without going through pub/sub at all — this path
// only exists so remote.Proxy and remote.Responder work unmodified
// against a process with no real broker (tests, single-node `server` runs).
type gochannelProvider struct {
	bus *gochannel.GoChannel
}

// NewGoChannelProvider builds the in-process default transport.
func NewGoChannelProvider(logger *slog.Logger) Provider {
	bus := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            256,
		Persistent:                     false,
		BlockPublishUntilSubscriberAck: false,
	}, watermill.NewSlogLogger(logger))
	return &gochannelProvider{bus: bus}
}

func (p *gochannelProvider) Publisher() message.Publisher   { return p.bus }
func (p *gochannelProvider) Subscriber() message.Subscriber { return p.bus }
func (p *gochannelProvider) Close() error                   { return p.bus.Close() }

// amqpProvider backs a multi-node deployment: one durable fanout exchange
// per topic, consumed through a per-node queue so every instance still
// receives every PropChange (fan-out, not work-queue semantics).
type amqpProvider struct {
	pub *amqp.Publisher
	sub *amqp.Subscriber
}

// NewAMQPProvider dials amqpURI and names this node's queues with
// nodeID (e.g. os.Hostname()) so two instances of the same service don't
// steal each other's deliveries.
func NewAMQPProvider(amqpURI, nodeID string, logger *slog.Logger) (Provider, error) {
	wlogger := watermill.NewSlogLogger(logger)

	pubConfig := amqp.NewDurablePubSubConfig(amqpURI, nil)
	pub, err := amqp.NewPublisher(pubConfig, wlogger)
	if err != nil {
		return nil, err
	}

	subConfig := amqp.NewDurablePubSubConfig(amqpURI, func(topic string) string {
		return topic + "." + nodeID
	})
	sub, err := amqp.NewSubscriber(subConfig, wlogger)
	if err != nil {
		return nil, err
	}

	return &amqpProvider{pub: pub, sub: sub}, nil
}

func (p *amqpProvider) Publisher() message.Publisher   { return p.pub }
func (p *amqpProvider) Subscriber() message.Subscriber { return p.sub }
func (p *amqpProvider) Close() error {
	if err := p.pub.Close(); err != nil {
		return err
	}
	return p.sub.Close()
}

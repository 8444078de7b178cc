package pubsub

import (
	wmmessage "github.com/ThreeDotsLabs/watermill/message"

	infrapubsub "github.com/reactorlang/runtime/infra/pubsub"
)

// PublisherProvider resolves this process's configured transport
// (infra/pubsub.Provider) down to the plain watermill Publisher the
// dispatcher needs. Nothing in the fx graph constructs it.
type PublisherProvider struct {
	provider infrapubsub.Provider
}

func NewPublisherProvider(p infrapubsub.Provider) *PublisherProvider {
	return &PublisherProvider{provider: p}
}

func (pp *PublisherProvider) Build() (wmmessage.Publisher, error) {
	return pp.provider.Publisher(), nil
}

// SubscriberProvider mirrors PublisherProvider for the consuming side.
// internal/reactive/remote takes its Subscriber directly, not through this
// type.
type SubscriberProvider struct {
	provider infrapubsub.Provider
}

func NewSubscriberProvider(p infrapubsub.Provider) *SubscriberProvider {
	return &SubscriberProvider{provider: p}
}

func (sp *SubscriberProvider) Build() (wmmessage.Subscriber, error) {
	return sp.provider.Subscriber(), nil
}

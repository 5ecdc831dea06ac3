package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"
)

// Topics carried by the bus.
const (
	TopicInbound       = "ws.inbound"
	TopicWSState       = "ws.state"
	TopicAIState       = "ai.state"
	TopicTranscript    = "transcript"
	TopicToast         = "toast"
	TopicBillingDenied = "billing.denied"
	TopicAffinityCue   = "affinity.cue"
)

// AllTopics lists every topic, e.g. for mirroring.
var AllTopics = []string{
	TopicInbound, TopicWSState, TopicAIState, TopicTranscript,
	TopicToast, TopicBillingDenied, TopicAffinityCue,
}

// Bus is an in-process publish/subscribe channel. Publish blocks until every
// subscriber has acknowledged, so each topic is delivered in publish order.
type Bus struct {
	pubSub *gochannel.GoChannel
	logger *zap.Logger
	wg     sync.WaitGroup
}

func New(logger *zap.Logger) *Bus {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{BlockPublishUntilSubscriberAck: true},
		NewZapLogger(logger),
	)
	return &Bus{pubSub: pubSub, logger: logger}
}

// Publish encodes payload as JSON and publishes it on topic.
func (b *Bus) Publish(topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	if err := b.pubSub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// PublishRaw publishes already encoded JSON.
func (b *Bus) PublishRaw(topic string, data []byte) error {
	msg := message.NewMessage(watermill.NewUUID(), data)
	if err := b.pubSub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Consume subscribes handler to topic and returns once the subscription is
// in place. Messages are processed in a goroutine until ctx is done or the
// bus is closed. Every message is acked; handler errors are only logged so a
// bad payload can never be redelivered forever.
func (b *Bus) Consume(ctx context.Context, topic string, handler func(payload []byte) error) error {
	messages, err := b.pubSub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range messages {
			b.handle(topic, msg, handler)
		}
	}()
	return nil
}

func (b *Bus) handle(topic string, msg *message.Message, handler func([]byte) error) {
	defer msg.Ack()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Bus subscriber panicked", zap.String("topic", topic), zap.Any("panic", r))
		}
	}()
	if err := handler(msg.Payload); err != nil {
		b.logger.Warn("Bus subscriber failed",
			zap.String("topic", topic),
			zap.String("messageID", msg.UUID),
			zap.Error(err))
	}
}

// Close shuts the bus down and waits for running subscribers to drain.
func (b *Bus) Close() error {
	err := b.pubSub.Close()
	b.wg.Wait()
	return err
}

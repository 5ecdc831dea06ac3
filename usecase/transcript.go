package usecase

import (
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/companion/domain/entities"
	"github.com/satriahrh/arunika/companion/internal/eventbus"
	"github.com/satriahrh/arunika/companion/internal/state"
)

// Publisher is the part of the event bus the use cases publish on.
type Publisher interface {
	Publish(topic string, payload any) error
}

// Transcript is the session store with transcript changes published on the bus.
type Transcript struct {
	*state.Store
	bus    Publisher
	logger *zap.Logger
}

func NewTranscript(store *state.Store, bus Publisher, logger *zap.Logger) *Transcript {
	return &Transcript{Store: store, bus: bus, logger: logger}
}

func (t *Transcript) AppendHumanMessage(text string) entities.ChatMessage {
	msg := t.Store.AppendHumanMessage(text)
	t.publish(msg)
	return msg
}

func (t *Transcript) AppendAIMessage(text, name, avatar string) {
	t.Store.AppendAIMessage(text, name, avatar)
	if msgs := t.Store.Messages(); len(msgs) > 0 {
		t.publish(msgs[len(msgs)-1])
	}
}

func (t *Transcript) UpsertToolCall(status entities.ToolCallStatus) {
	t.Store.UpsertToolCall(status)
	for _, m := range t.Store.Messages() {
		if m.Role == entities.MessageRoleTool && m.ToolID == status.ToolID {
			t.publish(m)
			return
		}
	}
}

func (t *Transcript) publish(msg entities.ChatMessage) {
	if err := t.bus.Publish(eventbus.TopicTranscript, msg); err != nil {
		t.logger.Warn("Failed to publish transcript line", zap.String("id", msg.ID), zap.Error(err))
	}
}

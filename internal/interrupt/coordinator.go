package interrupt

import (
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/companion/domain"
	"github.com/satriahrh/arunika/companion/domain/entities"
	"github.com/satriahrh/arunika/companion/domain/repositories"
)

// AudioStopper halts the clip being played.
type AudioStopper interface {
	StopCurrentAudioAndLipSync()
	HasActivity() bool
}

// TaskQueue is the audio task queue.
type TaskQueue interface {
	HasTask() bool
	Clear()
}

// Conversation owns the AiState and the streaming response buffer.
type Conversation interface {
	AiState() entities.AiState
	SetAiState(entities.AiState)
	Response() string
	ClearResponse()
}

// Subtitle is the subtitle line.
type Subtitle interface {
	ClearIfThinking() bool
}

// Coordinator performs the user-facing "stop everything" action.
type Coordinator struct {
	audio    AudioStopper
	queue    TaskQueue
	conv     Conversation
	subtitle Subtitle
	sender   repositories.Sender
	logger   *zap.Logger

	mu sync.Mutex
}

func NewCoordinator(audio AudioStopper, queue TaskQueue, conv Conversation, subtitle Subtitle, sender repositories.Sender, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		audio:    audio,
		queue:    queue,
		conv:     conv,
		subtitle: subtitle,
		sender:   sender,
		logger:   logger,
	}
}

// CanInterrupt reports whether there is a reply or audio to stop.
func (c *Coordinator) CanInterrupt() bool {
	return c.conv.AiState() == entities.AiStateThinkingSpeaking || c.queue.HasTask() || c.audio.HasActivity()
}

// Interrupt stops audio, drops queued clips, marks the conversation
// interrupted and, when sendSignal is set, tells the server what had been
// said so far. It reports false and does nothing when nothing is active.
func (c *Coordinator) Interrupt(sendSignal bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.CanInterrupt() {
		c.logger.Debug("Nothing to interrupt", zap.String("aiState", string(c.conv.AiState())))
		return false
	}

	c.audio.StopCurrentAudioAndLipSync()
	c.queue.Clear()
	c.conv.SetAiState(entities.AiStateInterrupted)

	if sendSignal {
		msg := domain.InterruptSignal{Type: domain.TypeInterruptSignal, Text: c.conv.Response()}
		if err := c.sender.Send(msg); err != nil {
			c.logger.Warn("Failed to send interrupt signal", zap.Error(err))
		}
	}

	c.conv.ClearResponse()
	c.subtitle.ClearIfThinking()

	c.logger.Info("Interrupted", zap.Bool("signalled", sendSignal))
	return true
}

package proactive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/companion/domain/entities"
	"github.com/satriahrh/arunika/companion/domain/repositories"
)

const DefaultActivityPoll = 500 * time.Millisecond

var ErrInvalidSettings = errors.New("invalid proactive settings")

// Settings are persisted as JSON under repositories.KeyProactiveSettings.
type Settings struct {
	AllowProactiveSpeak bool    `json:"allowProactiveSpeak"`
	IdleSecondsToSpeak  float64 `json:"idleSecondsToSpeak" validate:"gt=0"`
	AllowButtonTrigger  bool    `json:"allowButtonTrigger"`
}

func DefaultSettings() Settings {
	return Settings{IdleSecondsToSpeak: 5}
}

// TriggerFunc asks the AI to speak after idleSeconds of silence.
type TriggerFunc func(idleSeconds float64)

// Speaker lets the AI speak first once the conversation has been idle long
// enough. The idle clock only starts after all audio has finished.
type Speaker struct {
	store        repositories.KeyValueStore
	busy         func() bool
	trigger      TriggerFunc
	logger       *zap.Logger
	validate     *validator.Validate
	pollInterval time.Duration

	mu         sync.Mutex
	settings   Settings
	idle       bool
	generation uint64
	timer      *time.Timer
}

type Option func(*Speaker)

func WithActivityPoll(d time.Duration) Option {
	return func(s *Speaker) { s.pollInterval = d }
}

// NewSpeaker builds a Speaker. busy reports queued or playing audio.
func NewSpeaker(store repositories.KeyValueStore, busy func() bool, trigger TriggerFunc, logger *zap.Logger, opts ...Option) *Speaker {
	s := &Speaker{
		store:        store,
		busy:         busy,
		trigger:      trigger,
		logger:       logger,
		validate:     validator.New(),
		pollInterval: DefaultActivityPoll,
		settings:     DefaultSettings(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads persisted settings. Missing or corrupt settings keep the defaults.
func (s *Speaker) Load(ctx context.Context) error {
	raw, err := s.store.Get(ctx, repositories.KeyProactiveSettings)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read proactive settings: %w", err)
	}

	settings := DefaultSettings()
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		s.logger.Warn("Ignoring corrupt proactive speak settings", zap.Error(err))
		return nil
	}
	if err := s.validate.Struct(settings); err != nil {
		s.logger.Warn("Ignoring invalid proactive speak settings", zap.Error(err))
		return nil
	}

	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
	return nil
}

func (s *Speaker) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Update persists settings and restarts the idle clock if currently idle.
func (s *Speaker) Update(ctx context.Context, settings Settings) error {
	if err := s.validate.Struct(settings); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode proactive settings: %w", err)
	}
	if err := s.store.Set(ctx, repositories.KeyProactiveSettings, string(data)); err != nil {
		return fmt.Errorf("persist proactive settings: %w", err)
	}

	s.mu.Lock()
	s.settings = settings
	idle := s.idle
	s.mu.Unlock()

	if idle {
		s.start()
	}
	return nil
}

// OnAiStateChange is registered as an AiState listener.
func (s *Speaker) OnAiStateChange(_, next entities.AiState) {
	s.mu.Lock()
	s.idle = next == entities.AiStateIdle
	idle := s.idle
	s.mu.Unlock()

	if idle {
		s.start()
		return
	}
	s.Stop()
}

// Stop cancels the idle clock and any pending audio check.
func (s *Speaker) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
}

func (s *Speaker) start() {
	s.mu.Lock()
	s.cancelLocked()
	if !s.settings.AllowProactiveSpeak {
		s.mu.Unlock()
		return
	}
	gen := s.generation
	s.mu.Unlock()

	s.check(gen)
}

// check waits for audio to go quiet, then arms the idle timer.
func (s *Speaker) check(gen uint64) {
	busy := s.busy()

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}

	if busy {
		s.logger.Debug("Audio still busy, delaying idle timer")
		s.timer = time.AfterFunc(s.pollInterval, func() { s.check(gen) })
		return
	}

	idleFor := time.Duration(s.settings.IdleSecondsToSpeak * float64(time.Second))
	started := time.Now()
	s.logger.Debug("Idle timer started", zap.Duration("after", idleFor))
	s.timer = time.AfterFunc(idleFor, func() { s.fire(gen, started) })
}

func (s *Speaker) fire(gen uint64, started time.Time) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	idleSeconds := time.Since(started).Seconds()
	s.logger.Info("Idle time reached, triggering proactive speak", zap.Float64("idleSeconds", idleSeconds))
	s.trigger(idleSeconds)
}

func (s *Speaker) cancelLocked() {
	s.generation++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

package interrupt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/companion/domain"
	"github.com/satriahrh/arunika/companion/domain/entities"
	"github.com/satriahrh/arunika/companion/domain/repositories"
	"github.com/satriahrh/arunika/companion/internal/state"
	"github.com/satriahrh/arunika/companion/internal/subtitle"
	"github.com/satriahrh/arunika/companion/internal/taskqueue"
)

type fakeAudio struct {
	playing bool
	stops   int
}

func (a *fakeAudio) StopCurrentAudioAndLipSync() {
	a.stops++
	a.playing = false
}

func (a *fakeAudio) HasActivity() bool { return a.playing }

type recordingSender struct {
	msgs []any
}

func (s *recordingSender) Send(msg any) error {
	s.msgs = append(s.msgs, msg)
	return nil
}

type fixture struct {
	coord    *Coordinator
	audio    *fakeAudio
	queue    *taskqueue.Queue
	store    *state.Store
	subtitle *subtitle.Display
	sender   *recordingSender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		audio:    &fakeAudio{},
		queue:    taskqueue.New(time.Millisecond, zap.NewNop()),
		store:    state.New(),
		subtitle: subtitle.New(time.Minute),
		sender:   &recordingSender{},
	}
	t.Cleanup(f.queue.Close)
	t.Cleanup(f.subtitle.Stop)
	var sender repositories.Sender = f.sender
	f.coord = NewCoordinator(f.audio, f.queue, f.store, f.subtitle, sender, zap.NewNop())
	return f
}

func TestCoordinator_NoopWhenIdle(t *testing.T) {
	for _, st := range []entities.AiState{entities.AiStateIdle, entities.AiStateListening} {
		t.Run(string(st), func(t *testing.T) {
			f := newFixture(t)
			f.store.SetAiState(st)
			f.store.AppendResponse("partial")

			assert.False(t, f.coord.Interrupt(true))
			assert.Equal(t, st, f.store.AiState())
			assert.Empty(t, f.sender.msgs)
			assert.Equal(t, 0, f.audio.stops)
			assert.Equal(t, "partial", f.store.Response())
		})
	}
}

func TestCoordinator_InterruptWhileSpeakingWithQueuedClips(t *testing.T) {
	f := newFixture(t)
	f.store.SetAiState(entities.AiStateThinkingSpeaking)
	f.store.AppendResponse("I was saying")
	f.subtitle.Set(subtitle.ThinkingPlaceholder)

	release := make(chan struct{})
	started := make(chan struct{})
	f.queue.AddTask(func(ctx context.Context) error {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	<-started
	for i := 0; i < 3; i++ {
		f.queue.AddTask(func(ctx context.Context) error { return nil })
	}
	require.Equal(t, 3, f.queue.Len())

	assert.True(t, f.coord.Interrupt(true))
	close(release)

	assert.Equal(t, 0, f.queue.Len())
	assert.Equal(t, entities.AiStateInterrupted, f.store.AiState())
	require.Len(t, f.sender.msgs, 1)
	assert.Equal(t, domain.InterruptSignal{Type: domain.TypeInterruptSignal, Text: "I was saying"}, f.sender.msgs[0])
	assert.Equal(t, "", f.store.Response())
	assert.Equal(t, "", f.subtitle.Text())
	assert.Equal(t, 1, f.audio.stops)

	assert.False(t, f.coord.Interrupt(true), "second call finds nothing active")
	assert.Len(t, f.sender.msgs, 1)
}

func TestCoordinator_AudioActivityAloneAllowsInterrupt(t *testing.T) {
	f := newFixture(t)
	f.audio.playing = true
	f.subtitle.Set("an answer")

	assert.True(t, f.coord.Interrupt(false))
	assert.Empty(t, f.sender.msgs, "no signal when asked not to")
	assert.Equal(t, entities.AiStateInterrupted, f.store.AiState())
	assert.Equal(t, "an answer", f.subtitle.Text(), "only the placeholder is cleared")
}

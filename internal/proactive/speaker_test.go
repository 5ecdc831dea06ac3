package proactive

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/companion/domain/entities"
	"github.com/satriahrh/arunika/companion/domain/repositories"
)

type mapStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMapStore() *mapStore { return &mapStore{data: map[string]string{}} }

func (m *mapStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", repositories.ErrNotFound
	}
	return v, nil
}

func (m *mapStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mapStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type triggers struct {
	mu    sync.Mutex
	calls []float64
}

func (tr *triggers) fire(idle float64) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.calls = append(tr.calls, idle)
}

func (tr *triggers) count() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.calls)
}

func newSpeaker(t *testing.T, busy *atomic.Bool) (*Speaker, *triggers, *mapStore) {
	t.Helper()
	store := newMapStore()
	tr := &triggers{}
	s := NewSpeaker(store, busy.Load, tr.fire, zap.NewNop(), WithActivityPoll(5*time.Millisecond))
	t.Cleanup(s.Stop)
	require.NoError(t, s.Update(context.Background(), Settings{AllowProactiveSpeak: true, IdleSecondsToSpeak: 0.03}))
	return s, tr, store
}

func TestSpeaker_TriggersAfterIdle(t *testing.T) {
	var busy atomic.Bool
	s, tr, _ := newSpeaker(t, &busy)

	s.OnAiStateChange(entities.AiStateThinkingSpeaking, entities.AiStateIdle)
	require.Eventually(t, func() bool { return tr.count() == 1 }, time.Second, 5*time.Millisecond)

	tr.mu.Lock()
	assert.GreaterOrEqual(t, tr.calls[0], 0.03)
	tr.mu.Unlock()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, tr.count(), "one trigger per idle period")
}

func TestSpeaker_WaitsForAudio(t *testing.T) {
	var busy atomic.Bool
	busy.Store(true)
	s, tr, _ := newSpeaker(t, &busy)

	s.OnAiStateChange(entities.AiStateThinkingSpeaking, entities.AiStateIdle)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 0, tr.count(), "the idle clock does not start while audio plays")

	busy.Store(false)
	require.Eventually(t, func() bool { return tr.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSpeaker_LeavingIdleCancels(t *testing.T) {
	var busy atomic.Bool
	s, tr, _ := newSpeaker(t, &busy)

	s.OnAiStateChange(entities.AiStateThinkingSpeaking, entities.AiStateIdle)
	time.Sleep(10 * time.Millisecond)
	s.OnAiStateChange(entities.AiStateIdle, entities.AiStateListening)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 0, tr.count())
}

func TestSpeaker_DisabledDoesNothing(t *testing.T) {
	var busy atomic.Bool
	s, tr, _ := newSpeaker(t, &busy)
	require.NoError(t, s.Update(context.Background(), Settings{AllowProactiveSpeak: false, IdleSecondsToSpeak: 0.01}))

	s.OnAiStateChange(entities.AiStateThinkingSpeaking, entities.AiStateIdle)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, tr.count())
}

func TestSpeaker_Settings(t *testing.T) {
	store := newMapStore()
	s := NewSpeaker(store, func() bool { return false }, func(float64) {}, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.Load(ctx))
	assert.Equal(t, DefaultSettings(), s.Settings())

	assert.Error(t, s.Update(ctx, Settings{AllowProactiveSpeak: true, IdleSecondsToSpeak: 0}))

	want := Settings{AllowProactiveSpeak: true, IdleSecondsToSpeak: 12, AllowButtonTrigger: true}
	require.NoError(t, s.Update(ctx, want))
	assert.JSONEq(t, `{"allowProactiveSpeak":true,"idleSecondsToSpeak":12,"allowButtonTrigger":true}`, store.data[repositories.KeyProactiveSettings])

	reloaded := NewSpeaker(store, func() bool { return false }, func(float64) {}, zap.NewNop())
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, want, reloaded.Settings())

	store.data[repositories.KeyProactiveSettings] = "{broken"
	corrupt := NewSpeaker(store, func() bool { return false }, func(float64) {}, zap.NewNop())
	require.NoError(t, corrupt.Load(ctx))
	assert.Equal(t, DefaultSettings(), corrupt.Settings())
}

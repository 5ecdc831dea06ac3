package natsmirror

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/companion/internal/eventbus"
)

type recordingPublisher struct {
	mu   sync.Mutex
	sent map[string][]string
	fail bool
}

func (p *recordingPublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("nats down")
	}
	if p.sent == nil {
		p.sent = map[string][]string{}
	}
	p.sent[subject] = append(p.sent[subject], string(data))
	return nil
}

func (p *recordingPublisher) get(subject string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent[subject]...)
}

func TestMirror_RepublishesTopics(t *testing.T) {
	bus := eventbus.New(zap.NewNop())
	t.Cleanup(func() { bus.Close() })
	pub := &recordingPublisher{}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, New(pub, zap.NewNop()).Start(ctx, bus, eventbus.TopicToast, eventbus.TopicAffinityCue))

	require.NoError(t, bus.Publish(eventbus.TopicToast, map[string]string{"message": "saved"}))
	require.NoError(t, bus.Publish(eventbus.TopicAffinityCue, map[string]any{"cue": "increase"}))
	require.NoError(t, bus.Publish(eventbus.TopicTranscript, map[string]string{"text": "not mirrored"}))

	require.Eventually(t, func() bool {
		return len(pub.get("companion.toast")) == 1 && len(pub.get("companion.affinity.cue")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.JSONEq(t, `{"message":"saved"}`, pub.get("companion.toast")[0])
	assert.Empty(t, pub.get("companion.transcript"))
}

func TestMirror_PublishFailureDoesNotStall(t *testing.T) {
	bus := eventbus.New(zap.NewNop())
	t.Cleanup(func() { bus.Close() })
	pub := &recordingPublisher{fail: true}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, New(pub, zap.NewNop()).Start(ctx, bus, eventbus.TopicToast))

	require.NoError(t, bus.Publish(eventbus.TopicToast, "first"))
	pub.mu.Lock()
	pub.fail = false
	pub.mu.Unlock()
	require.NoError(t, bus.Publish(eventbus.TopicToast, "second"))

	require.Eventually(t, func() bool { return len(pub.get("companion.toast")) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, `"second"`, pub.get("companion.toast")[0])
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "companion.ws.state", Subject(eventbus.TopicWSState))
}

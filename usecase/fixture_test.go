package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/companion/adapters/avatar"
	"github.com/satriahrh/arunika/companion/adapters/kv"
	"github.com/satriahrh/arunika/companion/domain/entities"
	"github.com/satriahrh/arunika/companion/internal/affinity"
	"github.com/satriahrh/arunika/companion/internal/audio"
	"github.com/satriahrh/arunika/companion/internal/interrupt"
	"github.com/satriahrh/arunika/companion/internal/state"
	"github.com/satriahrh/arunika/companion/internal/subtitle"
	"github.com/satriahrh/arunika/companion/internal/taskqueue"
)

type published struct {
	topic   string
	payload any
}

type recordingBus struct {
	mu     sync.Mutex
	events []published
}

func (b *recordingBus) Publish(topic string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, published{topic, payload})
	return nil
}

func (b *recordingBus) on(topic string) []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []any
	for _, e := range b.events {
		if e.topic == topic {
			out = append(out, e.payload)
		}
	}
	return out
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []any
}

func (s *recordingSender) Send(msg any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSender) sent() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.msgs...)
}

type fakePlayer struct {
	mu       sync.Mutex
	played   []entities.AudioClip
	stops    int
	active   bool
	drained  chan time.Duration
	playedCh chan struct{}
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{drained: make(chan time.Duration, 1), playedCh: make(chan struct{}, 16)}
}

func (p *fakePlayer) Task(clip entities.AudioClip) taskqueue.Task {
	return func(ctx context.Context) error {
		p.mu.Lock()
		p.played = append(p.played, clip)
		p.mu.Unlock()
		p.playedCh <- struct{}{}
		return nil
	}
}

func (p *fakePlayer) StopCurrentAudioAndLipSync() {
	p.mu.Lock()
	p.stops++
	p.active = false
	p.mu.Unlock()
}

func (p *fakePlayer) HasActivity() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *fakePlayer) WaitDrained(_ context.Context, _ audio.Queue, maxWait time.Duration) {
	p.drained <- maxWait
}

func (p *fakePlayer) setActive(v bool) {
	p.mu.Lock()
	p.active = v
	p.mu.Unlock()
}

func (p *fakePlayer) stopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}

type fakePoller struct {
	mu     sync.Mutex
	opened int
	closed int
}

func (p *fakePoller) ConnectionOpened() {
	p.mu.Lock()
	p.opened++
	p.mu.Unlock()
}

func (p *fakePoller) ConnectionClosed() {
	p.mu.Lock()
	p.closed++
	p.mu.Unlock()
}

type fakeGate struct {
	mu      sync.Mutex
	allowed bool
	calls   int
}

func (g *fakeGate) CheckAndDeduct(context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.allowed
}

type recordingQueue struct {
	mu       sync.Mutex
	payloads []any
}

func (q *recordingQueue) Enqueue(payload any) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.payloads = append(q.payloads, payload)
	return "msg_test"
}

type fixture struct {
	store    *Transcript
	bus      *recordingBus
	sender   *recordingSender
	player   *fakePlayer
	poller   *fakePoller
	gate     *fakeGate
	outbound *recordingQueue
	tasks    *taskqueue.Queue
	subtitle *subtitle.Display
	driver   *affinity.Driver
	kv       *kv.MemoryStore
	avatar   *avatar.LogAvatar
	coord    *interrupt.Coordinator
	session  *SessionService
	actions  *ActionService
}

func newFixture(t *testing.T, opts SessionOptions) *fixture {
	t.Helper()
	logger := zap.NewNop()
	f := &fixture{
		bus:      &recordingBus{},
		sender:   &recordingSender{},
		player:   newFakePlayer(),
		poller:   &fakePoller{},
		gate:     &fakeGate{allowed: true},
		outbound: &recordingQueue{},
		tasks:    taskqueue.New(time.Millisecond, logger),
		subtitle: subtitle.New(time.Minute),
		kv:       kv.NewMemoryStore(),
		avatar:   avatar.NewLogAvatar(logger),
	}
	f.store = NewTranscript(state.New(), f.bus, logger)
	f.driver = affinity.NewDriver(f.kv, logger, affinity.DefaultDurations())
	f.coord = interrupt.NewCoordinator(f.player, f.tasks, f.store, f.subtitle, f.sender, logger)
	t.Cleanup(f.tasks.Close)
	t.Cleanup(f.subtitle.Stop)
	t.Cleanup(f.driver.Close)

	f.session = NewSessionService(SessionDeps{
		State:     f.store,
		Subtitle:  f.subtitle,
		Tasks:     f.tasks,
		Player:    f.player,
		Interrupt: f.coord,
		Affinity:  f.driver,
		Poller:    f.poller,
		Sender:    f.sender,
		Bus:       f.bus,
		Logger:    logger,
	}, opts)
	t.Cleanup(f.session.Close)

	f.actions = NewActionService(ActionDeps{
		State:       f.store,
		Gate:        f.gate,
		Outbound:    f.outbound,
		Sender:      f.sender,
		Interrupter: f.coord,
		Player:      f.player,
		Avatar:      f.avatar,
		KV:          f.kv,
		Bus:         f.bus,
		Logger:      logger,
	})
	return f
}

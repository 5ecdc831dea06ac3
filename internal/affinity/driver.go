package affinity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/companion/domain/entities"
	"github.com/satriahrh/arunika/companion/domain/repositories"
)

// Cue is the visual reaction to an affinity event.
type Cue string

const (
	CueIncrease  Cue = "increase"
	CueDecrease  Cue = "decrease"
	CueHeartbeat Cue = "heartbeat"
)

const (
	DefaultChangeCueDuration  = 3 * time.Second
	DefaultHeartbeatDuration  = time.Second
	DefaultMilestoneDuration  = 5 * time.Second
	DefaultExpressionDuration = 3 * time.Second

	persistTimeout = 2 * time.Second
)

// CueEvent describes one cue. Delta is signed.
type CueEvent struct {
	Cue       Cue       `json:"cue"`
	Delta     float64   `json:"delta"`
	Value     float64   `json:"value"`
	Level     string    `json:"level"`
	HeartRate float64   `json:"heart_rate"`
	Intensity float64   `json:"intensity"`
	At        time.Time `json:"at"`
}

// View is what a presenter needs to draw the heart.
type View struct {
	State      entities.AffinityState      `json:"state"`
	Known      bool                        `json:"known"`
	HeartRate  float64                     `json:"heart_rate"`
	Intensity  float64                     `json:"intensity"`
	Cue        *CueEvent                   `json:"cue,omitempty"`
	Milestone  string                      `json:"milestone,omitempty"`
	Expression *entities.EmotionExpression `json:"expression,omitempty"`
}

// Durations controls how long each presentational element stays up.
type Durations struct {
	ChangeCue  time.Duration
	Heartbeat  time.Duration
	Milestone  time.Duration
	Expression time.Duration
}

func DefaultDurations() Durations {
	return Durations{
		ChangeCue:  DefaultChangeCueDuration,
		Heartbeat:  DefaultHeartbeatDuration,
		Milestone:  DefaultMilestoneDuration,
		Expression: DefaultExpressionDuration,
	}
}

// Driver turns affinity events into heart state and time-boxed cues.
type Driver struct {
	kv        repositories.KeyValueStore
	logger    *zap.Logger
	durations Durations

	mu         sync.Mutex
	state      entities.AffinityState
	known      bool
	cue        *CueEvent
	milestone  string
	expression *entities.EmotionExpression
	timers     map[string]*time.Timer
	gens       map[string]uint64

	onChange   func(entities.AffinityState)
	onCue      func(CueEvent)
	onReceived func()
}

func NewDriver(kv repositories.KeyValueStore, logger *zap.Logger, durations Durations) *Driver {
	return &Driver{
		kv:        kv,
		logger:    logger,
		durations: durations,
		state:     entities.AffinityState{Level: entities.DefaultAffinityLevel},
		timers:    make(map[string]*time.Timer),
		gens:      make(map[string]uint64),
	}
}

// OnChange is called after a value or level change was stored.
func (d *Driver) OnChange(fn func(entities.AffinityState)) {
	d.mu.Lock()
	d.onChange = fn
	d.mu.Unlock()
}

// OnCue is called for every cue.
func (d *Driver) OnCue(fn func(CueEvent)) {
	d.mu.Lock()
	d.onCue = fn
	d.mu.Unlock()
}

// OnReceived is called whenever an affinity value arrives.
func (d *Driver) OnReceived(fn func()) {
	d.mu.Lock()
	d.onReceived = fn
	d.mu.Unlock()
}

// Seed loads the last persisted score so the first event has something to
// compare against.
func (d *Driver) Seed(ctx context.Context) error {
	raw, err := d.kv.Get(ctx, repositories.KeyAffinity)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load affinity: %w", err)
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		d.logger.Warn("Ignoring invalid persisted affinity", zap.String("value", raw))
		return nil
	}
	level, err := d.kv.Get(ctx, repositories.KeyAffinityLevel)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return fmt.Errorf("load affinity level: %w", err)
	}

	d.mu.Lock()
	d.state.Value = value
	if level != "" {
		d.state.Level = level
	}
	d.known = true
	d.mu.Unlock()
	return nil
}

// HandleRaw applies whatever affinity content raw carries. It reports whether
// raw was affinity traffic.
func (d *Driver) HandleRaw(raw map[string]any) bool {
	sig, ok := Extract(raw)
	if !ok {
		return false
	}
	switch sig.Kind {
	case SignalValue:
		d.Apply(sig.Affinity)
	case SignalMilestone:
		d.ShowMilestone(sig.Milestone)
	case SignalExpression:
		d.ShowExpression(sig.Expression)
	}
	return true
}

// Apply processes one affinity value and returns the cue it produced.
func (d *Driver) Apply(a entities.Affinity) (CueEvent, bool) {
	if a.Value == nil {
		return CueEvent{}, false
	}
	value := *a.Value

	d.mu.Lock()
	prev, had := d.state, d.known

	ev := CueEvent{Cue: CueHeartbeat, Value: value, At: time.Now()}
	switch {
	case had && value > prev.Value:
		ev.Cue, ev.Delta = CueIncrease, value-prev.Value
	case had && value < prev.Value:
		ev.Cue, ev.Delta = CueDecrease, value-prev.Value
	}

	changed := !had || value != prev.Value || (a.Level != "" && a.Level != prev.Level)
	if changed {
		d.state.Value = value
		if a.Level != "" {
			d.state.Level = a.Level
		}
		d.known = true
	}
	ev.Level = d.state.Level
	ev.HeartRate = d.state.HeartRate()
	ev.Intensity = d.state.Intensity()
	d.cue = &ev

	hold := d.durations.ChangeCue
	if ev.Cue == CueHeartbeat {
		hold = d.durations.Heartbeat
	}
	d.armLocked("cue", hold, func() { d.cue = nil })

	st := d.state
	onChange, onCue, onReceived := d.onChange, d.onCue, d.onReceived
	d.mu.Unlock()

	if a.UserID != "" {
		d.logger.Debug("Affinity received", zap.String("userID", a.UserID), zap.Float64("value", value))
	}

	if changed {
		d.persist(st, a.Level != "")
		d.logger.Info("Affinity updated",
			zap.Float64("value", st.Value),
			zap.String("level", st.Level),
			zap.Float64("heartRate", ev.HeartRate))
		if onChange != nil {
			onChange(st)
		}
	}
	if onCue != nil {
		onCue(ev)
	}
	if onReceived != nil {
		onReceived()
	}
	return ev, true
}

// ShowMilestone displays a celebration line for a while.
func (d *Driver) ShowMilestone(m entities.AffinityMilestone) {
	text := "✦ " + m.Text
	if m.Level != "" {
		name := entities.AffinityLevelName(m.Level)
		if name == "" {
			name = m.Level
		}
		text = fmt.Sprintf("✦ %s (closeness: %s)", m.Text, name)
	}

	d.mu.Lock()
	d.milestone = text
	d.armLocked("milestone", d.durations.Milestone, func() { d.milestone = "" })
	d.mu.Unlock()

	d.logger.Info("Affinity milestone", zap.String("milestone", text))
}

// ShowExpression displays an emotion badge for a while.
func (d *Driver) ShowExpression(e entities.EmotionExpression) {
	d.mu.Lock()
	d.expression = &e
	d.armLocked("expression", d.durations.Expression, func() { d.expression = nil })
	d.mu.Unlock()
}

func (d *Driver) State() (entities.AffinityState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state, d.known
}

func (d *Driver) View() View {
	d.mu.Lock()
	defer d.mu.Unlock()

	v := View{
		State:     d.state,
		Known:     d.known,
		HeartRate: d.state.HeartRate(),
		Intensity: d.state.Intensity(),
		Milestone: d.milestone,
	}
	if !d.known {
		v.HeartRate = entities.MinHeartRate
		v.Intensity = entities.MinHeartbeatIntensity
	}
	if d.cue != nil {
		c := *d.cue
		v.Cue = &c
	}
	if d.expression != nil {
		e := *d.expression
		v.Expression = &e
	}
	return v
}

// Close cancels pending auto-clear timers.
func (d *Driver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, t := range d.timers {
		t.Stop()
		d.gens[name]++
	}
	d.timers = make(map[string]*time.Timer)
}

// armLocked replaces the named timer. The clear func runs under mu and only
// if no newer timer replaced it.
func (d *Driver) armLocked(name string, after time.Duration, clear func()) {
	if t := d.timers[name]; t != nil {
		t.Stop()
	}
	d.gens[name]++
	gen := d.gens[name]
	d.timers[name] = time.AfterFunc(after, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.gens[name] != gen {
			return
		}
		clear()
		delete(d.timers, name)
	})
}

func (d *Driver) persist(st entities.AffinityState, withLevel bool) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := d.kv.Set(ctx, repositories.KeyAffinity, strconv.FormatFloat(st.Value, 'f', -1, 64)); err != nil {
		d.logger.Warn("Failed to persist affinity", zap.Error(err))
	}
	if withLevel {
		if err := d.kv.Set(ctx, repositories.KeyAffinityLevel, st.Level); err != nil {
			d.logger.Warn("Failed to persist affinity level", zap.Error(err))
		}
	}
}

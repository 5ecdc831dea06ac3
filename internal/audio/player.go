package audio

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/companion/domain"
	"github.com/satriahrh/arunika/companion/domain/entities"
	"github.com/satriahrh/arunika/companion/domain/repositories"
	"github.com/satriahrh/arunika/companion/internal/taskqueue"
)

const (
	DefaultPlaybackTimeout = 30 * time.Second

	// DefaultDrainWait bounds how long backend-synth-complete waits for the queue.
	DefaultDrainWait = 10 * time.Second

	lipSyncScale     = 2.0
	defaultSliceStep = 20 * time.Millisecond
	drainPoll        = 200 * time.Millisecond
)

// Conversation is the session state a clip reads and writes.
type Conversation interface {
	AiState() entities.AiState
	AppendResponse(text string)
	AppendAIMessage(text, name, avatar string)
}

// Subtitle shows the line being spoken.
type Subtitle interface {
	Set(text string)
}

// Queue is the part of the task queue the player drains against.
type Queue interface {
	HasTask() bool
}

// PlayerDeps are the collaborators of a Player.
type PlayerDeps struct {
	Registry     *Registry
	Loader       repositories.AudioPlayer
	Avatar       repositories.Avatar
	Sender       repositories.Sender
	Conversation Conversation
	Subtitle     Subtitle
	Logger       *zap.Logger
}

// Player turns audio clips into task queue tasks.
type Player struct {
	PlayerDeps
	playbackTimeout time.Duration
}

type PlayerOption func(*Player)

func WithPlaybackTimeout(d time.Duration) PlayerOption {
	return func(p *Player) { p.playbackTimeout = d }
}

func NewPlayer(deps PlayerDeps, opts ...PlayerOption) *Player {
	p := &Player{PlayerDeps: deps, playbackTimeout: DefaultPlaybackTimeout}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Task returns the queue task that plays clip. The task never fails; playback
// problems are logged and the queue moves on.
func (p *Player) Task(clip entities.AudioClip) taskqueue.Task {
	return func(ctx context.Context) error {
		p.play(ctx, clip)
		return nil
	}
}

func (p *Player) play(ctx context.Context, clip entities.AudioClip) {
	if p.Conversation.AiState() == entities.AiStateInterrupted {
		p.Logger.Warn("Audio playback blocked by interruption")
		return
	}

	if dt := clip.DisplayText; dt != nil {
		p.Conversation.AppendResponse(dt.Text)
		p.Conversation.AppendAIMessage(dt.Text, dt.Name, dt.Avatar)
		if clip.AudioBase64 != "" {
			p.Subtitle.Set(dt.Text)
		}
		if !clip.Forwarded {
			msg := domain.AudioPlayStart{Type: domain.TypeAudioPlayStart, DisplayText: dt, Forwarded: true}
			if err := p.Sender.Send(msg); err != nil {
				p.Logger.Warn("Failed to announce audio playback", zap.Error(err))
			}
		}
	}

	if clip.AudioBase64 == "" {
		return
	}

	if len(clip.Expressions) > 0 && clip.Expressions[0] != "" {
		p.Avatar.SetExpression(clip.Expressions[0])
	}
	p.Avatar.StartMotion(repositories.MotionTalk, repositories.PriorityNormal)

	pb, err := p.Loader.Load(ctx, clip.AudioBase64)
	if err != nil {
		p.Logger.Error("Failed to load audio clip", zap.String("file", clip.FilePath), zap.Error(err))
		return
	}
	gen := p.Registry.Set(pb)

	var once sync.Once
	cleanup := func(playErr error) {
		once.Do(func() { p.cleanup(clip, pb, gen, playErr) })
	}

	if p.Conversation.AiState() == entities.AiStateInterrupted || !p.Registry.IsCurrent(gen) {
		p.Logger.Warn("Audio playback cancelled before start")
		cleanup(repositories.ErrPlaybackStopped)
		return
	}

	if err := pb.Start(); err != nil {
		p.Logger.Error("Audio play error", zap.Error(err))
		cleanup(err)
		return
	}

	lipCtx, stopLip := context.WithCancel(ctx)
	if p.Registry.AttachLipSync(gen, stopLip) {
		go p.lipSync(lipCtx, clip)
	} else {
		stopLip()
	}
	defer stopLip()

	timer := time.NewTimer(p.playbackTimeout)
	defer timer.Stop()

	select {
	case err := <-pb.Done():
		if err != nil && !errors.Is(err, repositories.ErrPlaybackStopped) {
			p.Logger.Error("Audio playback error", zap.Error(err))
		}
		cleanup(err)
	case <-timer.C:
		p.Logger.Warn("Audio playback timeout, forcing cleanup", zap.Duration("timeout", p.playbackTimeout))
		cleanup(nil)
	case <-ctx.Done():
		cleanup(ctx.Err())
	}
}

// cleanup releases the clip and, when it really played, tells the server the
// audio file can be released.
func (p *Player) cleanup(clip entities.AudioClip, pb repositories.Playback, gen uint64, playErr error) {
	current := p.Registry.IsCurrent(gen)
	position := pb.Position()

	pb.Stop()
	if p.Registry.ClearIf(gen) {
		p.Avatar.SetMouthOpen(0)
	}

	if clip.FilePath == "" {
		return
	}
	if playErr != nil || position <= 0 || !current {
		p.Logger.Warn("Audio may not have played, skipping completion notice",
			zap.String("file", clip.FilePath),
			zap.Bool("error", playErr != nil),
			zap.Duration("position", position))
		return
	}

	msg := domain.PlaybackComplete{
		Type:             domain.TypePlaybackComplete,
		AudioFilePath:    clip.FilePath,
		TTSEngineClass:   clip.TTSEngineClass,
		Timestamp:        time.Now().UnixMilli(),
		PlaybackDuration: position.Seconds(),
	}
	if err := p.Sender.Send(msg); err != nil {
		p.Logger.Error("Failed to send playback completion", zap.String("file", clip.FilePath), zap.Error(err))
		return
	}
	p.Logger.Debug("Playback completion sent",
		zap.String("file", clip.FilePath),
		zap.Duration("position", position))
}

// lipSync drives the mouth from the per-slice volumes.
func (p *Player) lipSync(ctx context.Context, clip entities.AudioClip) {
	step := time.Duration(clip.SliceLength * float64(time.Millisecond))
	if step <= 0 {
		step = defaultSliceStep
	}
	ticker := time.NewTicker(step)
	defer ticker.Stop()
	defer p.Avatar.SetMouthOpen(0)

	for _, v := range clip.Volumes {
		p.Avatar.SetMouthOpen(math.Min(1, math.Max(0, v*lipSyncScale)))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// StopCurrentAudioAndLipSync halts whatever is playing and resets the avatar.
func (p *Player) StopCurrentAudioAndLipSync() {
	if p.Registry.StopCurrent() {
		p.Logger.Debug("Stopped current audio")
	}
	p.Avatar.SetMouthOpen(0)
	p.Avatar.StopMotions()
}

// HasActivity reports whether a clip is registered as playing.
func (p *Player) HasActivity() bool {
	return p.Registry.HasCurrent()
}

// WaitDrained waits up to maxWait for q to empty, then stops any audio left.
// It is the response to backend-synth-complete.
func (p *Player) WaitDrained(ctx context.Context, q Queue, maxWait time.Duration) {
	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()

	for q.HasTask() {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			p.Logger.Warn("Audio queue wait timeout, forcing completion", zap.Duration("maxWait", maxWait))
			p.StopCurrentAudioAndLipSync()
			return
		case <-ticker.C:
		}
	}
	p.StopCurrentAudioAndLipSync()
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/companion/domain"
	"github.com/satriahrh/arunika/companion/domain/entities"
	"github.com/satriahrh/arunika/companion/domain/repositories"
	"github.com/satriahrh/arunika/companion/internal/billing"
	"github.com/satriahrh/arunika/companion/internal/eventbus"
)

var (
	ErrEmptyText      = errors.New("text is empty")
	ErrBillingDenied  = errors.New("action denied by billing")
	ErrMissingHistory = errors.New("history uid is required")
)

// Gate decides whether a metered action may run.
type Gate interface {
	CheckAndDeduct(ctx context.Context) bool
}

// OutboundQueue paces user-typed messages.
type OutboundQueue interface {
	Enqueue(payload any) string
}

// ActionDeps are the collaborators of an ActionService.
type ActionDeps struct {
	State       *Transcript
	Gate        Gate
	Outbound    OutboundQueue
	Sender      repositories.Sender
	Interrupter Interrupter
	Player      ClipPlayer
	Avatar      repositories.Avatar
	KV          repositories.KeyValueStore
	Bus         Publisher
	Identity    func() entities.Identity
	Logger      *zap.Logger
}

// ActionService performs user-originated actions.
type ActionService struct {
	ActionDeps

	visitOnce sync.Once
	visits    int
	visitErr  error
}

func NewActionService(deps ActionDeps) *ActionService {
	if deps.Identity == nil {
		deps.Identity = entities.Guest
	}
	return &ActionService{ActionDeps: deps}
}

// RecordVisit increments the persisted visit counter. Only the first call in
// a process counts.
func (s *ActionService) RecordVisit(ctx context.Context) (int, error) {
	s.visitOnce.Do(func() {
		count := 0
		raw, err := s.KV.Get(ctx, repositories.KeyVisitCount)
		switch {
		case err == nil:
			if n, convErr := strconv.Atoi(raw); convErr == nil {
				count = n
			}
		case !errors.Is(err, repositories.ErrNotFound):
			s.visitErr = fmt.Errorf("read visit count: %w", err)
			return
		}
		count++
		if err := s.KV.Set(ctx, repositories.KeyVisitCount, strconv.Itoa(count)); err != nil {
			s.visitErr = fmt.Errorf("persist visit count: %w", err)
		}
		s.visits = count
	})
	return s.visits, s.visitErr
}

// ConnectionOpened requests the initial server state and introduces the user.
func (s *ActionService) ConnectionOpened(ctx context.Context) {
	for _, t := range []string{
		domain.TypeFetchBackgrounds,
		domain.TypeFetchConfigs,
		domain.TypeFetchHistoryList,
		domain.TypeCreateNewHistory,
	} {
		s.send(domain.Simple{Type: t})
	}
	s.send(s.userContext(ctx))
}

func (s *ActionService) userContext(ctx context.Context) domain.UserContext {
	visits := s.visits
	if visits < 1 {
		visits = 1
		if raw, err := s.KV.Get(ctx, repositories.KeyVisitCount); err == nil {
			if n, convErr := strconv.Atoi(raw); convErr == nil && n > 0 {
				visits = n
			}
		}
	}

	msg := domain.UserContext{
		Type:        domain.TypeUserContext,
		VisitCount:  visits,
		IsReturning: visits > 1,
		UserFields:  domain.NewUserFields(s.Identity()),
	}
	if level, err := s.KV.Get(ctx, repositories.KeyAffinityLevel); err == nil {
		msg.AffinityLevel = level
	}
	if raw, err := s.KV.Get(ctx, repositories.KeyAffinity); err == nil && raw != "" {
		if v, convErr := strconv.ParseFloat(raw, 64); convErr == nil {
			msg.AffinityValue = &v
		}
	}
	return msg
}

// SendText sends typed input. A reply in progress is interrupted first.
func (s *ActionService) SendText(ctx context.Context, text string, images []entities.Image) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	if !s.Gate.CheckAndDeduct(ctx) {
		return ErrBillingDenied
	}

	if s.State.AiState() == entities.AiStateThinkingSpeaking || s.Player.HasActivity() {
		s.Interrupter.Interrupt(true)
	}

	s.State.AppendHumanMessage(text)
	if images == nil {
		images = []entities.Image{}
	}
	id := s.Outbound.Enqueue(domain.TextInput{
		Type:          domain.TypeTextInput,
		Text:          text,
		Images:        images,
		AccountFields: domain.NewAccountFields(s.Identity()),
	})
	s.State.SetMicOn(false)

	s.Logger.Debug("Text input queued", zap.String("id", id), zap.Int("images", len(images)))
	return nil
}

// SendAudio streams recorded samples in fixed-size chunks and ends the turn.
func (s *ActionService) SendAudio(ctx context.Context, samples []float64, images []entities.Image) error {
	if !s.Gate.CheckAndDeduct(ctx) {
		return ErrBillingDenied
	}

	id := s.Identity()
	for start := 0; start < len(samples); start += domain.MicChunkSize {
		end := min(start+domain.MicChunkSize, len(samples))
		chunk := domain.MicAudioData{
			Type:       domain.TypeMicAudioData,
			Audio:      samples[start:end],
			UserFields: domain.NewUserFields(id),
		}
		if err := s.Sender.Send(chunk); err != nil {
			return fmt.Errorf("send audio chunk at %d: %w", start, err)
		}
	}

	if images == nil {
		images = []entities.Image{}
	}
	end := domain.MicAudioEnd{
		Type:          domain.TypeMicAudioEnd,
		Images:        images,
		AccountFields: domain.NewAccountFields(id),
	}
	if err := s.Sender.Send(end); err != nil {
		return fmt.Errorf("send audio end: %w", err)
	}
	return nil
}

// TriggerSpeak asks the companion to speak on its own after idleSeconds of silence.
func (s *ActionService) TriggerSpeak(ctx context.Context, idleSeconds float64, images []entities.Image) error {
	if !s.Gate.CheckAndDeduct(ctx) {
		return ErrBillingDenied
	}
	s.State.SetAiState(entities.AiStateThinkingSpeaking)

	if images == nil {
		images = []entities.Image{}
	}
	msg := domain.AISpeakSignal{Type: domain.TypeAISpeakSignal, IdleTime: idleSeconds, Images: images}
	if err := s.Sender.Send(msg); err != nil {
		return fmt.Errorf("send speak signal: %w", err)
	}
	return nil
}

// Interrupt stops the reply and tells the server what was said.
func (s *ActionService) Interrupt() bool {
	return s.Interrupter.Interrupt(true)
}

func (s *ActionService) FetchHistoryList() error {
	return s.Sender.Send(domain.Simple{Type: domain.TypeFetchHistoryList})
}

// LoadHistory switches the transcript to uid.
func (s *ActionService) LoadHistory(uid string) error {
	if uid == "" {
		return ErrMissingHistory
	}
	if uid == s.State.CurrentHistory() {
		return nil
	}
	if s.Interrupter.CanInterrupt() {
		s.Interrupter.Interrupt(true)
	}
	s.State.SetCurrentHistory(uid)
	s.State.SetMessages(nil)
	return s.Sender.Send(domain.HistoryRef{Type: domain.TypeFetchAndSetHistory, HistoryUID: uid})
}

// CreateHistory starts a new conversation.
func (s *ActionService) CreateHistory() error {
	if s.Interrupter.CanInterrupt() {
		s.Interrupter.Interrupt(true)
	}
	return s.Sender.Send(domain.Simple{Type: domain.TypeCreateNewHistory})
}

func (s *ActionService) PinHistory(uid string, pinned bool) error {
	if uid == "" {
		return ErrMissingHistory
	}
	return s.Sender.Send(domain.PinHistory{Type: domain.TypePinHistory, HistoryUID: uid, Pinned: pinned})
}

func (s *ActionService) RenameHistory(uid, title string) error {
	if uid == "" {
		return ErrMissingHistory
	}
	return s.Sender.Send(domain.RenameHistory{
		Type:       domain.TypeRenameHistory,
		HistoryUID: uid,
		NewTitle:   strings.TrimSpace(title),
	})
}

func (s *ActionService) DeleteHistory(uid string) error {
	if uid == "" {
		return ErrMissingHistory
	}
	return s.Sender.Send(domain.HistoryRef{Type: domain.TypeDeleteHistory, HistoryUID: uid})
}

// Tap plays the tap motion of the avatar region at x, y and returns the
// region, or "" on a miss.
func (s *ActionService) Tap(x, y float64) string {
	region := s.Avatar.HitTest(x, y)
	if region == "" {
		return ""
	}
	s.Avatar.StartMotion("Tap"+region, repositories.PriorityNormal)
	s.Logger.Debug("Avatar tapped", zap.String("region", region))
	return region
}

// BillingDenied publishes a denial for whoever shows the blocking notice.
func (s *ActionService) BillingDenied(d billing.Denial) {
	if err := s.Bus.Publish(eventbus.TopicBillingDenied, d); err != nil {
		s.Logger.Warn("Failed to publish billing denial", zap.Error(err))
	}
}

// CreditsUpdated records the balance the server reported.
func (s *ActionService) CreditsUpdated(balance float64) {
	s.State.SetCredits(balance)
}

func (s *ActionService) send(msg any) {
	if err := s.Sender.Send(msg); err != nil {
		s.Logger.Warn("Failed to send message", zap.String("type", fmt.Sprintf("%T", msg)), zap.Error(err))
	}
}

package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/companion/domain"
	"github.com/satriahrh/arunika/companion/domain/entities"
	"github.com/satriahrh/arunika/companion/domain/repositories"
	"github.com/satriahrh/arunika/companion/internal/affinity"
	"github.com/satriahrh/arunika/companion/internal/audio"
	"github.com/satriahrh/arunika/companion/internal/eventbus"
	"github.com/satriahrh/arunika/companion/internal/state"
	"github.com/satriahrh/arunika/companion/internal/subtitle"
	"github.com/satriahrh/arunika/companion/internal/taskqueue"
	"github.com/satriahrh/arunika/companion/internal/websocket"
)

const tracerName = "github.com/satriahrh/arunika/companion/usecase"

const (
	memoryToastLimit = 40

	subtitleCharacterLoaded = "Character loaded"
	subtitleNewConversation = "New conversation started"
)

// Toast levels.
const (
	ToastInfo    = "info"
	ToastSuccess = "success"
	ToastError   = "error"
)

// Toast is a transient notification for whoever presents the session.
type Toast struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// AudioTasks is the audio task queue.
type AudioTasks interface {
	AddTask(task taskqueue.Task)
	Clear()
	HasTask() bool
}

// ClipPlayer plays audio clips through the task queue.
type ClipPlayer interface {
	Task(clip entities.AudioClip) taskqueue.Task
	StopCurrentAudioAndLipSync()
	HasActivity() bool
	WaitDrained(ctx context.Context, q audio.Queue, maxWait time.Duration)
}

// Interrupter is the stop-everything action.
type Interrupter interface {
	CanInterrupt() bool
	Interrupt(sendSignal bool) bool
}

// AffinitySink receives relationship signals.
type AffinitySink interface {
	HandleRaw(raw map[string]any) bool
	Apply(a entities.Affinity) (affinity.CueEvent, bool)
	ShowMilestone(m entities.AffinityMilestone)
	ShowExpression(e entities.EmotionExpression)
}

// AffinityPoller requests affinity data until the server answers.
type AffinityPoller interface {
	ConnectionOpened()
	ConnectionClosed()
}

// Subtitles is the subtitle line.
type Subtitles interface {
	Set(text string)
	Clear()
}

// SessionDeps are the collaborators of a SessionService.
type SessionDeps struct {
	State     *Transcript
	Subtitle  Subtitles
	Tasks     AudioTasks
	Player    ClipPlayer
	Interrupt Interrupter
	Affinity  AffinitySink
	Poller    AffinityPoller
	Sender    repositories.Sender
	Bus       Publisher
	Logger    *zap.Logger
}

// SessionOptions tune inbound handling.
type SessionOptions struct {
	// BaseURL prefixes relative model URLs.
	BaseURL      string
	AutoStartMic bool
	DrainWait    time.Duration
}

// SessionService applies inbound server events to the session.
type SessionService struct {
	SessionDeps
	opts   SessionOptions
	tracer trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	ignoreStartMic bool
}

func NewSessionService(deps SessionDeps, opts SessionOptions) *SessionService {
	if opts.DrainWait <= 0 {
		opts.DrainWait = audio.DefaultDrainWait
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &SessionService{
		SessionDeps: deps,
		opts:        opts,
		tracer:      otel.Tracer(tracerName),
		ctx:         ctx,
		cancel:      cancel,
	}
	deps.State.OnAiStateChange(func(prev, next entities.AiState) {
		payload := map[string]string{"prev": string(prev), "next": string(next)}
		if err := s.Bus.Publish(eventbus.TopicAIState, payload); err != nil {
			s.Logger.Warn("Failed to publish AI state", zap.Error(err))
		}
	})
	return s
}

// ConnectionOpened resets per-connection state. The server opens every
// connection with a start-mic that must not turn the microphone on.
func (s *SessionService) ConnectionOpened() {
	s.mu.Lock()
	s.ignoreStartMic = true
	s.mu.Unlock()
	s.Poller.ConnectionOpened()
}

func (s *SessionService) ConnectionClosed() {
	s.Poller.ConnectionClosed()
}

// HandleRaw publishes one inbound object on the bus for independent
// consumers, lets the affinity driver look at it, then classifies and
// applies it. Affinity events the driver already applied are not dispatched
// again.
func (s *SessionService) HandleRaw(raw map[string]any) {
	if err := s.Bus.Publish(eventbus.TopicInbound, raw); err != nil {
		s.Logger.Warn("Failed to publish inbound message", zap.Error(err))
	}

	// The affinity driver classifies every object on its own terms.
	affinityHandled := s.Affinity.HandleRaw(raw)

	ev := websocket.Normalize(raw)
	if ev == nil {
		if !affinityHandled {
			s.Logger.Debug("Dropping unrecognized message", zap.Any("type", raw["type"]))
		}
		return
	}
	if affinityHandled && isAffinityKind(ev.Kind()) {
		return
	}

	_, span := s.tracer.Start(s.ctx, "inbound "+string(ev.Kind()),
		trace.WithAttributes(attribute.String("companion.event_kind", string(ev.Kind()))))
	defer span.End()

	s.Dispatch(ev)
}

// Dispatch applies one normalized event.
func (s *SessionService) Dispatch(ev entities.SessionEvent) {
	switch e := ev.(type) {
	case entities.Control:
		s.handleControl(e.Command)
	case entities.ModelConfig:
		s.handleModelConfig(e)
	case entities.SubtitleText:
		s.Subtitle.Set(e.Text)
	case entities.AudioClip:
		s.handleAudio(e)
	case entities.ConfigFiles:
		s.State.SetConfigFiles(e.Configs)
	case entities.ConfigSwitched:
		s.State.SetAiState(entities.AiStateIdle)
		s.Subtitle.Set(subtitleCharacterLoaded)
		s.toast(ToastSuccess, "Character switched")
		s.send(domain.Simple{Type: domain.TypeFetchHistoryList})
		s.send(domain.Simple{Type: domain.TypeCreateNewHistory})
	case entities.BackgroundFiles:
		s.State.SetBackgroundFiles(e.Files)
	case entities.HistoryList:
		s.State.SetHistories(e.Histories)
		if len(e.Histories) > 0 {
			s.State.SetCurrentHistory(e.Histories[0].UID)
		}
	case entities.HistoryData:
		s.State.SetMessages(e.Messages)
		s.toast(ToastSuccess, "History loaded")
	case entities.HistoryCreated:
		s.handleHistoryCreated(e)
	case entities.HistoryMutation:
		s.handleHistoryMutation(e)
	case entities.UserTranscription:
		s.State.AppendHumanMessage(e.Text)
	case entities.ToolCallStatus:
		s.handleToolCall(e)
	case entities.WorkspaceUpdate:
		// Consumed by the MCP aggregator from the inbound stream.
	case entities.Affinity:
		s.Affinity.Apply(e)
	case entities.AffinityMilestone:
		s.Affinity.ShowMilestone(e)
	case entities.EmotionExpression:
		s.Affinity.ShowExpression(e)
	case entities.RelationshipCard:
		s.State.SetRelationshipCard(e)
	case entities.GroupUpdate:
		s.State.SetGroup(e)
	case entities.GroupOperationResult:
		level := ToastError
		if e.Success {
			level = ToastSuccess
		}
		s.toast(level, e.Message)
	case entities.BackendSynthComplete:
		s.State.SetBackendSynthComplete(true)
		go s.Player.WaitDrained(s.ctx, s.Tasks, s.opts.DrainWait)
	case entities.ForceNewMessage:
		s.State.SetForceNewMessage(true)
	case entities.InterruptSignal:
		s.Interrupt.Interrupt(false)
	case entities.AudioStop:
		s.Tasks.Clear()
		s.Player.StopCurrentAudioAndLipSync()
	case entities.Error:
		s.toast(ToastError, e.Message)
	default:
		s.Logger.Warn("Unhandled session event", zap.String("kind", string(ev.Kind())))
	}
}

func (s *SessionService) handleControl(command string) {
	switch command {
	case entities.CommandStartMic:
		s.mu.Lock()
		ignore := s.ignoreStartMic
		s.ignoreStartMic = false
		s.mu.Unlock()
		if ignore {
			s.Logger.Debug("Ignoring initial start-mic")
			return
		}
		s.State.SetMicOn(true)
	case entities.CommandStopMic:
		s.State.SetMicOn(false)
	case entities.CommandConversationChainStart:
		s.State.SetAiState(entities.AiStateThinkingSpeaking)
		s.Tasks.Clear()
		s.State.ClearResponse()
		s.Subtitle.Set(subtitle.ThinkingPlaceholder)
	case entities.CommandConversationChainEnd:
		s.Tasks.AddTask(func(ctx context.Context) error {
			if s.State.CompareAndSetAiState(entities.AiStateThinkingSpeaking, entities.AiStateIdle) && s.opts.AutoStartMic {
				s.State.SetMicOn(true)
			}
			return nil
		})
	default:
		s.Logger.Warn("Unknown control command", zap.String("command", command))
	}
}

func (s *SessionService) handleModelConfig(e entities.ModelConfig) {
	s.State.SetAiState(entities.AiStateLoading)

	info := make(map[string]any, len(e.ModelInfo))
	for k, v := range e.ModelInfo {
		info[k] = v
	}
	if url, ok := info["url"].(string); ok && url != "" && !strings.HasPrefix(url, "http") {
		info["url"] = s.opts.BaseURL + url
	}
	s.State.SetModel(state.ModelInfo{
		ConfName:  e.ConfName,
		ConfUID:   e.ConfUID,
		ClientUID: e.ClientUID,
		Model:     info,
	})
	s.Logger.Info("Model configured", zap.String("conf", e.ConfName), zap.String("confUID", e.ConfUID))

	s.State.SetAiState(entities.AiStateIdle)
}

func (s *SessionService) handleAudio(clip entities.AudioClip) {
	switch st := s.State.AiState(); st {
	case entities.AiStateInterrupted, entities.AiStateListening:
		text := ""
		if clip.DisplayText != nil {
			text = clip.DisplayText.Text
		}
		s.Logger.Debug("Audio dropped", zap.String("aiState", string(st)), zap.String("text", text))
		return
	}
	s.Tasks.AddTask(s.Player.Task(clip))
}

func (s *SessionService) handleHistoryCreated(e entities.HistoryCreated) {
	s.State.SetAiState(entities.AiStateIdle)
	s.Subtitle.Set(subtitleNewConversation)
	if e.HistoryUID == "" {
		return
	}

	s.State.SetCurrentHistory(e.HistoryUID)
	s.State.SetMessages(nil)
	created := entities.HistoryInfo{UID: e.HistoryUID, Timestamp: time.Now().UTC().Format(time.RFC3339)}
	s.State.SetHistories(append([]entities.HistoryInfo{created}, s.State.Histories()...))
	s.toast(ToastSuccess, "New chat history created")
}

func (s *SessionService) handleHistoryMutation(e entities.HistoryMutation) {
	switch e.Op {
	case entities.HistoryOpDeleted:
		if !e.Success {
			s.toast(ToastError, "Failed to delete history")
			return
		}
		if e.HistoryUID != "" {
			s.State.RemoveHistory(e.HistoryUID)
		}
		s.toast(ToastSuccess, "History deleted")
	case entities.HistoryOpPinned, entities.HistoryOpRenamed:
		action := "Pin"
		if e.Op == entities.HistoryOpRenamed {
			action = "Rename"
		}
		if !e.Success {
			s.toast(ToastError, action+" failed")
			return
		}
		s.send(domain.Simple{Type: domain.TypeFetchHistoryList})
		s.toast(ToastSuccess, action+" succeeded")
	}
}

func (s *SessionService) handleToolCall(e entities.ToolCallStatus) {
	if e.ToolID == "" || e.ToolName == "" || e.Status == "" {
		s.Logger.Warn("Incomplete tool_call_status", zap.String("toolID", e.ToolID), zap.String("tool", e.ToolName))
		return
	}
	s.State.UpsertToolCall(e)

	if e.Status != string(entities.McpStatusCompleted) || !isMemoryStore(e.ToolName) {
		return
	}
	content := e.Content
	if content == "" {
		content = e.ToolName
	}
	if r := []rune(content); len(r) > memoryToastLimit {
		content = string(r[:memoryToastLimit]) + "..."
	}
	s.toast(ToastInfo, "Remembered: "+content)
}

func isAffinityKind(k entities.EventKind) bool {
	return k == entities.EventAffinity || k == entities.EventAffinityMilestone || k == entities.EventEmotionExpression
}

func isMemoryStore(tool string) bool {
	return tool == "memory_store" || tool == "store_memory" || strings.Contains(strings.ToLower(tool), "memory_store")
}

func (s *SessionService) toast(level, message string) {
	if message == "" {
		return
	}
	if err := s.Bus.Publish(eventbus.TopicToast, Toast{Level: level, Message: message}); err != nil {
		s.Logger.Warn("Failed to publish toast", zap.Error(err))
	}
}

func (s *SessionService) send(msg any) {
	if err := s.Sender.Send(msg); err != nil {
		s.Logger.Warn("Failed to send message", zap.String("type", fmt.Sprintf("%T", msg)), zap.Error(err))
	}
}

// Close cancels background drains started by backend-synth-complete.
func (s *SessionService) Close() {
	s.cancel()
}

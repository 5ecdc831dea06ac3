package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/satriahrh/arunika/companion/domain/entities"
)

// StateListener observes AiState transitions.
type StateListener func(prev, next entities.AiState)

// ModelInfo is the character configuration the server reported last.
type ModelInfo struct {
	ConfName  string         `json:"conf_name"`
	ConfUID   string         `json:"conf_uid"`
	ClientUID string         `json:"client_uid"`
	Model     map[string]any `json:"model_info,omitempty"`
}

// Snapshot is a copy of the store for read-only consumers.
type Snapshot struct {
	AiState              entities.AiState           `json:"ai_state"`
	Response             string                     `json:"response"`
	Messages             []entities.ChatMessage     `json:"messages"`
	Histories            []entities.HistoryInfo     `json:"histories"`
	CurrentHistoryUID    string                     `json:"current_history_uid"`
	Model                ModelInfo                  `json:"model"`
	ConfigFiles          []entities.ConfigFile      `json:"config_files"`
	BackgroundFiles      []string                   `json:"background_files"`
	CreditsBalance       *float64                   `json:"credits_balance,omitempty"`
	Group                entities.GroupUpdate       `json:"group"`
	RelationshipCard     *entities.RelationshipCard `json:"relationship_card,omitempty"`
	BackendSynthComplete bool                       `json:"backend_synth_complete"`
	MicOn                bool                       `json:"mic_on"`
}

// Store is the conversation state shared by the dispatcher, the audio task
// and the outbound actions.
type Store struct {
	mu        sync.RWMutex
	aiState   entities.AiState
	response  string
	messages  []entities.ChatMessage
	histories []entities.HistoryInfo
	current   string
	model     ModelInfo
	configs   []entities.ConfigFile
	bgFiles   []string
	credits   *float64
	group     entities.GroupUpdate
	card      *entities.RelationshipCard
	synthDone bool
	micOn     bool
	forceNew  bool

	listenerMu sync.Mutex
	listeners  []StateListener
	// notifyMu keeps listener calls in transition order.
	notifyMu sync.Mutex
}

func New() *Store {
	return &Store{aiState: entities.AiStateIdle}
}

// OnAiStateChange registers l; listeners run in registration order.
func (s *Store) OnAiStateChange(l StateListener) {
	s.listenerMu.Lock()
	s.listeners = append(s.listeners, l)
	s.listenerMu.Unlock()
}

func (s *Store) AiState() entities.AiState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aiState
}

// SetAiState stores next and notifies listeners when it differs.
func (s *Store) SetAiState(next entities.AiState) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	prev := s.aiState
	s.aiState = next
	s.mu.Unlock()
	if prev == next {
		return
	}

	s.listenerMu.Lock()
	listeners := append([]StateListener(nil), s.listeners...)
	s.listenerMu.Unlock()
	for _, l := range listeners {
		l(prev, next)
	}
}

// CompareAndSetAiState moves to next only from expected.
func (s *Store) CompareAndSetAiState(expected, next entities.AiState) bool {
	if s.AiState() != expected {
		return false
	}
	s.SetAiState(next)
	return true
}

func (s *Store) AppendResponse(text string) {
	s.mu.Lock()
	s.response += text
	s.mu.Unlock()
}

func (s *Store) ClearResponse() {
	s.mu.Lock()
	s.response = ""
	s.mu.Unlock()
}

func (s *Store) Response() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.response
}

// AppendHumanMessage adds a user line to the transcript.
func (s *Store) AppendHumanMessage(text string) entities.ChatMessage {
	msg := entities.ChatMessage{
		ID:        newMessageID(),
		Role:      entities.MessageRoleHuman,
		Content:   text,
		Timestamp: now(),
	}
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	return msg
}

// AppendAIMessage extends the last AI line from the same speaker, or starts a
// new one. A pending force-new-message always starts a new line.
func (s *Store) AppendAIMessage(text, name, avatar string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	forceNew := s.forceNew
	s.forceNew = false
	if n := len(s.messages); n > 0 && !forceNew {
		last := &s.messages[n-1]
		if last.Role == entities.MessageRoleAI && last.Name == name {
			last.Content += text
			return
		}
	}
	s.messages = append(s.messages, entities.ChatMessage{
		ID:        newMessageID(),
		Role:      entities.MessageRoleAI,
		Content:   text,
		Timestamp: now(),
		Name:      name,
		Avatar:    avatar,
	})
}

// UpsertToolCall records a tool call line keyed by tool id.
func (s *Store) UpsertToolCall(status entities.ToolCallStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		m := &s.messages[i]
		if m.Role == entities.MessageRoleTool && m.ToolID == status.ToolID {
			m.Status = status.Status
			if status.Content != "" {
				m.Content = status.Content
			}
			if status.BrowserView != nil {
				m.BrowserView = status.BrowserView
			}
			return
		}
	}

	ts := status.Timestamp
	if ts == "" {
		ts = now()
	}
	s.messages = append(s.messages, entities.ChatMessage{
		ID:          status.ToolID,
		Role:        entities.MessageRoleTool,
		Content:     status.Content,
		Timestamp:   ts,
		ToolID:      status.ToolID,
		ToolName:    status.ToolName,
		Status:      status.Status,
		BrowserView: status.BrowserView,
	})
}

// SetMessages replaces the transcript, e.g. after loading a history.
func (s *Store) SetMessages(msgs []entities.ChatMessage) {
	s.mu.Lock()
	s.messages = append([]entities.ChatMessage(nil), msgs...)
	s.mu.Unlock()
}

func (s *Store) Messages() []entities.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]entities.ChatMessage(nil), s.messages...)
}

// SetHistories replaces the history list. The first entry becomes current
// when none is selected yet or the selected one disappeared.
func (s *Store) SetHistories(list []entities.HistoryInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.histories = append([]entities.HistoryInfo(nil), list...)
	if len(list) == 0 {
		return
	}
	for _, h := range list {
		if h.UID == s.current {
			return
		}
	}
	s.current = list[0].UID
}

func (s *Store) Histories() []entities.HistoryInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]entities.HistoryInfo(nil), s.histories...)
}

func (s *Store) SetCurrentHistory(uid string) {
	s.mu.Lock()
	s.current = uid
	s.mu.Unlock()
}

func (s *Store) CurrentHistory() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// RemoveHistory drops uid from the list and clears it when it was current.
func (s *Store) RemoveHistory(uid string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.histories[:0]
	for _, h := range s.histories {
		if h.UID != uid {
			out = append(out, h)
		}
	}
	s.histories = out
	if s.current == uid {
		s.current = ""
		s.messages = nil
	}
}

func (s *Store) SetModel(m ModelInfo) {
	s.mu.Lock()
	s.model = m
	s.mu.Unlock()
}

func (s *Store) Model() ModelInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

func (s *Store) SetConfigFiles(files []entities.ConfigFile) {
	s.mu.Lock()
	s.configs = append([]entities.ConfigFile(nil), files...)
	s.mu.Unlock()
}

func (s *Store) SetBackgroundFiles(files []string) {
	s.mu.Lock()
	s.bgFiles = append([]string(nil), files...)
	s.mu.Unlock()
}

func (s *Store) SetCredits(balance float64) {
	s.mu.Lock()
	s.credits = &balance
	s.mu.Unlock()
}

func (s *Store) Credits() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.credits == nil {
		return 0, false
	}
	return *s.credits, true
}

func (s *Store) SetGroup(g entities.GroupUpdate) {
	s.mu.Lock()
	s.group = g
	s.mu.Unlock()
}

func (s *Store) SetRelationshipCard(c entities.RelationshipCard) {
	s.mu.Lock()
	s.card = &c
	s.mu.Unlock()
}

func (s *Store) SetBackendSynthComplete(v bool) {
	s.mu.Lock()
	s.synthDone = v
	s.mu.Unlock()
}

func (s *Store) BackendSynthComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.synthDone
}

// SetForceNewMessage makes the next AI line start a new transcript entry.
func (s *Store) SetForceNewMessage(v bool) {
	s.mu.Lock()
	s.forceNew = v
	s.mu.Unlock()
}

func (s *Store) SetMicOn(v bool) {
	s.mu.Lock()
	s.micOn = v
	s.mu.Unlock()
}

func (s *Store) MicOn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.micOn
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		AiState:              s.aiState,
		Response:             s.response,
		Messages:             append([]entities.ChatMessage(nil), s.messages...),
		Histories:            append([]entities.HistoryInfo(nil), s.histories...),
		CurrentHistoryUID:    s.current,
		Model:                s.model,
		ConfigFiles:          append([]entities.ConfigFile(nil), s.configs...),
		BackgroundFiles:      append([]string(nil), s.bgFiles...),
		Group:                s.group,
		BackendSynthComplete: s.synthDone,
		MicOn:                s.micOn,
	}
	if s.credits != nil {
		v := *s.credits
		snap.CreditsBalance = &v
	}
	if s.card != nil {
		c := *s.card
		snap.RelationshipCard = &c
	}
	return snap
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func newMessageID() string {
	return fmt.Sprintf("msg_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

package entities

// EventKind tags a normalized inbound SessionEvent.
type EventKind string

const (
	EventControl              EventKind = "control"
	EventModelConfig          EventKind = "model-config"
	EventSubtitleText         EventKind = "subtitle-text"
	EventAudioClip            EventKind = "audio-clip"
	EventConfigFiles          EventKind = "config-files"
	EventConfigSwitched       EventKind = "config-switched"
	EventBackgroundFiles      EventKind = "background-files"
	EventHistoryList          EventKind = "history-list"
	EventHistoryData          EventKind = "history-data"
	EventHistoryCreated       EventKind = "history-created"
	EventHistoryMutation      EventKind = "history-mutation"
	EventUserTranscription    EventKind = "user-transcription"
	EventToolCallStatus       EventKind = "tool-call-status"
	EventMcpWorkspaceUpdate   EventKind = "mcp-workspace-update"
	EventAffinity             EventKind = "affinity"
	EventAffinityMilestone    EventKind = "affinity-milestone"
	EventEmotionExpression    EventKind = "emotion-expression"
	EventRelationshipCard     EventKind = "relationship-card"
	EventGroupUpdate          EventKind = "group-update"
	EventGroupOperationResult EventKind = "group-operation-result"
	EventBackendSynthComplete EventKind = "backend-synth-complete"
	EventForceNewMessage      EventKind = "force-new-message"
	EventInterruptSignal      EventKind = "interrupt-signal"
	EventAudioStop            EventKind = "audio-stop"
	EventError                EventKind = "error"
)

// SessionEvent is a normalized inbound message. Every implementation carries
// exactly one kind.
type SessionEvent interface {
	Kind() EventKind
}

// Control commands carried by EventControl.
const (
	CommandStartMic               = "start-mic"
	CommandStopMic                = "stop-mic"
	CommandConversationChainStart = "conversation-chain-start"
	CommandConversationChainEnd   = "conversation-chain-end"
)

type Control struct {
	Command string
}

type ModelConfig struct {
	ConfName  string
	ConfUID   string
	ClientUID string
	ModelInfo map[string]any
}

type SubtitleText struct {
	Text string
}

// DisplayText is the transcript line attached to an audio clip.
type DisplayText struct {
	Text   string `json:"text"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// AudioClip is one synthesized utterance. SliceLength is the duration in
// milliseconds covered by each entry of Volumes.
type AudioClip struct {
	AudioBase64    string
	Volumes        []float64
	SliceLength    float64
	DisplayText    *DisplayText
	Expressions    []string
	FilePath       string
	TTSEngineClass string
	Forwarded      bool
}

type ConfigFile struct {
	Filename string `json:"filename"`
	Name     string `json:"name"`
}

type ConfigFiles struct {
	Configs []ConfigFile
}

type ConfigSwitched struct {
	Message string
}

type BackgroundFiles struct {
	Files []string
}

type HistoryList struct {
	Histories []HistoryInfo
}

type HistoryData struct {
	Messages []ChatMessage
}

type HistoryCreated struct {
	HistoryUID string
}

// History mutation acknowledgements.
const (
	HistoryOpDeleted = "history-deleted"
	HistoryOpPinned  = "history-pinned"
	HistoryOpRenamed = "history-renamed"
)

type HistoryMutation struct {
	Op         string
	HistoryUID string
	Success    bool
}

type UserTranscription struct {
	Text string
}

type ToolCallStatus struct {
	ToolID      string
	ToolName    string
	Status      string
	Content     string
	Timestamp   string
	BrowserView map[string]any
}

// Affinity carries a relationship score. Value is nil when only a level was sent.
type Affinity struct {
	Value  *float64
	Level  string
	UserID string
}

type AffinityMilestone struct {
	Text  string
	Level string
}

type EmotionExpression struct {
	Expression string
	Intensity  float64
}

type RelationshipCard struct {
	MemoriesCount int      `json:"memories_count"`
	AffinityLevel string   `json:"affinity_level"`
	AffinityValue float64  `json:"affinity_value"`
	TopTopics     []string `json:"top_topics"`
	DaysTogether  int      `json:"days_together"`
	Summary       string   `json:"summary"`
}

type GroupUpdate struct {
	Members []string `json:"members"`
	IsOwner bool     `json:"is_owner"`
}

type GroupOperationResult struct {
	Success bool
	Message string
}

type BackendSynthComplete struct{}

type ForceNewMessage struct{}

type InterruptSignal struct{}

type AudioStop struct{}

type Error struct {
	Message string
}

func (Control) Kind() EventKind              { return EventControl }
func (ModelConfig) Kind() EventKind          { return EventModelConfig }
func (SubtitleText) Kind() EventKind         { return EventSubtitleText }
func (AudioClip) Kind() EventKind            { return EventAudioClip }
func (ConfigFiles) Kind() EventKind          { return EventConfigFiles }
func (ConfigSwitched) Kind() EventKind       { return EventConfigSwitched }
func (BackgroundFiles) Kind() EventKind      { return EventBackgroundFiles }
func (HistoryList) Kind() EventKind          { return EventHistoryList }
func (HistoryData) Kind() EventKind          { return EventHistoryData }
func (HistoryCreated) Kind() EventKind       { return EventHistoryCreated }
func (HistoryMutation) Kind() EventKind      { return EventHistoryMutation }
func (UserTranscription) Kind() EventKind    { return EventUserTranscription }
func (ToolCallStatus) Kind() EventKind       { return EventToolCallStatus }
func (WorkspaceUpdate) Kind() EventKind      { return EventMcpWorkspaceUpdate }
func (Affinity) Kind() EventKind             { return EventAffinity }
func (AffinityMilestone) Kind() EventKind    { return EventAffinityMilestone }
func (EmotionExpression) Kind() EventKind    { return EventEmotionExpression }
func (RelationshipCard) Kind() EventKind     { return EventRelationshipCard }
func (GroupUpdate) Kind() EventKind          { return EventGroupUpdate }
func (GroupOperationResult) Kind() EventKind { return EventGroupOperationResult }
func (BackendSynthComplete) Kind() EventKind { return EventBackendSynthComplete }
func (ForceNewMessage) Kind() EventKind      { return EventForceNewMessage }
func (InterruptSignal) Kind() EventKind      { return EventInterruptSignal }
func (AudioStop) Kind() EventKind            { return EventAudioStop }
func (Error) Kind() EventKind                { return EventError }

package websocket

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/satriahrh/arunika/companion/domain/entities"
	"github.com/satriahrh/arunika/companion/internal/affinity"
	"github.com/satriahrh/arunika/companion/internal/mcp"
)

// kindByType maps every known inbound `type` tag, historical aliases
// included, to its event kind.
var kindByType = map[string]entities.EventKind{
	"control":                  entities.EventControl,
	"set-model-and-conf":       entities.EventModelConfig,
	"full-text":                entities.EventSubtitleText,
	"audio":                    entities.EventAudioClip,
	"config-files":             entities.EventConfigFiles,
	"config-switched":          entities.EventConfigSwitched,
	"background-files":         entities.EventBackgroundFiles,
	"history-list":             entities.EventHistoryList,
	"history-data":             entities.EventHistoryData,
	"new-history-created":      entities.EventHistoryCreated,
	"history-deleted":          entities.EventHistoryMutation,
	"history-pinned":           entities.EventHistoryMutation,
	"history-renamed":          entities.EventHistoryMutation,
	"user-input-transcription": entities.EventUserTranscription,
	"tool_call_status":         entities.EventToolCallStatus,
	"mcp-workspace-update":     entities.EventMcpWorkspaceUpdate,
	"HeartAffinity":            entities.EventAffinity,
	"heartaffinity":            entities.EventAffinity,
	"heart-affinity":           entities.EventAffinity,
	"heart_affinity":           entities.EventAffinity,
	"affinity":                 entities.EventAffinity,
	"affinity-update":          entities.EventAffinity,
	"affinity_update":          entities.EventAffinity,
	"affinity-data":            entities.EventAffinity,
	"affinity_data":            entities.EventAffinity,
	"affinity-milestone":       entities.EventAffinityMilestone,
	"affinity_milestone":       entities.EventAffinityMilestone,
	"emotion-expression":       entities.EventEmotionExpression,
	"emotion_expression":       entities.EventEmotionExpression,
	"expression":               entities.EventEmotionExpression,
	"relationship-card":        entities.EventRelationshipCard,
	"group-update":             entities.EventGroupUpdate,
	"group-operation-result":   entities.EventGroupOperationResult,
	"backend-synth-complete":   entities.EventBackendSynthComplete,
	"force-new-message":        entities.EventForceNewMessage,
	"interrupt-signal":         entities.EventInterruptSignal,
	"audio-stop":               entities.EventAudioStop,
	"error":                    entities.EventError,
}

type decoder func(raw map[string]any) (entities.SessionEvent, bool)

var decoders = map[entities.EventKind]decoder{
	entities.EventControl:              decodeControl,
	entities.EventModelConfig:          decodeModelConfig,
	entities.EventSubtitleText:         decodeSubtitle,
	entities.EventAudioClip:            decodeAudio,
	entities.EventConfigFiles:          decodeConfigFiles,
	entities.EventConfigSwitched:       decodeConfigSwitched,
	entities.EventBackgroundFiles:      decodeBackgroundFiles,
	entities.EventHistoryList:          decodeHistoryList,
	entities.EventHistoryData:          decodeHistoryData,
	entities.EventHistoryCreated:       decodeHistoryCreated,
	entities.EventHistoryMutation:      decodeHistoryMutation,
	entities.EventUserTranscription:    decodeTranscription,
	entities.EventToolCallStatus:       decodeToolCallStatus,
	entities.EventMcpWorkspaceUpdate:   decodeWorkspaceUpdate,
	entities.EventAffinity:             decodeAffinity,
	entities.EventAffinityMilestone:    decodeAffinity,
	entities.EventEmotionExpression:    decodeAffinity,
	entities.EventRelationshipCard:     decodeRelationshipCard,
	entities.EventGroupUpdate:          decodeGroupUpdate,
	entities.EventGroupOperationResult: decodeGroupResult,
	entities.EventBackendSynthComplete: constant(entities.BackendSynthComplete{}),
	entities.EventForceNewMessage:      constant(entities.ForceNewMessage{}),
	entities.EventInterruptSignal:      constant(entities.InterruptSignal{}),
	entities.EventAudioStop:            constant(entities.AudioStop{}),
	entities.EventError:                decodeError,
}

// KindOf returns the kind a type tag maps to.
func KindOf(msgType string) (entities.EventKind, bool) {
	kind, ok := kindByType[msgType]
	return kind, ok
}

// Normalize classifies an inbound object. It returns nil for anything it
// cannot classify and never panics on malformed input.
func Normalize(raw map[string]any) (event entities.SessionEvent) {
	if raw == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			event = nil
		}
	}()

	msgType, _ := raw["type"].(string)
	if kind, ok := kindByType[msgType]; ok {
		ev, ok := decoders[kind](raw)
		if !ok {
			return nil
		}
		return ev
	}
	return sniff(raw)
}

// sniff classifies untagged (or unknown-tagged) objects by their fields.
func sniff(raw map[string]any) entities.SessionEvent {
	if present(raw, "tool_calls") || present(raw, "user_query") {
		if ev, ok := decodeWorkspaceUpdate(raw); ok {
			return ev
		}
	}
	if present(raw, "tool_name") {
		if ev, ok := decodeToolCallStatus(raw); ok {
			return ev
		}
		if ev, ok := decodeWorkspaceUpdate(raw); ok {
			return ev
		}
	}
	for key := range raw {
		if strings.Contains(strings.ToLower(key), "affinity") {
			if ev, ok := decodeAffinity(raw); ok {
				return ev
			}
			break
		}
	}
	return nil
}

func constant(ev entities.SessionEvent) decoder {
	return func(map[string]any) (entities.SessionEvent, bool) { return ev, true }
}

func decodeControl(raw map[string]any) (entities.SessionEvent, bool) {
	cmd := str(raw["text"])
	if cmd == "" {
		return nil, false
	}
	return entities.Control{Command: cmd}, true
}

func decodeModelConfig(raw map[string]any) (entities.SessionEvent, bool) {
	ev := entities.ModelConfig{
		ConfName:  str(raw["conf_name"]),
		ConfUID:   str(raw["conf_uid"]),
		ClientUID: str(raw["client_uid"]),
	}
	if info, ok := raw["model_info"].(map[string]any); ok {
		ev.ModelInfo = info
	}
	return ev, true
}

func decodeSubtitle(raw map[string]any) (entities.SessionEvent, bool) {
	text := str(raw["text"])
	if text == "" {
		return nil, false
	}
	return entities.SubtitleText{Text: text}, true
}

type wireAudio struct {
	Audio          string                `json:"audio"`
	Volumes        []float64             `json:"volumes"`
	SliceLength    float64               `json:"slice_length"`
	DisplayText    *entities.DisplayText `json:"display_text"`
	AudioFilePath  string                `json:"audio_file_path"`
	TTSEngineClass string                `json:"tts_engine_class"`
	Forwarded      bool                  `json:"forwarded"`
	Actions        struct {
		Expressions []any `json:"expressions"`
	} `json:"actions"`
}

func decodeAudio(raw map[string]any) (entities.SessionEvent, bool) {
	var w wireAudio
	if !decodeInto(raw, &w) {
		return nil, false
	}
	clip := entities.AudioClip{
		AudioBase64:    w.Audio,
		Volumes:        w.Volumes,
		SliceLength:    w.SliceLength,
		DisplayText:    w.DisplayText,
		FilePath:       w.AudioFilePath,
		TTSEngineClass: w.TTSEngineClass,
		Forwarded:      w.Forwarded,
	}
	for _, e := range w.Actions.Expressions {
		switch v := e.(type) {
		case string:
			clip.Expressions = append(clip.Expressions, v)
		case float64:
			clip.Expressions = append(clip.Expressions, fmt.Sprint(v))
		}
	}
	return clip, true
}

func decodeConfigFiles(raw map[string]any) (entities.SessionEvent, bool) {
	var w struct {
		Configs []entities.ConfigFile `json:"configs"`
	}
	if !decodeInto(raw, &w) || w.Configs == nil {
		return nil, false
	}
	return entities.ConfigFiles{Configs: w.Configs}, true
}

func decodeConfigSwitched(raw map[string]any) (entities.SessionEvent, bool) {
	return entities.ConfigSwitched{Message: str(raw["message"])}, true
}

// decodeBackgroundFiles accepts plain names or {name,url} objects.
func decodeBackgroundFiles(raw map[string]any) (entities.SessionEvent, bool) {
	items, ok := raw["files"].([]any)
	if !ok {
		return nil, false
	}
	files := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			files = append(files, v)
		case map[string]any:
			if name := firstStr(v, "url", "name"); name != "" {
				files = append(files, name)
			}
		}
	}
	return entities.BackgroundFiles{Files: files}, true
}

func decodeHistoryList(raw map[string]any) (entities.SessionEvent, bool) {
	var w struct {
		Histories []entities.HistoryInfo `json:"histories"`
	}
	if !decodeInto(raw, &w) || w.Histories == nil {
		return nil, false
	}
	return entities.HistoryList{Histories: w.Histories}, true
}

func decodeHistoryData(raw map[string]any) (entities.SessionEvent, bool) {
	var w struct {
		Messages []entities.ChatMessage `json:"messages"`
	}
	if !decodeInto(raw, &w) {
		return nil, false
	}
	return entities.HistoryData{Messages: w.Messages}, true
}

func decodeHistoryCreated(raw map[string]any) (entities.SessionEvent, bool) {
	return entities.HistoryCreated{HistoryUID: str(raw["history_uid"])}, true
}

func decodeHistoryMutation(raw map[string]any) (entities.SessionEvent, bool) {
	success, _ := raw["success"].(bool)
	return entities.HistoryMutation{
		Op:         str(raw["type"]),
		HistoryUID: str(raw["history_uid"]),
		Success:    success,
	}, true
}

func decodeTranscription(raw map[string]any) (entities.SessionEvent, bool) {
	text := str(raw["text"])
	if text == "" {
		return nil, false
	}
	return entities.UserTranscription{Text: text}, true
}

// decodeToolCallStatus requires tool_id, tool_name and status.
func decodeToolCallStatus(raw map[string]any) (entities.SessionEvent, bool) {
	ev := entities.ToolCallStatus{
		ToolID:    str(raw["tool_id"]),
		ToolName:  str(raw["tool_name"]),
		Status:    str(raw["status"]),
		Content:   str(raw["content"]),
		Timestamp: str(raw["timestamp"]),
	}
	if ev.ToolID == "" || ev.ToolName == "" || ev.Status == "" {
		return nil, false
	}
	if bv, ok := raw["browser_view"].(map[string]any); ok {
		ev.BrowserView = bv
	}
	return ev, true
}

func decodeWorkspaceUpdate(raw map[string]any) (entities.SessionEvent, bool) {
	update, ok := mcp.FromRaw(raw)
	if !ok {
		return nil, false
	}
	return update, true
}

func decodeAffinity(raw map[string]any) (entities.SessionEvent, bool) {
	sig, ok := affinity.Extract(raw)
	if !ok {
		return nil, false
	}
	switch sig.Kind {
	case affinity.SignalValue:
		return sig.Affinity, true
	case affinity.SignalMilestone:
		return sig.Milestone, true
	case affinity.SignalExpression:
		return sig.Expression, true
	}
	return nil, false
}

func decodeRelationshipCard(raw map[string]any) (entities.SessionEvent, bool) {
	card := entities.RelationshipCard{AffinityLevel: "stranger", DaysTogether: 1, TopTopics: []string{}}
	if !decodeInto(raw, &card) {
		return nil, false
	}
	if card.AffinityLevel == "" {
		card.AffinityLevel = "stranger"
	}
	if card.DaysTogether == 0 {
		card.DaysTogether = 1
	}
	return card, true
}

func decodeGroupUpdate(raw map[string]any) (entities.SessionEvent, bool) {
	var g entities.GroupUpdate
	if !decodeInto(raw, &g) {
		return nil, false
	}
	return g, true
}

func decodeGroupResult(raw map[string]any) (entities.SessionEvent, bool) {
	success, _ := raw["success"].(bool)
	return entities.GroupOperationResult{Success: success, Message: str(raw["message"])}, true
}

func decodeError(raw map[string]any) (entities.SessionEvent, bool) {
	return entities.Error{Message: str(raw["message"])}, true
}

// decodeInto re-decodes raw into a typed wire struct.
func decodeInto(raw map[string]any, dst any) bool {
	b, err := json.Marshal(raw)
	if err != nil {
		return false
	}
	return json.Unmarshal(b, dst) == nil
}

func present(raw map[string]any, key string) bool {
	v, ok := raw[key]
	return ok && v != nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func firstStr(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := str(raw[k]); s != "" {
			return s
		}
	}
	return ""
}

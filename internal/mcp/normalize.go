package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/satriahrh/arunika/companion/domain/entities"
)

const unknownTool = "Unknown Tool"

// excludedTypes are message types that never describe MCP activity even when
// they happen to carry MCP-looking fields.
var excludedTypes = map[string]struct{}{
	"audio": {}, "control": {}, "full-text": {}, "config-files": {}, "config-switched": {},
	"background-files": {}, "history-data": {}, "new-history-created": {}, "history-deleted": {},
	"history-list": {}, "history-pinned": {}, "history-renamed": {}, "user-input-transcription": {},
	"error": {}, "group-update": {}, "group-operation-result": {}, "backend-synth-complete": {},
	"conversation-chain-end": {}, "force-new-message": {}, "interrupt-signal": {}, "audio-stop": {},
	"set-model-and-conf": {}, "relationship-card": {},
	"HeartAffinity": {}, "heartaffinity": {}, "heart-affinity": {}, "heart_affinity": {},
	"affinity-update": {}, "affinity_update": {}, "affinity-data": {}, "affinity_data": {},
	"affinity": {}, "affinity-milestone": {}, "affinity_milestone": {}, "emotion-expression": {},
	"expression": {},
}

// IsExcluded reports whether a message type is on the non-MCP list.
func IsExcluded(msgType string) bool {
	_, ok := excludedTypes[msgType]
	return ok
}

// HasIndicators reports whether raw carries any MCP field.
func HasIndicators(raw map[string]any) bool {
	for _, key := range []string{"tool_name", "tool_id", "tool_calls", "tool_results", "final_answer", "partial_answer", "user_query"} {
		if truthy(raw[key]) {
			return true
		}
	}
	msgType, _ := raw["type"].(string)
	return strings.Contains(msgType, "mcp") || strings.Contains(msgType, "tool")
}

// FromRaw converts an inbound object into a workspace update. It reports
// false for anything that is not MCP traffic.
func FromRaw(raw map[string]any) (entities.WorkspaceUpdate, bool) {
	if raw == nil {
		return entities.WorkspaceUpdate{}, false
	}
	msgType, _ := raw["type"].(string)

	switch msgType {
	case "mcp-workspace-update":
		return decodeWorkspaceUpdate(raw)
	case "tool_call_status":
		return fromToolCallStatus(raw), true
	}

	if IsExcluded(msgType) || !HasIndicators(raw) {
		return entities.WorkspaceUpdate{}, false
	}

	if truthy(raw["tool_calls"]) && truthy(raw["tool_results"]) {
		update, ok := decodeWorkspaceUpdate(raw)
		if ok && update.Status == "" {
			update.Status = entities.McpStatusInProgress
		}
		return update, ok
	}

	toolName := firstString(raw, "tool_name", "name")
	if toolName == "" {
		toolName = unknownTool
	}
	rawStatus := stringField(raw, "status")
	status := entities.ParseMcpStatus(rawStatus)
	content := firstString(raw, "content", "text", "message", "final_answer", "partial_answer")

	update := entities.WorkspaceUpdate{
		Status:    workspaceStatus(status),
		Timestamp: timestampOrNow(raw),
		UserQuery: stringField(raw, "user_query"),
		ToolCalls: []entities.ToolCallRecord{{Name: toolName, Status: status}},
		ToolResults: []entities.ToolResultRecord{
			resultRecord(toolName, status, content, ""),
		},
	}
	if v := stringField(raw, "final_answer"); v != "" {
		update.FinalAnswer = &v
	} else if status == entities.McpStatusCompleted && content != "" {
		update.FinalAnswer = &content
	}
	if v := stringField(raw, "partial_answer"); v != "" {
		update.PartialAnswer = &v
	} else if status != entities.McpStatusCompleted && content != "" {
		update.PartialAnswer = &content
	}
	return update, true
}

func fromToolCallStatus(raw map[string]any) entities.WorkspaceUpdate {
	toolName := firstString(raw, "tool_name", "name")
	if toolName == "" {
		toolName = unknownTool
	}
	status := entities.ParseMcpStatus(stringField(raw, "status"))
	content := firstString(raw, "content", "result")

	params, _ := raw["parameters"].(map[string]any)
	update := entities.WorkspaceUpdate{
		Status:      workspaceStatus(status),
		Timestamp:   timestampOrNow(raw),
		UserQuery:   stringField(raw, "user_query"),
		ToolCalls:   []entities.ToolCallRecord{{Name: toolName, Status: status, Parameters: params}},
		ToolResults: []entities.ToolResultRecord{resultRecord(toolName, status, content, stringField(raw, "error"))},
	}
	if content != "" {
		c := content
		if status == entities.McpStatusCompleted {
			update.FinalAnswer = &c
		} else {
			update.PartialAnswer = &c
		}
	}
	return update
}

func resultRecord(name string, status entities.McpStatus, content, errText string) entities.ToolResultRecord {
	r := entities.ToolResultRecord{Name: name, Status: status, Error: errText}
	if content == "" {
		return r
	}
	if status == entities.McpStatusCompleted {
		r.Result = content
	} else {
		r.PartialResult = content
	}
	return r
}

// workspaceStatus keeps error visible at session level; anything not
// terminal is in progress.
func workspaceStatus(s entities.McpStatus) entities.McpStatus {
	if s == "" {
		return entities.McpStatusInProgress
	}
	return s
}

type wireUpdate struct {
	Status        string           `json:"status"`
	Timestamp     string           `json:"timestamp"`
	UserQuery     string           `json:"user_query"`
	ToolCalls     []wireToolCall   `json:"tool_calls"`
	ToolResults   []wireToolResult `json:"tool_results"`
	FinalAnswer   *string          `json:"final_answer"`
	PartialAnswer *string          `json:"partial_answer"`
}

type wireToolCall struct {
	Name       string         `json:"name"`
	Status     string         `json:"status"`
	Parameters map[string]any `json:"parameters"`
	Result     any            `json:"result"`
}

type wireToolResult struct {
	Name          string `json:"name"`
	Status        string `json:"status"`
	Result        any    `json:"result"`
	PartialResult any    `json:"partial_result"`
	Error         string `json:"error"`
}

func decodeWorkspaceUpdate(raw map[string]any) (entities.WorkspaceUpdate, bool) {
	data, err := json.Marshal(raw)
	if err != nil {
		return entities.WorkspaceUpdate{}, false
	}
	var w wireUpdate
	if err := json.Unmarshal(data, &w); err != nil {
		return entities.WorkspaceUpdate{}, false
	}

	update := entities.WorkspaceUpdate{
		Timestamp:     w.Timestamp,
		UserQuery:     w.UserQuery,
		FinalAnswer:   w.FinalAnswer,
		PartialAnswer: w.PartialAnswer,
	}
	if w.Status != "" {
		update.Status = entities.ParseMcpStatus(w.Status)
	}
	if update.Timestamp == "" {
		update.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	for _, c := range w.ToolCalls {
		update.ToolCalls = append(update.ToolCalls, entities.ToolCallRecord{
			Name:       c.Name,
			Status:     entities.ParseMcpStatus(c.Status),
			Parameters: c.Parameters,
			Result:     c.Result,
		})
	}
	for _, r := range w.ToolResults {
		update.ToolResults = append(update.ToolResults, entities.ToolResultRecord{
			Name:          r.Name,
			Status:        entities.ParseMcpStatus(r.Status),
			Result:        nilIfEmpty(r.Result),
			PartialResult: nilIfEmpty(r.PartialResult),
			Error:         r.Error,
		})
	}
	return update, true
}

func timestampOrNow(raw map[string]any) string {
	if ts := stringField(raw, "timestamp"); ts != "" {
		return ts
	}
	return time.Now().UTC().Format(time.RFC3339)
}

func stringField(raw map[string]any, key string) string {
	switch v := raw[key].(type) {
	case string:
		return v
	case nil:
		return ""
	case float64, bool:
		return fmt.Sprint(v)
	default:
		return ""
	}
}

// firstString returns the first present textual value among keys. Objects
// are rendered as JSON.
func firstString(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || !truthy(v) {
			continue
		}
		if s, ok := v.(string); ok {
			return s
		}
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
	}
	return ""
}

// truthy mirrors how loosely typed payloads signal presence: nil, "", false,
// zero and empty collections count as absent.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return true
	default:
		return true
	}
}

func nilIfEmpty(v any) any {
	if !truthy(v) {
		return nil
	}
	return v
}

package entities

// McpStatus is the lifecycle of an MCP session or tool record.
type McpStatus string

const (
	McpStatusInProgress McpStatus = "in_progress"
	McpStatusCompleted  McpStatus = "completed"
	McpStatusError      McpStatus = "error"
)

// Terminal reports whether no further status transition is expected.
func (s McpStatus) Terminal() bool {
	return s == McpStatusCompleted || s == McpStatusError
}

// ParseMcpStatus maps the statuses the server emits (running, done, failed...)
// onto the three known states.
func ParseMcpStatus(s string) McpStatus {
	switch s {
	case "completed", "complete", "done", "success":
		return McpStatusCompleted
	case "error", "failed", "failure":
		return McpStatusError
	default:
		return McpStatusInProgress
	}
}

type ToolCallRecord struct {
	Name       string         `json:"name"`
	Status     McpStatus      `json:"status"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Result     any            `json:"result,omitempty"`
}

type ToolResultRecord struct {
	Name          string    `json:"name"`
	Status        McpStatus `json:"status"`
	Result        any       `json:"result,omitempty"`
	PartialResult any       `json:"partial_result,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// WorkspaceUpdate is one streamed MCP update, already normalized from either
// an mcp-workspace-update or a tool_call_status payload.
type WorkspaceUpdate struct {
	Status        McpStatus          `json:"status"`
	Timestamp     string             `json:"timestamp"`
	UserQuery     string             `json:"user_query"`
	ToolCalls     []ToolCallRecord   `json:"tool_calls"`
	ToolResults   []ToolResultRecord `json:"tool_results"`
	FinalAnswer   *string            `json:"final_answer,omitempty"`
	PartialAnswer *string            `json:"partial_answer,omitempty"`
}

type McpSessionRecord struct {
	ID            string             `json:"id"`
	Timestamp     string             `json:"timestamp"`
	UserQuery     string             `json:"user_query"`
	Status        McpStatus          `json:"status"`
	ToolCalls     []ToolCallRecord   `json:"tool_calls"`
	ToolResults   []ToolResultRecord `json:"tool_results"`
	FinalAnswer   *string            `json:"final_answer,omitempty"`
	PartialAnswer *string            `json:"partial_answer,omitempty"`
}

// Clone returns a deep enough copy for handing out of a lock.
func (r McpSessionRecord) Clone() McpSessionRecord {
	out := r
	out.ToolCalls = append([]ToolCallRecord(nil), r.ToolCalls...)
	out.ToolResults = append([]ToolResultRecord(nil), r.ToolResults...)
	if r.FinalAnswer != nil {
		v := *r.FinalAnswer
		out.FinalAnswer = &v
	}
	if r.PartialAnswer != nil {
		v := *r.PartialAnswer
		out.PartialAnswer = &v
	}
	return out
}

package entities

import (
	"errors"
	"time"
)

// MessageRole identifies the author of a transcript entry.
type MessageRole string

const (
	MessageRoleHuman MessageRole = "human"
	MessageRoleAI    MessageRole = "ai"
	MessageRoleTool  MessageRole = "tool_call_status"
)

// ChatMessage is one transcript entry. Tool call entries are keyed by ToolID.
type ChatMessage struct {
	ID        string      `json:"id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp string      `json:"timestamp"`
	Name      string      `json:"name,omitempty"`
	Avatar    string      `json:"avatar,omitempty"`

	ToolID      string         `json:"tool_id,omitempty"`
	ToolName    string         `json:"tool_name,omitempty"`
	Status      string         `json:"status,omitempty"`
	BrowserView map[string]any `json:"browser_view,omitempty"`
}

// HistoryInfo is a conversation history summary as listed by the server.
type HistoryInfo struct {
	UID           string       `json:"uid"`
	LatestMessage *ChatMessage `json:"latest_message"`
	Timestamp     string       `json:"timestamp"`
	Title         string       `json:"title,omitempty"`
	Pinned        bool         `json:"pinned,omitempty"`
}

// Image is an attachment sent along with text or audio input.
type Image struct {
	Source   string `json:"source" validate:"required,oneof=camera screen upload"`
	Data     string `json:"data" validate:"required"`
	MimeType string `json:"mime_type" validate:"required"`
}

const GuestUserID = "default_user"

// Identity is the user the client acts for.
type Identity struct {
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	Email          string    `json:"email,omitempty"`
	Roles          []string  `json:"roles"`
	Plan           string    `json:"plan,omitempty"`
	CreditsBalance *float64  `json:"credits_balance,omitempty"`
	Authenticated  bool      `json:"authenticated"`
	ExpiresAt      time.Time `json:"expires_at,omitempty"`
	Token          string    `json:"-"`
}

// Guest returns the identity used when no credential is present.
func Guest() Identity {
	return Identity{UserID: GuestUserID, Username: "guest", Roles: []string{}}
}

// RequestUserID returns the user id to put on the wire.
func (i Identity) RequestUserID() string {
	if i.UserID == "" {
		return GuestUserID
	}
	return i.UserID
}

// Validate validates the identity data
func (i Identity) Validate() error {
	if i.Authenticated && i.UserID == "" {
		return errors.New("authenticated identity requires user_id")
	}
	if i.Authenticated && i.Token == "" {
		return errors.New("authenticated identity requires a token")
	}
	return nil
}

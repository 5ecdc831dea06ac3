package api

import (
	"github.com/satriahrh/arunika/companion/domain/entities"
	"github.com/satriahrh/arunika/companion/internal/mcp"
	"github.com/satriahrh/arunika/companion/internal/state"
)

// TextRequest is typed input from a local client.
type TextRequest struct {
	Text   string           `json:"text" validate:"required"`
	Images []entities.Image `json:"images" validate:"omitempty,dive"`
}

// SpeakRequest triggers proactive speech.
type SpeakRequest struct {
	IdleSeconds float64 `json:"idle_seconds" validate:"min=0"`
}

type PinRequest struct {
	Pinned bool `json:"pinned"`
}

type RenameRequest struct {
	Title string `json:"title" validate:"required,max=200"`
}

// TapRequest carries normalized avatar coordinates.
type TapRequest struct {
	X float64 `json:"x" validate:"min=0,max=1"`
	Y float64 `json:"y" validate:"min=0,max=1"`
}

// IdentityRequest switches the access token. An empty token signs out.
type IdentityRequest struct {
	Token string `json:"token"`
}

type VolumeRequest struct {
	Volume float64 `json:"volume" validate:"min=0,max=1"`
}

// StateResponse is the full session view.
type StateResponse struct {
	Connection string         `json:"connection"`
	Subtitle   string         `json:"subtitle"`
	Session    state.Snapshot `json:"session"`
}

type HistoriesResponse struct {
	Current   string                 `json:"current"`
	Histories []entities.HistoryInfo `json:"histories"`
}

type McpSessionsResponse struct {
	Active   bool                        `json:"active"`
	Sessions []entities.McpSessionRecord `json:"sessions"`
}

type MusicResponse struct {
	Playing bool            `json:"playing"`
	Volume  float64         `json:"volume"`
	Latest  *mcp.MusicInfo  `json:"latest,omitempty"`
	History []mcp.MusicInfo `json:"history"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

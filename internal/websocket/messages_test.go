package websocket

import (
	"errors"
	"testing"

	"github.com/satriahrh/arunika/companion/domain"
	"github.com/satriahrh/arunika/companion/domain/entities"
)

func TestOutboundValidator_Validate(t *testing.T) {
	validator := NewOutboundValidator()
	user := domain.NewAccountFields(entities.Identity{UserID: "u-1", Username: "mika", Authenticated: true})

	tests := []struct {
		name    string
		message any
		wantErr bool
	}{
		{
			name:    "valid text input",
			message: domain.TextInput{Type: domain.TypeTextInput, Text: "hello", AccountFields: user},
			wantErr: false,
		},
		{
			name:    "text input by pointer",
			message: &domain.TextInput{Type: domain.TypeTextInput, Text: "hello", AccountFields: user},
			wantErr: false,
		},
		{
			name:    "empty text",
			message: domain.TextInput{Type: domain.TypeTextInput, AccountFields: user},
			wantErr: true,
		},
		{
			name: "invalid image source",
			message: domain.TextInput{
				Type:          domain.TypeTextInput,
				Text:          "look",
				Images:        []entities.Image{{Source: "fax", Data: "abc", MimeType: "image/png"}},
				AccountFields: user,
			},
			wantErr: true,
		},
		{
			name:    "oversized mic chunk",
			message: domain.MicAudioData{Type: domain.TypeMicAudioData, Audio: make([]float64, domain.MicChunkSize+1), UserFields: user.UserFields},
			wantErr: true,
		},
		{
			name:    "full mic chunk",
			message: domain.MicAudioData{Type: domain.TypeMicAudioData, Audio: make([]float64, domain.MicChunkSize), UserFields: user.UserFields},
			wantErr: false,
		},
		{
			name:    "pin without history",
			message: domain.PinHistory{Type: domain.TypePinHistory, Pinned: true},
			wantErr: true,
		},
		{
			name:    "playback complete without progress",
			message: domain.PlaybackComplete{Type: domain.TypePlaybackComplete, AudioFilePath: "cache/a.wav"},
			wantErr: true,
		},
		{
			name:    "interrupt with empty text",
			message: domain.InterruptSignal{Type: domain.TypeInterruptSignal},
			wantErr: false,
		},
		{
			name:    "ad hoc map",
			message: map[string]any{"action": "get-affinity"},
			wantErr: false,
		},
		{
			name:    "empty map",
			message: map[string]any{},
			wantErr: true,
		},
		{
			name:    "nil",
			message: nil,
			wantErr: true,
		},
		{
			name:    "string",
			message: "text-input",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.Validate(tt.message)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidMessage) {
				t.Errorf("Validate() error = %v, want ErrInvalidMessage", err)
			}
		})
	}
}

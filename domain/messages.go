package domain

import "github.com/satriahrh/arunika/companion/domain/entities"

// Outbound message types.
const (
	TypeTextInput          = "text-input"
	TypeMicAudioData       = "mic-audio-data"
	TypeMicAudioEnd        = "mic-audio-end"
	TypeAISpeakSignal      = "ai-speak-signal"
	TypeInterruptSignal    = "interrupt-signal"
	TypeAudioPlayStart     = "audio-play-start"
	TypePlaybackComplete   = "frontend-playback-complete"
	TypeFetchHistoryList   = "fetch-history-list"
	TypeFetchAndSetHistory = "fetch-and-set-history"
	TypeCreateNewHistory   = "create-new-history"
	TypePinHistory         = "pin-history"
	TypeRenameHistory      = "rename-history"
	TypeDeleteHistory      = "delete-history"
	TypeFetchBackgrounds   = "fetch-backgrounds"
	TypeFetchConfigs       = "fetch-configs"
	TypeUserContext        = "user-context"
)

// MicChunkSize is the number of samples per mic-audio-data message.
const MicChunkSize = 4096

// UserFields identifies the sender on user-originated messages.
type UserFields struct {
	UserID        string `json:"user_id" validate:"required"`
	Username      string `json:"username"`
	Authenticated bool   `json:"authenticated"`
}

// AccountFields extends UserFields for metered input.
type AccountFields struct {
	UserFields
	UserEmail string   `json:"user_email,omitempty"`
	UserRoles []string `json:"user_roles"`
}

func NewUserFields(id entities.Identity) UserFields {
	return UserFields{
		UserID:        id.RequestUserID(),
		Username:      id.Username,
		Authenticated: id.Authenticated,
	}
}

func NewAccountFields(id entities.Identity) AccountFields {
	roles := id.Roles
	if roles == nil {
		roles = []string{}
	}
	return AccountFields{UserFields: NewUserFields(id), UserEmail: id.Email, UserRoles: roles}
}

// Simple is a message with no payload beyond its type.
type Simple struct {
	Type string `json:"type" validate:"required"`
}

type TextInput struct {
	Type   string           `json:"type" validate:"required,eq=text-input"`
	Text   string           `json:"text" validate:"required"`
	Images []entities.Image `json:"images" validate:"dive"`
	AccountFields
}

type MicAudioData struct {
	Type  string    `json:"type" validate:"required,eq=mic-audio-data"`
	Audio []float64 `json:"audio" validate:"required,min=1,max=4096"`
	UserFields
}

type MicAudioEnd struct {
	Type   string           `json:"type" validate:"required,eq=mic-audio-end"`
	Images []entities.Image `json:"images" validate:"dive"`
	AccountFields
}

type AISpeakSignal struct {
	Type     string           `json:"type" validate:"required,eq=ai-speak-signal"`
	IdleTime float64          `json:"idle_time" validate:"min=0"`
	Images   []entities.Image `json:"images" validate:"dive"`
}

type InterruptSignal struct {
	Type string `json:"type" validate:"required,eq=interrupt-signal"`
	Text string `json:"text"`
}

type AudioPlayStart struct {
	Type        string                `json:"type" validate:"required,eq=audio-play-start"`
	DisplayText *entities.DisplayText `json:"display_text" validate:"required"`
	Forwarded   bool                  `json:"forwarded"`
}

type PlaybackComplete struct {
	Type             string  `json:"type" validate:"required,eq=frontend-playback-complete"`
	AudioFilePath    string  `json:"audio_file_path" validate:"required"`
	TTSEngineClass   string  `json:"tts_engine_class,omitempty"`
	Timestamp        int64   `json:"timestamp"`
	PlaybackDuration float64 `json:"playback_duration" validate:"gt=0"`
}

type HistoryRef struct {
	Type       string `json:"type" validate:"required,oneof=fetch-and-set-history delete-history"`
	HistoryUID string `json:"history_uid" validate:"required"`
}

type PinHistory struct {
	Type       string `json:"type" validate:"required,eq=pin-history"`
	HistoryUID string `json:"history_uid" validate:"required"`
	Pinned     bool   `json:"pinned"`
}

type RenameHistory struct {
	Type       string `json:"type" validate:"required,eq=rename-history"`
	HistoryUID string `json:"history_uid" validate:"required"`
	NewTitle   string `json:"new_title" validate:"required,max=200"`
}

type UserContext struct {
	Type          string   `json:"type" validate:"required,eq=user-context"`
	VisitCount    int      `json:"visit_count" validate:"min=1"`
	IsReturning   bool     `json:"is_returning"`
	AffinityLevel string   `json:"affinity_level,omitempty"`
	AffinityValue *float64 `json:"affinity_value"`
	UserFields
}

package entities

// AiState is the conversational state of the companion as seen by the client.
type AiState string

const (
	AiStateIdle             AiState = "idle"
	AiStateListening        AiState = "listening"
	AiStateThinkingSpeaking AiState = "thinking-speaking"
	AiStateInterrupted      AiState = "interrupted"
	AiStateLoading          AiState = "loading"
)

// IsActive reports whether the companion is producing a response.
func (s AiState) IsActive() bool {
	return s == AiStateThinkingSpeaking
}

// Valid reports whether s is one of the known states.
func (s AiState) Valid() bool {
	switch s {
	case AiStateIdle, AiStateListening, AiStateThinkingSpeaking, AiStateInterrupted, AiStateLoading:
		return true
	}
	return false
}

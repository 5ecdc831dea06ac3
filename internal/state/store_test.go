package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satriahrh/arunika/companion/domain/entities"
)

func TestStore_AiStateListeners(t *testing.T) {
	s := New()
	assert.Equal(t, entities.AiStateIdle, s.AiState())

	var calls []string
	s.OnAiStateChange(func(prev, next entities.AiState) { calls = append(calls, "a:"+string(next)) })
	s.OnAiStateChange(func(prev, next entities.AiState) { calls = append(calls, "b:"+string(next)) })

	s.SetAiState(entities.AiStateThinkingSpeaking)
	s.SetAiState(entities.AiStateThinkingSpeaking)
	s.SetAiState(entities.AiStateIdle)

	assert.Equal(t, []string{
		"a:thinking-speaking", "b:thinking-speaking",
		"a:idle", "b:idle",
	}, calls, "listeners run in order and only on change")
}

func TestStore_CompareAndSetAiState(t *testing.T) {
	s := New()
	assert.False(t, s.CompareAndSetAiState(entities.AiStateThinkingSpeaking, entities.AiStateIdle))
	s.SetAiState(entities.AiStateThinkingSpeaking)
	assert.True(t, s.CompareAndSetAiState(entities.AiStateThinkingSpeaking, entities.AiStateIdle))
	assert.Equal(t, entities.AiStateIdle, s.AiState())
}

func TestStore_Transcript(t *testing.T) {
	s := New()
	s.AppendHumanMessage("hi")
	s.AppendAIMessage("Hello", "Ling", "ling.png")
	s.AppendAIMessage(" there", "Ling", "ling.png")
	s.AppendAIMessage("Yo", "Other", "")

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, entities.MessageRoleHuman, msgs[0].Role)
	assert.Equal(t, "Hello there", msgs[1].Content)
	assert.Equal(t, "Other", msgs[2].Name)

	s.SetForceNewMessage(true)
	s.AppendAIMessage("again", "Other", "")
	s.AppendAIMessage(" and more", "Other", "")
	msgs = s.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "again and more", msgs[3].Content)
}

func TestStore_UpsertToolCall(t *testing.T) {
	s := New()
	s.UpsertToolCall(entities.ToolCallStatus{ToolID: "t1", ToolName: "search", Status: "running"})
	s.UpsertToolCall(entities.ToolCallStatus{ToolID: "t1", ToolName: "search", Status: "completed", Content: "found"})
	s.UpsertToolCall(entities.ToolCallStatus{ToolID: "t2", ToolName: "fetch", Status: "running"})

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "completed", msgs[0].Status)
	assert.Equal(t, "found", msgs[0].Content)
	assert.Equal(t, "t2", msgs[1].ToolID)
}

func TestStore_Histories(t *testing.T) {
	s := New()
	s.SetHistories([]entities.HistoryInfo{{UID: "h1"}, {UID: "h2"}})
	assert.Equal(t, "h1", s.CurrentHistory())

	s.SetCurrentHistory("h2")
	s.SetHistories([]entities.HistoryInfo{{UID: "h3"}, {UID: "h2"}})
	assert.Equal(t, "h2", s.CurrentHistory(), "selection survives a refresh")

	s.AppendHumanMessage("x")
	s.RemoveHistory("h2")
	assert.Equal(t, "", s.CurrentHistory())
	assert.Empty(t, s.Messages())
	assert.Len(t, s.Histories(), 1)
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	s := New()
	s.SetCredits(12.5)
	s.AppendHumanMessage("hi")

	snap := s.Snapshot()
	require.NotNil(t, snap.CreditsBalance)
	assert.Equal(t, 12.5, *snap.CreditsBalance)

	snap.Messages[0].Content = "changed"
	*snap.CreditsBalance = 0
	assert.Equal(t, "hi", s.Messages()[0].Content)
	v, ok := s.Credits()
	assert.True(t, ok)
	assert.Equal(t, 12.5, v)
}

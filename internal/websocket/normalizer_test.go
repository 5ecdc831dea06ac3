package websocket

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satriahrh/arunika/companion/domain/entities"
)

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &raw))
	return raw
}

func TestNormalize_Kinds(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want entities.EventKind
	}{
		{"control", `{"type":"control","text":"start-mic"}`, entities.EventControl},
		{"model", `{"type":"set-model-and-conf","conf_name":"ling","model_info":{"url":"/live2d/ling.json"}}`, entities.EventModelConfig},
		{"subtitle", `{"type":"full-text","text":"Connected"}`, entities.EventSubtitleText},
		{"audio", `{"type":"audio","audio":"UklGRg==","volumes":[0.1],"slice_length":20}`, entities.EventAudioClip},
		{"history list", `{"type":"history-list","histories":[{"uid":"h1","latest_message":null,"timestamp":"2024-01-01T00:00:00Z"}]}`, entities.EventHistoryList},
		{"history data", `{"type":"history-data","messages":[{"id":"1","role":"human","content":"hi","timestamp":"t"}]}`, entities.EventHistoryData},
		{"history pinned", `{"type":"history-pinned","history_uid":"h1","success":true}`, entities.EventHistoryMutation},
		{"tool status", `{"type":"tool_call_status","tool_id":"t1","tool_name":"search","status":"running"}`, entities.EventToolCallStatus},
		{"workspace", `{"type":"mcp-workspace-update","user_query":"q","status":"in_progress","tool_calls":[],"tool_results":[]}`, entities.EventMcpWorkspaceUpdate},
		{"heart affinity", `{"type":"HeartAffinity","HeartAffinity":30}`, entities.EventAffinity},
		{"affinity data", `{"type":"affinity_data","affinity":30}`, entities.EventAffinity},
		{"milestone", `{"type":"affinity-milestone","milestone":"First hello"}`, entities.EventAffinityMilestone},
		{"expression", `{"type":"emotion-expression","expression":"smile"}`, entities.EventEmotionExpression},
		{"relationship card", `{"type":"relationship-card","memories_count":3}`, entities.EventRelationshipCard},
		{"group", `{"type":"group-update","members":["a"],"is_owner":true}`, entities.EventGroupUpdate},
		{"synth complete", `{"type":"backend-synth-complete"}`, entities.EventBackendSynthComplete},
		{"interrupt", `{"type":"interrupt-signal"}`, entities.EventInterruptSignal},
		{"audio stop", `{"type":"audio-stop"}`, entities.EventAudioStop},
		{"error", `{"type":"error","message":"boom"}`, entities.EventError},
		{"sniffed workspace", `{"user_query":"weather?","tool_calls":[{"name":"w"}],"tool_results":[{"name":"w"}]}`, entities.EventMcpWorkspaceUpdate},
		{"sniffed tool status", `{"tool_id":"t2","tool_name":"fetch","status":"completed"}`, entities.EventToolCallStatus},
		{"sniffed affinity", `{"userAffinity":12}`, entities.EventAffinity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Normalize(decode(t, tt.raw))
			require.NotNil(t, ev)
			assert.Equal(t, tt.want, ev.Kind())
		})
	}
}

func TestNormalize_Dropped(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"unknown type", `{"type":"mystery","payload":1}`},
		{"no type", `{"hello":"world"}`},
		{"control without command", `{"type":"control"}`},
		{"incomplete tool status", `{"type":"tool_call_status","tool_name":"search"}`},
		{"affinity without value", `{"type":"affinity","level":"friend"}`},
		{"affinity with text value", `{"type":"affinity","affinity":"high"}`},
		{"audio with bad volumes", `{"type":"audio","volumes":"loud"}`},
		{"empty object", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, Normalize(decode(t, tt.raw)))
		})
	}
	assert.Nil(t, Normalize(nil))
}

func TestNormalize_AffinityUpdate(t *testing.T) {
	ev := Normalize(decode(t, `{"type":"affinity_update","affinity":72,"level":"friend"}`))

	a, ok := ev.(entities.Affinity)
	require.True(t, ok)
	require.NotNil(t, a.Value)
	assert.Equal(t, 72.0, *a.Value)
	assert.Equal(t, "friend", a.Level)
}

func TestNormalize_AudioClip(t *testing.T) {
	ev := Normalize(decode(t, `{
		"type": "audio",
		"audio": "UklGRg==",
		"volumes": [0.1, 0.5],
		"slice_length": 20,
		"display_text": {"text": "Hi!", "name": "Ling", "avatar": "ling.png"},
		"actions": {"expressions": ["smile", 3]},
		"audio_file_path": "cache/1.wav",
		"tts_engine_class": "EdgeTTS",
		"forwarded": true
	}`))

	clip, ok := ev.(entities.AudioClip)
	require.True(t, ok)
	assert.Equal(t, "UklGRg==", clip.AudioBase64)
	assert.Equal(t, []float64{0.1, 0.5}, clip.Volumes)
	assert.Equal(t, 20.0, clip.SliceLength)
	require.NotNil(t, clip.DisplayText)
	assert.Equal(t, "Ling", clip.DisplayText.Name)
	assert.Equal(t, []string{"smile", "3"}, clip.Expressions)
	assert.Equal(t, "cache/1.wav", clip.FilePath)
	assert.Equal(t, "EdgeTTS", clip.TTSEngineClass)
	assert.True(t, clip.Forwarded)
}

func TestNormalize_Details(t *testing.T) {
	card, ok := Normalize(decode(t, `{"type":"relationship-card","memories_count":3}`)).(entities.RelationshipCard)
	require.True(t, ok)
	assert.Equal(t, "stranger", card.AffinityLevel)
	assert.Equal(t, 1, card.DaysTogether)
	assert.Equal(t, 3, card.MemoriesCount)

	bg, ok := Normalize(decode(t, `{"type":"background-files","files":["a.png",{"name":"b","url":"/bg/b.png"}]}`)).(entities.BackgroundFiles)
	require.True(t, ok)
	assert.Equal(t, []string{"a.png", "/bg/b.png"}, bg.Files)

	mut, ok := Normalize(decode(t, `{"type":"history-deleted","history_uid":"h9","success":false}`)).(entities.HistoryMutation)
	require.True(t, ok)
	assert.Equal(t, entities.HistoryOpDeleted, mut.Op)
	assert.False(t, mut.Success)

	status, ok := Normalize(decode(t, `{"type":"tool_call_status","tool_id":"t1","tool_name":"browse","status":"running","browser_view":{"wsUrl":"ws://x"}}`)).(entities.ToolCallStatus)
	require.True(t, ok)
	assert.Equal(t, "ws://x", status.BrowserView["wsUrl"])
}

func TestKindOf_AliasTableIsComplete(t *testing.T) {
	for msgType, kind := range kindByType {
		_, ok := decoders[kind]
		assert.True(t, ok, "no decoder for %s (%s)", msgType, kind)
	}
	kind, ok := KindOf("heart-affinity")
	assert.True(t, ok)
	assert.Equal(t, entities.EventAffinity, kind)
}

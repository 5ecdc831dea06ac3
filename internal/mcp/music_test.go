package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleMusicResult = "夏日微风\n🆔 音乐ID: 3f2a-bc01\n🎼 模型: chirp-v3\n🎶 模式: 灵感模式\n🎼 类型: 流行\n⏱️ 时长: 120s\n音乐生成并获取流式URL成功\n📱 流式播放URL: https://cdn.example.com/stream/3f2a.mp3\n💡 提示"

type fakeStreamPlayer struct {
	mu      sync.Mutex
	urls    []string
	volumes []float64
	fail    error
	stops   int
	active  int
}

func (p *fakeStreamPlayer) Play(ctx context.Context, url string, volume float64) error {
	p.mu.Lock()
	p.urls = append(p.urls, url)
	fail := p.fail
	if fail != nil {
		p.mu.Unlock()
		return fail
	}
	p.active++
	p.mu.Unlock()

	<-ctx.Done()

	p.mu.Lock()
	p.active--
	p.mu.Unlock()
	return ctx.Err()
}

func (p *fakeStreamPlayer) SetVolume(v float64) {
	p.mu.Lock()
	p.volumes = append(p.volumes, v)
	p.mu.Unlock()
}

func (p *fakeStreamPlayer) Stop() {
	p.mu.Lock()
	p.stops++
	p.mu.Unlock()
}

func (p *fakeStreamPlayer) streaming() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *fakeStreamPlayer) played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.urls...)
}

func TestParseMusicResult(t *testing.T) {
	info, ok := ParseMusicResult(sampleMusicResult)
	require.True(t, ok)
	assert.Equal(t, "夏日微风", info.Title)
	assert.Equal(t, "3f2a-bc01", info.MusicID)
	assert.Equal(t, "3f2a-bc01", info.TaskID)
	assert.Equal(t, "chirp-v3", info.Model)
	assert.Equal(t, "灵感模式", info.Mode)
	assert.Equal(t, "流行", info.Type)
	assert.Equal(t, "https://cdn.example.com/stream/3f2a.mp3", info.StreamURL)

	_, ok = ParseMusicResult("音乐生成并获取流式URL成功 but no url")
	assert.False(t, ok)
}

func TestIsMusicGenerationResult(t *testing.T) {
	tests := []struct {
		name   string
		tool   string
		result any
		want   bool
	}{
		{name: "match", tool: MusicToolName, result: sampleMusicResult, want: true},
		{name: "other tool", tool: "search", result: sampleMusicResult, want: false},
		{name: "missing marker", tool: MusicToolName, result: "📱 流式播放URL: https://x", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsMusicGenerationResult(tt.tool, tt.result))
		})
	}
}

func TestMusicManager_DuplicateTaskIsNoop(t *testing.T) {
	player := &fakeStreamPlayer{}
	m := NewMusicManager(player, zap.NewNop())
	t.Cleanup(m.Stop)

	m.HandleToolResult(MusicToolName, sampleMusicResult)
	m.HandleToolResult(MusicToolName, sampleMusicResult)

	require.Eventually(t, func() bool { return len(player.played()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, player.played(), 1)
	assert.Len(t, m.History(), 1)
	assert.True(t, m.Playing())
}

func TestMusicManager_FailureAllowsRetry(t *testing.T) {
	player := &fakeStreamPlayer{fail: errors.New("stream unavailable")}
	m := NewMusicManager(player, zap.NewNop())

	m.HandleToolResult(MusicToolName, sampleMusicResult)
	require.Eventually(t, func() bool { return !m.Playing() }, time.Second, 5*time.Millisecond)

	m.HandleToolResult(MusicToolName, sampleMusicResult)
	require.Eventually(t, func() bool { return len(player.played()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestMusicManager_ConcurrentTracksLeaveNoStream(t *testing.T) {
	player := &fakeStreamPlayer{}
	m := NewMusicManager(player, zap.NewNop())

	const tracks = 16
	var wg sync.WaitGroup
	for i := 0; i < tracks; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result := strings.Replace(sampleMusicResult, "3f2a-bc01", fmt.Sprintf("3f2a-%04x", i), 1)
			m.HandleToolResult(MusicToolName, result)
		}(i)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return len(player.played()) == tracks }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return player.streaming() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, m.Playing())

	m.Stop()
	require.Eventually(t, func() bool { return player.streaming() == 0 }, time.Second, 5*time.Millisecond)
	assert.False(t, m.Playing())
	assert.Len(t, m.History(), tracks)
}

func TestMusicManager_Volume(t *testing.T) {
	m := NewMusicManager(&fakeStreamPlayer{}, zap.NewNop())
	assert.Equal(t, DefaultMusicVolume, m.Volume())

	m.SetVolume(1.7)
	assert.Equal(t, 1.0, m.Volume())
	m.SetVolume(-1)
	assert.Equal(t, 0.0, m.Volume())
}

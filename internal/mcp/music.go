package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/companion/domain/repositories"
)

const (
	MusicToolName      = "suno-generate-music-with-stream"
	DefaultMusicVolume = 0.5

	musicSuccessMarker = "音乐生成并获取流式URL成功"
	musicStreamMarker  = "流式播放URL:"
	musicHistoryCap    = 20
	unknownMusicTitle  = "未知音乐"
)

var (
	explicitTitleRe = regexp.MustCompile(`音乐标题[：:\s]*([^\n\r🆔]+)`)
	firstLineRe     = regexp.MustCompile(`^([^\n\r🆔🎼🎶📱⏱💡]+)`)
	hanRe           = regexp.MustCompile(`\p{Han}`)
	musicIDRe       = regexp.MustCompile(`🆔[^:：]*[：:\s]*([a-f0-9-]+)`)
	musicModelRe    = regexp.MustCompile(`🎼[^:：]*模型[：:\s]*([^\n\r🎶]+)`)
	musicModeRe     = regexp.MustCompile(`🎶[^:：]*模式[：:\s]*([^\n\r🎼]+)`)
	musicTypeRe     = regexp.MustCompile(`🎼[^:：]*类型[：:\s]*([^\n\r⏱]+)`)
	streamURLRe     = regexp.MustCompile(`📱[^:：]*流式播放URL[：:\s]*(https?://[^\s💡]+)`)
)

// MusicInfo describes one generated track.
type MusicInfo struct {
	TaskID    string    `json:"task_id"`
	Title     string    `json:"title"`
	MusicID   string    `json:"music_id"`
	Model     string    `json:"model"`
	Mode      string    `json:"mode"`
	Type      string    `json:"type"`
	StreamURL string    `json:"stream_url"`
	Timestamp time.Time `json:"timestamp"`
}

// ParseMusicResult extracts track details from a generation tool result. It
// reports false when no stream URL is present.
func ParseMusicResult(text string) (MusicInfo, bool) {
	m := streamURLRe.FindStringSubmatch(text)
	if m == nil {
		return MusicInfo{}, false
	}

	info := MusicInfo{
		Title:     unknownMusicTitle,
		StreamURL: strings.TrimSpace(m[1]),
		MusicID:   submatch(musicIDRe, text),
		Model:     submatch(musicModelRe, text),
		Mode:      submatch(musicModeRe, text),
		Type:      submatch(musicTypeRe, text),
		Timestamp: time.Now(),
	}
	if title := submatch(explicitTitleRe, text); title != "" {
		info.Title = title
	} else if line := submatch(firstLineRe, text); line != "" && hanRe.MatchString(line) && !strings.HasPrefix(line, "http") {
		info.Title = line
	}

	info.TaskID = info.MusicID
	if info.TaskID == "" {
		info.TaskID = fmt.Sprintf("music_%d", info.Timestamp.UnixMilli())
	}
	return info, true
}

// IsMusicGenerationResult reports whether a tool result announces a playable track.
func IsMusicGenerationResult(toolName string, result any) bool {
	if toolName != MusicToolName {
		return false
	}
	text := resultText(result)
	return strings.Contains(text, musicSuccessMarker) && strings.Contains(text, musicStreamMarker)
}

// MusicManager auto-plays tracks produced by the music generation tool.
type MusicManager struct {
	player repositories.StreamPlayer
	logger *zap.Logger

	mu        sync.Mutex
	volume    float64
	processed map[string]struct{}
	history   []MusicInfo
	playing   bool
	cancel    context.CancelFunc
	track     uint64
}

func NewMusicManager(player repositories.StreamPlayer, logger *zap.Logger) *MusicManager {
	return &MusicManager{
		player:    player,
		logger:    logger,
		volume:    DefaultMusicVolume,
		processed: make(map[string]struct{}),
	}
}

// HandleToolResult is a ResultHook. Duplicate tasks are ignored.
func (m *MusicManager) HandleToolResult(toolName string, result any) {
	if !IsMusicGenerationResult(toolName, result) {
		return
	}
	info, ok := ParseMusicResult(resultText(result))
	if !ok {
		m.logger.Warn("Music result without stream URL", zap.String("tool", toolName))
		return
	}

	m.mu.Lock()
	if _, seen := m.processed[info.TaskID]; seen {
		m.mu.Unlock()
		m.logger.Debug("Music task already handled", zap.String("taskID", info.TaskID))
		return
	}
	m.processed[info.TaskID] = struct{}{}
	m.mu.Unlock()

	m.play(info)
}

func (m *MusicManager) play(info MusicInfo) {
	ctx, cancel := context.WithCancel(context.Background())

	// The previous stream is canceled and the new one installed under one lock.
	m.mu.Lock()
	m.stopLocked()
	m.cancel = cancel
	m.playing = true
	m.track++
	track := m.track
	volume := m.volume
	m.history = append(m.history, info)
	if over := len(m.history) - musicHistoryCap; over > 0 {
		m.history = append([]MusicInfo(nil), m.history[over:]...)
	}
	m.mu.Unlock()

	m.logger.Info("Playing generated music",
		zap.String("title", info.Title),
		zap.String("taskID", info.TaskID))

	go func() {
		err := m.player.Play(ctx, info.StreamURL, volume)

		m.mu.Lock()
		if m.track == track {
			m.playing = false
		}
		if err != nil && ctx.Err() == nil {
			// allow the same task to be retried
			delete(m.processed, info.TaskID)
		}
		m.mu.Unlock()

		if err != nil && ctx.Err() == nil {
			m.logger.Error("Music playback failed", zap.String("title", info.Title), zap.Error(err))
		}
	}()
}

// Stop halts the current track.
func (m *MusicManager) Stop() {
	m.mu.Lock()
	m.stopLocked()
	m.mu.Unlock()
}

// stopLocked must be called with mu held.
func (m *MusicManager) stopLocked() {
	m.playing = false
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.cancel = nil
	m.player.Stop()
}

// SetVolume clamps v to [0,1].
func (m *MusicManager) SetVolume(v float64) {
	switch {
	case v < 0:
		v = 0
	case v > 1:
		v = 1
	}
	m.mu.Lock()
	m.volume = v
	m.mu.Unlock()
	m.player.SetVolume(v)
}

func (m *MusicManager) Volume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volume
}

func (m *MusicManager) Playing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

// Latest returns the most recently started track.
func (m *MusicManager) Latest() (MusicInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return MusicInfo{}, false
	}
	return m.history[len(m.history)-1], true
}

func (m *MusicManager) History() []MusicInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MusicInfo(nil), m.history...)
}

func (m *MusicManager) ClearHistory() {
	m.mu.Lock()
	m.history = nil
	m.mu.Unlock()
}

func submatch(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func resultText(result any) string {
	if s, ok := result.(string); ok {
		return s
	}
	b, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	return string(b)
}

package audio

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/companion/domain/repositories"
)

// Raw PCM without a RIFF header is assumed to be 16 kHz mono 16-bit.
const rawPCMByteRate = 16000 * 2

var (
	ErrEmptyClip      = errors.New("empty audio clip")
	ErrAlreadyStarted = errors.New("playback already started")
)

// ClipPlayer plays decoded clips against the wall clock. It produces no
// sound; position and completion behave as a real output would.
type ClipPlayer struct {
	logger *zap.Logger
}

func NewClipPlayer(logger *zap.Logger) *ClipPlayer {
	return &ClipPlayer{logger: logger}
}

func (p *ClipPlayer) Load(ctx context.Context, audioBase64 string) (repositories.Playback, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(audioBase64)
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyClip
	}

	duration := ClipDuration(data)
	p.logger.Debug("Audio clip loaded", zap.Int("bytes", len(data)), zap.Duration("duration", duration))
	return newClipPlayback(duration), nil
}

// ClipDuration reads the duration from a RIFF/WAVE header and falls back to
// the raw PCM byte rate.
func ClipDuration(data []byte) time.Duration {
	if byteRate, size, ok := parseWAV(data); ok && byteRate > 0 {
		return time.Duration(size) * time.Second / time.Duration(byteRate)
	}
	return time.Duration(len(data)) * time.Second / rawPCMByteRate
}

// parseWAV walks the RIFF chunks for the fmt byte rate and data size.
func parseWAV(data []byte) (byteRate, dataSize uint32, ok bool) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0, 0, false
	}

	var haveFmt bool
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := binary.LittleEndian.Uint32(data[off+4 : off+8])
		body := off + 8

		switch id {
		case "fmt ":
			if body+12 > len(data) {
				return 0, 0, false
			}
			byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
			haveFmt = true
		case "data":
			if !haveFmt {
				return 0, 0, false
			}
			if avail := uint32(len(data) - body); size > avail {
				size = avail
			}
			return byteRate, size, true
		}

		// chunks are word aligned
		off = body + int(size) + int(size&1)
	}
	return 0, 0, false
}

type clipPlayback struct {
	duration time.Duration
	done     chan error

	mu       sync.Mutex
	started  time.Time
	stopped  time.Duration
	finished bool
	timer    *time.Timer
}

func newClipPlayback(duration time.Duration) *clipPlayback {
	return &clipPlayback{duration: duration, done: make(chan error, 1)}
}

func (c *clipPlayback) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started.IsZero() || c.finished {
		return ErrAlreadyStarted
	}
	c.started = time.Now()
	c.timer = time.AfterFunc(c.duration, func() { c.finish(nil) })
	return nil
}

func (c *clipPlayback) Done() <-chan error { return c.done }

func (c *clipPlayback) Stop() {
	c.finish(repositories.ErrPlaybackStopped)
}

func (c *clipPlayback) Position() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return c.stopped
	}
	return c.positionLocked()
}

func (c *clipPlayback) positionLocked() time.Duration {
	if c.started.IsZero() {
		return 0
	}
	if pos := time.Since(c.started); pos < c.duration {
		return pos
	}
	return c.duration
}

func (c *clipPlayback) finish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return
	}
	c.finished = true
	c.stopped = c.positionLocked()
	if err == nil {
		c.stopped = c.duration
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.done <- err
}

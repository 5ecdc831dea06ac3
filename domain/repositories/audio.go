package repositories

import (
	"context"
	"errors"
	"time"
)

// ErrPlaybackStopped is delivered on Playback.Done when Stop ended playback.
var ErrPlaybackStopped = errors.New("playback stopped")

// Playback is one loaded clip, the equivalent of an audio element.
type Playback interface {
	// Start begins playback. Done delivers exactly one value when it ends:
	// nil for a natural end, ErrPlaybackStopped after Stop, any other error on failure.
	Start() error
	Done() <-chan error
	Stop()
	Position() time.Duration
}

// AudioPlayer decodes base64 audio into a Playback.
type AudioPlayer interface {
	Load(ctx context.Context, audioBase64 string) (Playback, error)
}

// StreamPlayer plays a remote music stream.
type StreamPlayer interface {
	Play(ctx context.Context, url string, volume float64) error
	SetVolume(volume float64)
	Stop()
}

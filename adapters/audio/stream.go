package audio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

const streamChunkSize = 32 * 1024

// StreamPlayer consumes a remote music stream until it ends or is stopped.
type StreamPlayer struct {
	client *http.Client
	logger *zap.Logger

	mu     sync.Mutex
	volume float64
	cancel context.CancelFunc
	bytes  int64
}

func NewStreamPlayer(client *http.Client, logger *zap.Logger) *StreamPlayer {
	if client == nil {
		client = &http.Client{}
	}
	return &StreamPlayer{client: client, logger: logger, volume: 1}
}

// Play blocks until the stream ends, ctx is cancelled or Stop is called.
// Only a failure to fetch or read the stream is an error.
func (p *StreamPlayer) Play(ctx context.Context, url string, volume float64) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.cancel = cancel
	p.volume = volume
	p.bytes = 0
	p.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create stream request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("stream returned %d: %s", resp.StatusCode, string(errorBody))
	}

	p.logger.Info("Music stream opened",
		zap.String("url", url),
		zap.String("contentType", resp.Header.Get("Content-Type")))

	buffer := make([]byte, streamChunkSize)
	for {
		n, err := resp.Body.Read(buffer)
		if n > 0 {
			p.mu.Lock()
			p.bytes += int64(n)
			p.mu.Unlock()
		}
		if err == io.EOF {
			p.logger.Info("Music stream finished", zap.Int64("totalBytes", p.Received()))
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}
	}
}

func (p *StreamPlayer) SetVolume(volume float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = volume
}

func (p *StreamPlayer) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Received is the number of bytes consumed from the current stream.
func (p *StreamPlayer) Received() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bytes
}

func (p *StreamPlayer) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

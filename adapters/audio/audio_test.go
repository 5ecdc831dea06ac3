package audio

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/companion/domain/repositories"
)

// wav builds a PCM WAVE file with an extra chunk before the data.
func wav(sampleRate, channels, bits int, dataBytes int) []byte {
	byteRate := sampleRate * channels * bits / 8
	var b []byte
	le32 := func(v int) { b = binary.LittleEndian.AppendUint32(b, uint32(v)) }
	le16 := func(v int) { b = binary.LittleEndian.AppendUint16(b, uint16(v)) }

	b = append(b, "RIFF"...)
	le32(4 + 8 + 16 + 8 + 3 + 1 + 8 + dataBytes)
	b = append(b, "WAVE"...)
	b = append(b, "fmt "...)
	le32(16)
	le16(1)
	le16(channels)
	le32(sampleRate)
	le32(byteRate)
	le16(channels * bits / 8)
	le16(bits)
	b = append(b, "LIST"...)
	le32(3)
	b = append(b, 'a', 'b', 'c', 0)
	b = append(b, "data"...)
	le32(dataBytes)
	return append(b, make([]byte, dataBytes)...)
}

func TestClipDuration(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want time.Duration
	}{
		{"wav 16k mono", wav(16000, 1, 16, 3200), 100 * time.Millisecond},
		{"wav 24k stereo", wav(24000, 2, 16, 96000), time.Second},
		{"raw pcm", make([]byte, 32000), time.Second},
		{"truncated wav header", []byte("RIFF\x00\x00\x00\x00WAVE"), 375 * time.Microsecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClipDuration(tt.data))
		})
	}
}

func TestClipPlayer_Load(t *testing.T) {
	p := NewClipPlayer(zap.NewNop())

	_, err := p.Load(context.Background(), "%%%")
	assert.Error(t, err)

	_, err = p.Load(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyClip)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Load(ctx, base64.StdEncoding.EncodeToString(make([]byte, 10)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClipPlayback_NaturalEnd(t *testing.T) {
	p := NewClipPlayer(zap.NewNop())
	pb, err := p.Load(context.Background(), base64.StdEncoding.EncodeToString(wav(16000, 1, 16, 640)))
	require.NoError(t, err)

	assert.Equal(t, time.Duration(0), pb.Position())
	require.NoError(t, pb.Start())
	assert.ErrorIs(t, pb.Start(), ErrAlreadyStarted)

	select {
	case err := <-pb.Done():
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("clip never finished")
	}
	assert.Equal(t, 20*time.Millisecond, pb.Position())

	pb.Stop()
	select {
	case <-pb.Done():
		t.Fatal("Done must deliver exactly once")
	default:
	}
}

func TestClipPlayback_Stop(t *testing.T) {
	p := NewClipPlayer(zap.NewNop())
	pb, err := p.Load(context.Background(), base64.StdEncoding.EncodeToString(make([]byte, rawPCMByteRate*10)))
	require.NoError(t, err)

	require.NoError(t, pb.Start())
	time.Sleep(15 * time.Millisecond)
	pb.Stop()

	assert.ErrorIs(t, <-pb.Done(), repositories.ErrPlaybackStopped)
	pos := pb.Position()
	assert.Greater(t, pos, time.Duration(0))
	assert.Less(t, pos, time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, pos, pb.Position(), "position freezes once stopped")
}

func TestStreamPlayer_PlaysToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(make([]byte, 100000))
	}))
	t.Cleanup(srv.Close)

	p := NewStreamPlayer(nil, zap.NewNop())
	require.NoError(t, p.Play(context.Background(), srv.URL+"/music.mp3", 0.5))
	assert.Equal(t, int64(100000), p.Received())
	assert.Equal(t, 0.5, p.Volume())

	p.SetVolume(0.2)
	assert.Equal(t, 0.2, p.Volume())
}

func TestStreamPlayer_Stop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(5 * time.Millisecond):
				w.Write([]byte("chunk"))
				flusher.Flush()
			}
		}
	}))
	t.Cleanup(srv.Close)

	p := NewStreamPlayer(nil, zap.NewNop())
	done := make(chan error, 1)
	go func() { done <- p.Play(context.Background(), srv.URL, 1) }()

	require.Eventually(t, func() bool { return p.Received() > 0 }, time.Second, 5*time.Millisecond)
	p.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Play did not return after Stop")
	}
}

func TestStreamPlayer_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	p := NewStreamPlayer(nil, zap.NewNop())
	err := p.Play(context.Background(), srv.URL, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

package affinity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/companion/domain/entities"
)

type captureSender struct {
	mu   sync.Mutex
	msgs []map[string]any
}

func (c *captureSender) Send(msg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg.(map[string]any))
	return nil
}

func (c *captureSender) sent() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.msgs...)
}

func testTimings() Timings {
	return Timings{
		Interval:      25 * time.Millisecond,
		MaxRetries:    2,
		OpenDelay:     5 * time.Millisecond,
		IdentityDelay: 5 * time.Millisecond,
	}
}

func startPoller(t *testing.T, id entities.Identity) (*Poller, *captureSender) {
	t.Helper()
	sender := &captureSender{}
	var mu sync.Mutex
	p := NewPoller(sender, func() entities.Identity {
		mu.Lock()
		defer mu.Unlock()
		return id
	}, testTimings(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return p, sender
}

func waitState(t *testing.T, p *Poller, want PollState) {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case s := <-p.States():
			if s == want {
				return
			}
		case <-timeout:
			t.Fatalf("poller never reached %s", want)
		}
	}
}

func TestAffinityRequest(t *testing.T) {
	msg := AffinityRequest(0, entities.Guest())
	assert.Equal(t, map[string]any{
		"type":          "get-affinity",
		"user_id":       entities.GuestUserID,
		"username":      "guest",
		"authenticated": false,
	}, msg)

	msg = AffinityRequest(13, entities.Identity{UserID: "u1", Username: "mika", Authenticated: true})
	assert.Equal(t, "HeartAffinity", msg["type"])
	assert.Equal(t, "get", msg["action"])
	assert.Equal(t, "u1", msg["user_id"])

	assert.Equal(t, AffinityRequest(1, entities.Guest()), AffinityRequest(16, entities.Guest()), "variants wrap around")
}

func TestPoller_RetriesThenGivesUp(t *testing.T) {
	p, sender := startPoller(t, entities.Identity{UserID: "u1", Username: "mika", Authenticated: true})

	p.ConnectionOpened()
	waitState(t, p, PollWaiting)
	waitState(t, p, PollRetrying)
	waitState(t, p, PollGaveUp)

	time.Sleep(60 * time.Millisecond)
	msgs := sender.sent()
	require.Len(t, msgs, 3, "one initial request plus two retries")
	assert.Equal(t, "get-affinity", msgs[0]["type"])
	assert.Equal(t, "get-affinity", msgs[1]["action"])
	assert.Equal(t, "get-affinity", msgs[2]["command"])
}

func TestPoller_StopsOnReceipt(t *testing.T) {
	p, sender := startPoller(t, entities.Identity{UserID: "u1", Authenticated: true})

	p.ConnectionOpened()
	require.Eventually(t, func() bool { return len(sender.sent()) == 1 }, time.Second, time.Millisecond)
	p.AffinityReceived()
	waitState(t, p, PollIdle)

	time.Sleep(80 * time.Millisecond)
	assert.Len(t, sender.sent(), 1)

	p.ConnectionClosed()
	p.ConnectionOpened()
	time.Sleep(40 * time.Millisecond)
	assert.Len(t, sender.sent(), 1, "a received score is not requested again on reconnect")
}

func TestPoller_IdentityChangeRequestsAgain(t *testing.T) {
	p, sender := startPoller(t, entities.Identity{UserID: "u1", Authenticated: true})

	p.ConnectionOpened()
	require.Eventually(t, func() bool { return len(sender.sent()) == 1 }, time.Second, time.Millisecond)
	p.AffinityReceived()
	waitState(t, p, PollIdle)

	p.IdentityChanged()
	require.Eventually(t, func() bool { return len(sender.sent()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, "get-affinity", sender.sent()[1]["type"], "retry counter was reset")
}

func TestPoller_GuestWaitsForTicker(t *testing.T) {
	p, sender := startPoller(t, entities.Guest())

	p.ConnectionOpened()
	time.Sleep(15 * time.Millisecond)
	assert.Empty(t, sender.sent(), "no immediate request for guests")

	require.Eventually(t, func() bool { return len(sender.sent()) >= 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "get-affinity", sender.sent()[0]["action"])
}

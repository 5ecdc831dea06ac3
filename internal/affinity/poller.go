package affinity

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/companion/domain/entities"
	"github.com/satriahrh/arunika/companion/domain/repositories"
)

// PollState is where the poller is in its request cycle.
type PollState string

const (
	PollIdle     PollState = "idle"
	PollWaiting  PollState = "waiting"
	PollRetrying PollState = "retrying"
	PollGaveUp   PollState = "gave-up"
)

const (
	DefaultPollInterval  = 10 * time.Second
	DefaultMaxRetries    = 5
	DefaultOpenDelay     = 1500 * time.Millisecond
	DefaultIdentityDelay = time.Second
)

// Timings controls the poller cadence.
type Timings struct {
	Interval      time.Duration
	MaxRetries    int
	OpenDelay     time.Duration
	IdentityDelay time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		Interval:      DefaultPollInterval,
		MaxRetries:    DefaultMaxRetries,
		OpenDelay:     DefaultOpenDelay,
		IdentityDelay: DefaultIdentityDelay,
	}
}

// requestShapes are the request variants cycled through on retry. Servers
// differ on which one they answer.
var requestShapes = []map[string]any{
	{"type": "get-affinity"},
	{"action": "get-affinity"},
	{"command": "get-affinity"},
	{"cmd": "get-affinity"},
	{"type": "get_affinity"},
	{"action": "get_affinity"},
	{"command": "get_affinity"},
	{"cmd": "get_affinity"},
	{"method": "get-affinity"},
	{"method": "get_affinity"},
	{"request": "affinity"},
	{"query": "affinity"},
	{"get": "affinity"},
	{"type": "HeartAffinity", "action": "get"},
	{"type": "heartaffinity", "action": "get"},
}

// AffinityRequest builds request variant n, stamped with the identity.
func AffinityRequest(n int, id entities.Identity) map[string]any {
	shape := requestShapes[n%len(requestShapes)]
	username := id.Username
	if username == "" {
		username = "guest"
	}
	msg := map[string]any{
		"user_id":       id.RequestUserID(),
		"username":      username,
		"authenticated": id.Authenticated,
	}
	for k, v := range shape {
		msg[k] = v
	}
	return msg
}

type pollEvent int

const (
	evOpen pollEvent = iota
	evClosed
	evIdentityChanged
	evReceived
)

// Poller asks the server for the affinity score until one arrives. It is
// driven by connection, identity and receipt events and runs in one goroutine.
type Poller struct {
	sender   repositories.Sender
	identity func() entities.Identity
	timings  Timings
	logger   *zap.Logger

	events  chan pollEvent
	states  chan PollState
	state   PollState
	open    bool
	got     bool
	retries int
}

func NewPoller(sender repositories.Sender, identity func() entities.Identity, timings Timings, logger *zap.Logger) *Poller {
	return &Poller{
		sender:   sender,
		identity: identity,
		timings:  timings,
		logger:   logger,
		events:   make(chan pollEvent, 16),
		states:   make(chan PollState, 16),
		state:    PollIdle,
	}
}

func (p *Poller) ConnectionOpened() { p.emit(evOpen) }
func (p *Poller) ConnectionClosed() { p.emit(evClosed) }
func (p *Poller) IdentityChanged()  { p.emit(evIdentityChanged) }
func (p *Poller) AffinityReceived() { p.emit(evReceived) }

// States reports state transitions. Slow readers miss transitions.
func (p *Poller) States() <-chan PollState { return p.states }

func (p *Poller) emit(ev pollEvent) {
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("Affinity poller event dropped", zap.Int("event", int(ev)))
	}
}

// Run processes events until ctx ends.
func (p *Poller) Run(ctx context.Context) {
	var (
		ticker *time.Ticker
		tickC  <-chan time.Time
		delay  *time.Timer
		delayC <-chan time.Time
	)
	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tickC = nil, nil
		}
	}
	stopDelay := func() {
		if delay != nil {
			delay.Stop()
			delay, delayC = nil, nil
		}
	}
	schedule := func(after time.Duration) {
		stopDelay()
		delay = time.NewTimer(after)
		delayC = delay.C
	}
	defer stopTicker()
	defer stopDelay()

	for {
		select {
		case <-ctx.Done():
			return

		case ev := <-p.events:
			switch ev {
			case evOpen:
				p.open = true
				p.retries = 0
				if p.got {
					continue
				}
				p.setState(PollWaiting)
				if p.identity().Authenticated {
					schedule(p.timings.OpenDelay)
				}
				stopTicker()
				ticker = time.NewTicker(p.timings.Interval)
				tickC = ticker.C

			case evIdentityChanged:
				if !p.open || !p.identity().Authenticated {
					continue
				}
				p.got = false
				p.retries = 0
				p.setState(PollWaiting)
				schedule(p.timings.IdentityDelay)
				if ticker == nil {
					ticker = time.NewTicker(p.timings.Interval)
					tickC = ticker.C
				}

			case evReceived:
				p.got = true
				stopTicker()
				stopDelay()
				p.setState(PollIdle)

			case evClosed:
				p.open = false
				stopTicker()
				stopDelay()
				p.setState(PollIdle)
			}

		case <-delayC:
			delay, delayC = nil, nil
			if p.open && !p.got {
				p.request()
			}

		case <-tickC:
			if !p.open || p.got {
				stopTicker()
				continue
			}
			if p.retries >= p.timings.MaxRetries {
				p.logger.Warn("Giving up on affinity", zap.Int("retries", p.retries))
				stopTicker()
				p.setState(PollGaveUp)
				continue
			}
			p.retries++
			p.setState(PollRetrying)
			p.request()
		}
	}
}

func (p *Poller) request() {
	msg := AffinityRequest(p.retries, p.identity())
	if err := p.sender.Send(msg); err != nil {
		p.logger.Warn("Failed to request affinity", zap.Error(err))
		return
	}
	p.logger.Debug("Requested affinity", zap.Int("attempt", p.retries))
}

func (p *Poller) setState(s PollState) {
	if p.state == s {
		return
	}
	p.state = s
	select {
	case p.states <- s:
	default:
	}
}

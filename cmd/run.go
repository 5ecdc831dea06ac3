package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satriahrh/arunika/companion/adapters/audio"
	"github.com/satriahrh/arunika/companion/adapters/avatar"
	"github.com/satriahrh/arunika/companion/adapters/natsmirror"
	"github.com/satriahrh/arunika/companion/domain/entities"
	"github.com/satriahrh/arunika/companion/internal/affinity"
	"github.com/satriahrh/arunika/companion/internal/api"
	playback "github.com/satriahrh/arunika/companion/internal/audio"
	"github.com/satriahrh/arunika/companion/internal/billing"
	"github.com/satriahrh/arunika/companion/internal/eventbus"
	"github.com/satriahrh/arunika/companion/internal/interrupt"
	"github.com/satriahrh/arunika/companion/internal/mcp"
	"github.com/satriahrh/arunika/companion/internal/outbound"
	"github.com/satriahrh/arunika/companion/internal/proactive"
	"github.com/satriahrh/arunika/companion/internal/state"
	"github.com/satriahrh/arunika/companion/internal/subtitle"
	"github.com/satriahrh/arunika/companion/internal/taskqueue"
	"github.com/satriahrh/arunika/companion/internal/tracer"
	"github.com/satriahrh/arunika/companion/internal/websocket"
	"github.com/satriahrh/arunika/companion/usecase"
)

const (
	shutdownTimeout = 10 * time.Second
	billingTimeout  = 5 * time.Second
)

// connection binds the client to the configured endpoint for the API.
type connection struct {
	client *websocket.Client
	url    string
	token  func() string
}

func (c connection) Connect(ctx context.Context) error {
	return c.client.Connect(ctx, c.url, c.token())
}

func (c connection) Disconnect()                { c.client.Disconnect() }
func (c connection) State() websocket.ConnState { return c.client.State() }

func run(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := bootstrap(ctx, cmd)
	if err != nil {
		return err
	}
	defer b.Close()
	cfg, logger := b.cfg, b.logger

	shutdownTracer, err := tracer.Init(ctx, cfg.OTel.Enabled, cfg.OTel.Endpoint, logger)
	if err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracer(sctx); err != nil {
			logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}()

	bus := eventbus.New(logger)
	defer bus.Close()

	printer := newPrinter(cmd.OutOrStdout())
	if err := printer.Subscribe(ctx, bus); err != nil {
		return err
	}

	if cfg.NATS.URL != "" {
		mirror, err := natsmirror.Connect(cfg.NATS.URL, logger)
		if err != nil {
			return err
		}
		defer mirror.Close()
		if err := mirror.Start(ctx, bus, eventbus.AllTopics...); err != nil {
			return err
		}
	}

	// Transport and pacing.
	client := websocket.NewClient(websocket.NewOutboundValidator(), logger)
	conn := connection{client: client, url: cfg.WS.URL, token: b.identity.Token}

	outQueue := outbound.New(cfg.Outbound.Interval, cfg.Outbound.MaxSize, logger)
	defer outQueue.Close()
	outQueue.SetSendCallback(client.Send)

	tasks := taskqueue.New(cfg.Queue.TaskInterval, logger, taskqueue.WithTaskTimeout(cfg.Queue.TaskTimeout))
	defer tasks.Close()

	// Session state and presentation.
	store := usecase.NewTranscript(state.New(), bus, logger)
	subtitles := subtitle.New(subtitle.DefaultAutoHide)
	defer subtitles.Stop()
	model := avatar.NewLogAvatar(logger)

	player := playback.NewPlayer(playback.PlayerDeps{
		Registry:     playback.NewRegistry(),
		Loader:       audio.NewClipPlayer(logger),
		Avatar:       model,
		Sender:       client,
		Conversation: store,
		Subtitle:     subtitles,
		Logger:       logger,
	}, playback.WithPlaybackTimeout(cfg.Audio.PlaybackTimeout))

	coordinator := interrupt.NewCoordinator(player, tasks, store, subtitles, client, logger)

	driver := affinity.NewDriver(b.store, logger, affinity.DefaultDurations())
	defer driver.Close()
	if err := driver.Seed(ctx); err != nil {
		logger.Warn("Failed to seed affinity", zap.Error(err))
	}
	timings := affinity.DefaultTimings()
	timings.Interval = cfg.Affinity.PollInterval
	timings.MaxRetries = cfg.Affinity.MaxRetries
	poller := affinity.NewPoller(client, b.identity.Identity, timings, logger)
	driver.OnReceived(poller.AffinityReceived)
	driver.OnCue(func(cue affinity.CueEvent) {
		publish(bus, logger, eventbus.TopicAffinityCue, cue)
	})

	session := usecase.NewSessionService(usecase.SessionDeps{
		State:     store,
		Subtitle:  subtitles,
		Tasks:     tasks,
		Player:    player,
		Interrupt: coordinator,
		Affinity:  driver,
		Poller:    poller,
		Sender:    client,
		Bus:       bus,
		Logger:    logger,
	}, usecase.SessionOptions{
		BaseURL:      cfg.Base.URL,
		AutoStartMic: cfg.Mic.AutoStart,
		DrainWait:    playback.DefaultDrainWait,
	})
	defer session.Close()

	gate := billing.NewGate(cfg.Base.URL, b.identity.Token, &http.Client{Timeout: billingTimeout}, logger)
	actions := usecase.NewActionService(usecase.ActionDeps{
		State:       store,
		Gate:        gate,
		Outbound:    outQueue,
		Sender:      client,
		Interrupter: coordinator,
		Player:      player,
		Avatar:      model,
		KV:          b.store,
		Bus:         bus,
		Identity:    b.identity.Identity,
		Logger:      logger,
	})
	gate.OnDenied(actions.BillingDenied)
	gate.OnCredits(actions.CreditsUpdated)
	if balance := b.identity.Identity().CreditsBalance; balance != nil {
		actions.CreditsUpdated(*balance)
	}

	visits, err := actions.RecordVisit(ctx)
	if err != nil {
		logger.Warn("Failed to record visit", zap.Error(err))
	}
	logger.Info("Companion starting", zap.Int("visitCount", visits))

	// MCP workspace and generated music.
	music := mcp.NewMusicManager(audio.NewStreamPlayer(nil, logger), logger)
	defer music.Stop()
	workspace := mcp.NewAggregator(logger,
		mcp.WithHistoryCap(cfg.MCP.HistoryCap),
		mcp.WithResultHook(music.HandleToolResult))
	workspace.SetAutoOpen(func() {
		logger.Info("MCP workspace opened")
	})
	if err := workspace.Consume(ctx, bus); err != nil {
		return err
	}

	speaker := proactive.NewSpeaker(b.store,
		func() bool { return tasks.HasTask() || player.HasActivity() },
		func(idle float64) {
			if err := actions.TriggerSpeak(ctx, idle, nil); err != nil {
				logger.Warn("Proactive speak failed", zap.Error(err))
			}
		}, logger)
	defer speaker.Stop()
	if err := speaker.Load(ctx); err != nil {
		logger.Warn("Failed to load proactive settings", zap.Error(err))
	}
	store.OnAiStateChange(speaker.OnAiStateChange)

	client.OnMessage(session.HandleRaw)
	client.OnStateChange(func(s websocket.ConnState) {
		publish(bus, logger, eventbus.TopicWSState, map[string]string{"state": string(s)})
		switch s {
		case websocket.StateOpen:
			session.ConnectionOpened()
			actions.ConnectionOpened(ctx)
		case websocket.StateClosed:
			session.ConnectionClosed()
		}
	})

	g, gctx := errgroup.WithContext(ctx)

	// A new identity restarts affinity polling and reconnects with the new
	// token when a connection is up.
	b.identity.OnChange(func(id entities.Identity) {
		logger.Info("Identity changed",
			zap.String("userId", id.UserID),
			zap.Bool("authenticated", id.Authenticated))
		poller.IdentityChanged()
		if id.CreditsBalance != nil {
			actions.CreditsUpdated(*id.CreditsBalance)
		}
		if conn.State() != websocket.StateOpen {
			return
		}
		go func() {
			conn.Disconnect()
			if err := conn.Connect(gctx); err != nil {
				logger.Warn("Reconnect after identity change failed", zap.Error(err))
			}
		}()
	})

	g.Go(func() error {
		poller.Run(gctx)
		return nil
	})

	if cfg.API.Addr != "" {
		e := echo.New()
		e.HideBanner = true
		e.Use(middleware.Logger())
		e.Use(middleware.Recover())
		e.Use(middleware.CORS())
		api.InitRoutes(e, api.Deps{
			Connection: conn,
			Actions:    actions,
			Session:    store,
			Subtitle:   subtitles,
			Mcp:        workspace,
			Music:      music,
			Affinity:   driver,
			Proactive:  speaker,
			Identity:   b.identity,
		}, logger)

		g.Go(func() error {
			logger.Info("Control API listening", zap.String("addr", cfg.API.Addr))
			if err := e.Start(cfg.API.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("control API: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return e.Shutdown(sctx)
		})
	}

	if err := conn.Connect(gctx); err != nil {
		logger.Error("Initial connect failed; use the control API or restart to retry", zap.Error(err))
	}
	defer client.Disconnect()

	repl := &console{actions: actions, store: store, logger: logger, quit: stop}
	go repl.Run(gctx, cmd.InOrStdin())

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Companion stopped")
	return nil
}

func publish(bus *eventbus.Bus, logger *zap.Logger, topic string, payload any) {
	if err := bus.Publish(topic, payload); err != nil {
		logger.Warn("Failed to publish", zap.String("topic", topic), zap.Error(err))
	}
}

// console turns stdin lines into actions.
type console struct {
	actions *usecase.ActionService
	store   *usecase.Transcript
	logger  *zap.Logger
	quit    context.CancelFunc
}

func (c *console) Run(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if !c.handle(ctx, strings.TrimSpace(scanner.Text())) {
			c.quit()
			return
		}
	}
}

// handle runs one command and reports whether to keep reading.
func (c *console) handle(ctx context.Context, line string) bool {
	var err error
	switch {
	case line == "":
	case line == "/quit":
		return false
	case line == "/interrupt":
		if !c.actions.Interrupt() {
			c.logger.Info("Nothing to interrupt")
		}
	case strings.HasPrefix(line, "/speak"):
		idle := 0.0
		if arg := strings.TrimSpace(strings.TrimPrefix(line, "/speak")); arg != "" {
			if idle, err = strconv.ParseFloat(arg, 64); err != nil {
				err = fmt.Errorf("invalid idle seconds %q", arg)
				break
			}
		}
		err = c.actions.TriggerSpeak(ctx, idle, nil)
	case line == "/history":
		for i, h := range c.store.Histories() {
			marker := " "
			if h.UID == c.store.CurrentHistory() {
				marker = "*"
			}
			title := h.Title
			if title == "" && h.LatestMessage != nil {
				title = h.LatestMessage.Content
			}
			fmt.Printf("%s %d. %s %s\n", marker, i+1, h.UID, title)
		}
		err = c.actions.FetchHistoryList()
	case strings.HasPrefix(line, "/load "):
		err = c.actions.LoadHistory(strings.TrimSpace(strings.TrimPrefix(line, "/load ")))
	case line == "/new":
		err = c.actions.CreateHistory()
	default:
		err = c.actions.SendText(ctx, line, nil)
	}
	if err != nil {
		c.logger.Warn("Command failed", zap.String("command", line), zap.Error(err))
	}
	return true
}

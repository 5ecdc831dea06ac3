package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/companion/domain/entities"
	"github.com/satriahrh/arunika/companion/internal/affinity"
	"github.com/satriahrh/arunika/companion/internal/auth"
	"github.com/satriahrh/arunika/companion/internal/mcp"
	"github.com/satriahrh/arunika/companion/internal/proactive"
	"github.com/satriahrh/arunika/companion/internal/state"
	"github.com/satriahrh/arunika/companion/internal/websocket"
	"github.com/satriahrh/arunika/companion/usecase"
)

// Connection is the server link as the API sees it.
type Connection interface {
	Connect(ctx context.Context) error
	Disconnect()
	State() websocket.ConnState
}

// Actions are the user actions the API exposes.
type Actions interface {
	SendText(ctx context.Context, text string, images []entities.Image) error
	TriggerSpeak(ctx context.Context, idleSeconds float64, images []entities.Image) error
	Interrupt() bool
	FetchHistoryList() error
	LoadHistory(uid string) error
	CreateHistory() error
	PinHistory(uid string, pinned bool) error
	RenameHistory(uid, title string) error
	DeleteHistory(uid string) error
	Tap(x, y float64) string
}

type Session interface {
	Snapshot() state.Snapshot
}

type Subtitle interface {
	Text() string
}

type McpSessions interface {
	Sessions() []entities.McpSessionRecord
	Active() bool
	ClearHistory()
}

type Music interface {
	Playing() bool
	Volume() float64
	SetVolume(v float64)
	Stop()
	Latest() (mcp.MusicInfo, bool)
	History() []mcp.MusicInfo
}

type Affinity interface {
	View() affinity.View
}

type Proactive interface {
	Settings() proactive.Settings
	Update(ctx context.Context, s proactive.Settings) error
}

// Identity is the signed-in user. SetToken switches it; an empty token signs
// out.
type Identity interface {
	Identity() entities.Identity
	SetToken(ctx context.Context, token string) (entities.Identity, error)
}

// Deps are the components behind the routes.
type Deps struct {
	Connection Connection
	Actions    Actions
	Session    Session
	Subtitle   Subtitle
	Mcp        McpSessions
	Music      Music
	Affinity   Affinity
	Proactive  Proactive
	Identity   Identity
}

type handler struct {
	Deps
	validate *validator.Validate
	logger   *zap.Logger
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Deps, logger *zap.Logger) {
	h := &handler{Deps: deps, validate: validator.New(), logger: logger}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "companion-client",
		})
	})

	v1 := e.Group("/api/v1")

	v1.GET("/state", h.getState)
	v1.POST("/connect", h.connect)
	v1.POST("/disconnect", h.disconnect)

	v1.POST("/text", h.sendText)
	v1.POST("/interrupt", h.interrupt)
	v1.POST("/speak", h.speak)

	v1.GET("/histories", h.getHistories)
	v1.POST("/histories", h.createHistory)
	v1.POST("/histories/refresh", h.refreshHistories)
	v1.POST("/histories/:uid/load", h.loadHistory)
	v1.POST("/histories/:uid/pin", h.pinHistory)
	v1.POST("/histories/:uid/rename", h.renameHistory)
	v1.DELETE("/histories/:uid", h.deleteHistory)

	v1.GET("/mcp/sessions", h.getMcpSessions)
	v1.DELETE("/mcp/sessions", h.clearMcpSessions)
	v1.GET("/music", h.getMusic)
	v1.POST("/music/stop", h.stopMusic)
	v1.PUT("/music/volume", h.setMusicVolume)

	v1.GET("/affinity", h.getAffinity)
	v1.GET("/proactive", h.getProactive)
	v1.PUT("/proactive", h.updateProactive)

	v1.POST("/avatar/tap", h.tap)

	v1.GET("/identity", h.getIdentity)
	v1.POST("/identity", h.setIdentity)
}

func (h *handler) getState(c echo.Context) error {
	return c.JSON(http.StatusOK, StateResponse{
		Connection: string(h.Connection.State()),
		Subtitle:   h.Subtitle.Text(),
		Session:    h.Session.Snapshot(),
	})
}

func (h *handler) connect(c echo.Context) error {
	if err := h.Connection.Connect(c.Request().Context()); err != nil {
		h.logger.Warn("Connect requested over API failed", zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "connect_failed",
			Message: err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"connection": string(h.Connection.State())})
}

func (h *handler) disconnect(c echo.Context) error {
	h.Connection.Disconnect()
	return c.JSON(http.StatusOK, map[string]string{"connection": string(h.Connection.State())})
}

func (h *handler) sendText(c echo.Context) error {
	var req TextRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	if err := h.Actions.SendText(c.Request().Context(), req.Text, req.Images); err != nil {
		return h.actionError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *handler) interrupt(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{"interrupted": h.Actions.Interrupt()})
}

func (h *handler) speak(c echo.Context) error {
	var req SpeakRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	if err := h.Actions.TriggerSpeak(c.Request().Context(), req.IdleSeconds, nil); err != nil {
		return h.actionError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *handler) getHistories(c echo.Context) error {
	snap := h.Session.Snapshot()
	histories := snap.Histories
	if histories == nil {
		histories = []entities.HistoryInfo{}
	}
	return c.JSON(http.StatusOK, HistoriesResponse{Current: snap.CurrentHistoryUID, Histories: histories})
}

func (h *handler) createHistory(c echo.Context) error {
	if err := h.Actions.CreateHistory(); err != nil {
		return h.actionError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *handler) refreshHistories(c echo.Context) error {
	if err := h.Actions.FetchHistoryList(); err != nil {
		return h.actionError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *handler) loadHistory(c echo.Context) error {
	if err := h.Actions.LoadHistory(c.Param("uid")); err != nil {
		return h.actionError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *handler) pinHistory(c echo.Context) error {
	var req PinRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	if err := h.Actions.PinHistory(c.Param("uid"), req.Pinned); err != nil {
		return h.actionError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *handler) renameHistory(c echo.Context) error {
	var req RenameRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	if err := h.Actions.RenameHistory(c.Param("uid"), req.Title); err != nil {
		return h.actionError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *handler) deleteHistory(c echo.Context) error {
	if err := h.Actions.DeleteHistory(c.Param("uid")); err != nil {
		return h.actionError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *handler) getMcpSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, McpSessionsResponse{
		Active:   h.Mcp.Active(),
		Sessions: h.Mcp.Sessions(),
	})
}

func (h *handler) clearMcpSessions(c echo.Context) error {
	h.Mcp.ClearHistory()
	return c.NoContent(http.StatusNoContent)
}

func (h *handler) getMusic(c echo.Context) error {
	resp := MusicResponse{
		Playing: h.Music.Playing(),
		Volume:  h.Music.Volume(),
		History: h.Music.History(),
	}
	if resp.History == nil {
		resp.History = []mcp.MusicInfo{}
	}
	if latest, ok := h.Music.Latest(); ok {
		resp.Latest = &latest
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *handler) stopMusic(c echo.Context) error {
	h.Music.Stop()
	return c.NoContent(http.StatusNoContent)
}

func (h *handler) setMusicVolume(c echo.Context) error {
	var req VolumeRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	h.Music.SetVolume(req.Volume)
	return c.JSON(http.StatusOK, map[string]float64{"volume": h.Music.Volume()})
}

func (h *handler) getAffinity(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Affinity.View())
}

func (h *handler) getProactive(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Proactive.Settings())
}

func (h *handler) updateProactive(c echo.Context) error {
	var req proactive.Settings
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if err := h.Proactive.Update(c.Request().Context(), req); err != nil {
		return h.actionError(c, err)
	}
	return c.JSON(http.StatusOK, h.Proactive.Settings())
}

func (h *handler) tap(c echo.Context) error {
	var req TapRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"region": h.Actions.Tap(req.X, req.Y)})
}

func (h *handler) getIdentity(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Identity.Identity())
}

func (h *handler) setIdentity(c echo.Context) error {
	var req IdentityRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	id, err := h.Identity.SetToken(c.Request().Context(), req.Token)
	if err != nil {
		return h.actionError(c, err)
	}
	h.logger.Info("Identity changed over API",
		zap.String("userId", id.UserID),
		zap.Bool("authenticated", id.Authenticated))
	return c.JSON(http.StatusOK, id)
}

// bind decodes and validates the request body. On failure it has already
// written the error response; the returned error only stops the handler.
func (h *handler) bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		h.logger.Debug("Failed to bind request", zap.String("path", c.Path()), zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if err := h.validate.Struct(dst); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_failed",
			Message: err.Error(),
		})
	}
	return nil
}

func (h *handler) actionError(c echo.Context, err error) error {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, auth.ErrInvalidToken):
		status, code = http.StatusUnauthorized, "invalid_token"
	case errors.Is(err, usecase.ErrBillingDenied):
		status, code = http.StatusPaymentRequired, "billing_denied"
	case errors.Is(err, usecase.ErrEmptyText), errors.Is(err, usecase.ErrMissingHistory),
		errors.Is(err, proactive.ErrInvalidSettings), errors.Is(err, websocket.ErrInvalidMessage):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, websocket.ErrNotConnected), errors.Is(err, websocket.ErrSendBufferFull):
		status, code = http.StatusServiceUnavailable, "not_connected"
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("API action failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.JSON(status, ErrorResponse{Error: code, Message: err.Error()})
}

package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Denial reasons reported by the server.
const (
	ReasonInsufficientCredits = "insufficient_credits"
	ReasonDailyLimitReached   = "daily_limit_reached"
)

const checkPath = "/api/billing/check-and-deduct"

// Denial is an explicit refusal to run a metered action.
type Denial struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type checkResponse struct {
	Allowed        bool     `json:"allowed"`
	Reason         string   `json:"reason,omitempty"`
	Message        string   `json:"message,omitempty"`
	CreditsBalance *float64 `json:"credits_balance,omitempty"`
}

// Gate asks the server whether a metered action may run. Only an explicit
// denial stops the action; everything else lets it through because the
// server enforces the real limit.
type Gate struct {
	api    apiClient
	logger *zap.Logger

	inFlight atomic.Bool

	mu        sync.RWMutex
	onCredits func(balance float64)
	onDenied  func(Denial)
}

func NewGate(baseURL string, token TokenFunc, httpClient *http.Client, logger *zap.Logger) *Gate {
	return &Gate{
		api:    newAPIClient(baseURL, token, httpClient),
		logger: logger,
	}
}

// OnCredits registers the listener for balances reported by the server.
func (g *Gate) OnCredits(fn func(balance float64)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onCredits = fn
}

// OnDenied registers the listener shown an explicit denial.
func (g *Gate) OnDenied(fn func(Denial)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onDenied = fn
}

// CheckAndDeduct reports whether the next metered action may proceed.
// A call made while another check is pending passes without asking.
func (g *Gate) CheckAndDeduct(ctx context.Context) bool {
	token := g.api.token()
	if token == "" {
		return true
	}
	if !g.inFlight.CompareAndSwap(false, true) {
		g.logger.Debug("Billing check already in flight, allowing")
		return true
	}
	defer g.inFlight.Store(false)

	status, body, err := g.api.do(ctx, http.MethodPost, checkPath, token, nil)
	if err != nil {
		g.logger.Warn("Billing check failed, allowing message", zap.Error(err))
		return true
	}
	if status != http.StatusOK {
		g.logger.Warn("Billing check HTTP error, allowing message", zap.Int("status", status))
		return true
	}

	var resp checkResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		g.logger.Warn("Billing check returned malformed body, allowing message", zap.Error(err))
		return true
	}

	g.mu.RLock()
	onCredits, onDenied := g.onCredits, g.onDenied
	g.mu.RUnlock()

	if resp.CreditsBalance != nil && onCredits != nil {
		onCredits(*resp.CreditsBalance)
	}
	if resp.Allowed {
		return true
	}

	denial := Denial{Reason: resp.Reason, Message: resp.Message}
	g.logger.Info("Billing denied action", zap.String("reason", denial.Reason))
	if onDenied != nil {
		onDenied(denial)
	}
	return false
}

package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var (
	ErrNotLoggedIn     = errors.New("not logged in")
	ErrCheckoutFailed  = errors.New("failed to create checkout session")
	ErrExportFailed    = errors.New("export failed")
	ErrDeleteFailed    = errors.New("failed to delete account")
	ErrInvalidCheckout = errors.New("invalid checkout request")
)

const (
	CheckoutSubscription = "subscription"
	CheckoutCredits      = "credits"
)

const (
	checkoutPath = "/api/stripe/create-checkout"
	exportPath   = "/api/auth/export"
	accountPath  = "/api/auth/account"
)

// CheckoutRequest selects a subscription plan or a credits pack.
type CheckoutRequest struct {
	Type    string `json:"type" validate:"required,oneof=subscription credits"`
	Plan    string `json:"plan,omitempty" validate:"required_if=Type subscription"`
	Credits int    `json:"credits,omitempty" validate:"required_if=Type credits,gte=0"`
}

type checkoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
	Detail      string `json:"detail"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// AccountClient performs explicit account actions. Unlike the gate it never
// fails open.
type AccountClient struct {
	api      apiClient
	validate *validator.Validate
	logger   *zap.Logger
}

func NewAccountClient(baseURL string, token TokenFunc, httpClient *http.Client, logger *zap.Logger) *AccountClient {
	return &AccountClient{
		api:      newAPIClient(baseURL, token, httpClient),
		validate: validator.New(),
		logger:   logger,
	}
}

// CreateCheckout returns the payment page URL for req.
func (c *AccountClient) CreateCheckout(ctx context.Context, req CheckoutRequest) (string, error) {
	if err := c.validate.Struct(req); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCheckout, err)
	}
	token := c.api.token()
	if token == "" {
		return "", ErrNotLoggedIn
	}

	_, body, err := c.api.do(ctx, http.MethodPost, checkoutPath, token, req)
	if err != nil {
		return "", err
	}
	var resp checkoutResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrCheckoutFailed, err)
	}
	if resp.CheckoutURL == "" {
		if resp.Detail != "" {
			return "", fmt.Errorf("%w: %s", ErrCheckoutFailed, resp.Detail)
		}
		return "", ErrCheckoutFailed
	}

	c.logger.Info("Checkout session created", zap.String("type", req.Type))
	return resp.CheckoutURL, nil
}

// ExportData returns the user's data export as raw JSON.
func (c *AccountClient) ExportData(ctx context.Context) (json.RawMessage, error) {
	token := c.api.token()
	if token == "" {
		return nil, ErrNotLoggedIn
	}

	status, body, err := c.api.do(ctx, http.MethodGet, exportPath, token, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrExportFailed, detail(status, body))
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: response is not JSON", ErrExportFailed)
	}
	return json.RawMessage(body), nil
}

// DeleteAccount permanently deletes the account. The password confirms it.
func (c *AccountClient) DeleteAccount(ctx context.Context, password string) error {
	if password == "" {
		return fmt.Errorf("%w: password is required", ErrDeleteFailed)
	}
	token := c.api.token()
	if token == "" {
		return ErrNotLoggedIn
	}

	status, body, err := c.api.do(ctx, http.MethodDelete, accountPath, token, map[string]string{"password": password})
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("%w: %s", ErrDeleteFailed, detail(status, body))
	}

	c.logger.Info("Account deleted")
	return nil
}

func detail(status int, body []byte) string {
	var resp errorResponse
	if err := json.Unmarshal(body, &resp); err == nil && resp.Detail != "" {
		return resp.Detail
	}
	return fmt.Sprintf("status %d", status)
}

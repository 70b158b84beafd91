package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/mentorium-app/mentorium-api/pkg/config"
	appErrors "github.com/mentorium-app/mentorium-api/pkg/errors"
)

// Intent statuses reported by the payment gateway.
const (
	IntentStatusSucceeded      = "succeeded"
	IntentStatusRequiresAction = "requires_action"
)

// Intent is the gateway-side payment intent. Metadata carries the
// (class, student) binding stamped on at creation time.
type Intent struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"client_secret"`
	AmountCents  int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	Metadata     map[string]string `json:"metadata"`
}

type apiErrorResponse struct {
	Error struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
	} `json:"error"`
}

// Client talks to the card processor over its form-encoded HTTP API. Calls
// return either a terminal verdict or an error; the client never retries a
// charge on its own.
type Client struct {
	http   *resty.Client
	cfg    config.GatewayConfig
	logger *zap.Logger
}

// NewClient constructs a gateway client from configuration.
func NewClient(cfg config.GatewayConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.SecretKey).
		SetHeader("Accept", "application/json")
	return &Client{http: httpClient, cfg: cfg, logger: logger}
}

// CreateIntent registers a charge of the given minor-unit amount with the
// gateway and returns the intent the client confirms against.
func (c *Client) CreateIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (*Intent, error) {
	if amountCents <= 0 {
		return nil, appErrors.ErrInvalidAmount
	}

	form := map[string]string{
		"amount":   strconv.FormatInt(amountCents, 10),
		"currency": currency,
	}
	for k, v := range metadata {
		form["metadata["+k+"]"] = v
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		Post("/payment_intents")
	if err != nil {
		return nil, appErrors.Wrap(err, "GATEWAY_UNAVAILABLE", 502, "payment service is unreachable")
	}
	return c.parseIntent(resp)
}

// ConfirmIntent submits the payment method against an existing intent. A card
// decline surfaces as ErrPaymentDeclined carrying the gateway's message.
func (c *Client) ConfirmIntent(ctx context.Context, intentID, paymentMethod string) (*Intent, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{"payment_method": paymentMethod}).
		Post(fmt.Sprintf("/payment_intents/%s/confirm", intentID))
	if err != nil {
		return nil, appErrors.Wrap(err, "GATEWAY_UNAVAILABLE", 502, "payment service is unreachable")
	}
	return c.parseIntent(resp)
}

// RetrieveIntent fetches the current state of an intent, including the
// metadata it was created with.
func (c *Client) RetrieveIntent(ctx context.Context, intentID string) (*Intent, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get(fmt.Sprintf("/payment_intents/%s", intentID))
	if err != nil {
		return nil, appErrors.Wrap(err, "GATEWAY_UNAVAILABLE", 502, "payment service is unreachable")
	}
	return c.parseIntent(resp)
}

func (c *Client) parseIntent(resp *resty.Response) (*Intent, error) {
	if resp.IsError() {
		var apiErr apiErrorResponse
		if err := json.Unmarshal(resp.Body(), &apiErr); err == nil && apiErr.Error.Message != "" {
			c.logger.Warn("gateway rejected request",
				zap.Int("status", resp.StatusCode()),
				zap.String("type", apiErr.Error.Type),
				zap.String("code", apiErr.Error.Code))
			if apiErr.Error.Type == "card_error" || resp.StatusCode() == 402 {
				return nil, appErrors.Clone(appErrors.ErrPaymentDeclined, apiErr.Error.Message)
			}
			return nil, appErrors.New("GATEWAY_ERROR", 502, apiErr.Error.Message)
		}
		return nil, appErrors.New("GATEWAY_ERROR", 502, fmt.Sprintf("payment service returned status %d", resp.StatusCode()))
	}

	var intent Intent
	if err := json.Unmarshal(resp.Body(), &intent); err != nil {
		return nil, appErrors.Wrap(err, "GATEWAY_ERROR", 502, "payment service returned an unreadable response")
	}
	return &intent, nil
}

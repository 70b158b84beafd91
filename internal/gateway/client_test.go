package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mentorium-app/mentorium-api/pkg/config"
	appErrors "github.com/mentorium-app/mentorium-api/pkg/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(config.GatewayConfig{
		BaseURL:   server.URL,
		SecretKey: "sk_test_123",
		Timeout:   5 * time.Second,
		Currency:  "usd",
	}, nil)
	return client, server
}

func TestClientCreateIntent(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/payment_intents", r.URL.Path)
		require.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		require.Equal(t, "5000", r.PostFormValue("amount"))
		require.Equal(t, "usd", r.PostFormValue("currency"))
		require.Equal(t, "class-1", r.PostFormValue("metadata[class_id]"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"pi_123","client_secret":"pi_123_secret","amount":5000,"currency":"usd","status":"requires_payment_method"}`))
	})

	intent, err := client.CreateIntent(context.Background(), 5000, "usd", map[string]string{"class_id": "class-1"})
	require.NoError(t, err)
	require.Equal(t, "pi_123", intent.ID)
	require.Equal(t, "pi_123_secret", intent.ClientSecret)
	require.Equal(t, int64(5000), intent.AmountCents)
}

func TestClientCreateIntentRejectsNonPositiveAmount(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("gateway must not be called for a non-positive amount")
	})

	_, err := client.CreateIntent(context.Background(), 0, "usd", nil)
	require.True(t, appErrors.HasCode(err, appErrors.ErrInvalidAmount))
}

func TestClientConfirmIntentDeclined(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/payment_intents/pi_123/confirm", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","decline_code":"insufficient_funds","message":"Your card has insufficient funds."}}`))
	})

	_, err := client.ConfirmIntent(context.Background(), "pi_123", "pm_card")
	require.True(t, appErrors.HasCode(err, appErrors.ErrPaymentDeclined))
	require.Contains(t, appErrors.FromError(err).Message, "insufficient funds")
}

func TestClientConfirmIntentSucceeded(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"pi_123","amount":5000,"currency":"usd","status":"succeeded"}`))
	})

	intent, err := client.ConfirmIntent(context.Background(), "pi_123", "pm_card")
	require.NoError(t, err)
	require.Equal(t, IntentStatusSucceeded, intent.Status)
}

func TestClientRetrieveIntentParsesMetadata(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/payment_intents/pi_123", r.URL.Path)
		require.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"pi_123","amount":5000,"currency":"usd","status":"requires_confirmation","metadata":{"class_id":"class-1","student_email":"student@example.com"}}`))
	})

	intent, err := client.RetrieveIntent(context.Background(), "pi_123")
	require.NoError(t, err)
	require.Equal(t, "pi_123", intent.ID)
	require.Equal(t, int64(5000), intent.AmountCents)
	require.Equal(t, "class-1", intent.Metadata["class_id"])
	require.Equal(t, "student@example.com", intent.Metadata["student_email"])
}

func TestClientGatewayErrorPassthrough(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"type":"api_error","message":"An unexpected error occurred."}}`))
	})

	_, err := client.CreateIntent(context.Background(), 5000, "usd", nil)
	require.Error(t, err)
	require.Equal(t, "GATEWAY_ERROR", appErrors.FromError(err).Code)
	require.False(t, appErrors.HasCode(err, appErrors.ErrPaymentDeclined))
}

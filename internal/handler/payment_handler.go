package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mentorium-app/mentorium-api/internal/service"
	appErrors "github.com/mentorium-app/mentorium-api/pkg/errors"
	"github.com/mentorium-app/mentorium-api/pkg/response"
)

// PaymentHandler exposes the checkout endpoints.
type PaymentHandler struct {
	payments *service.PaymentService
	checkout *service.CheckoutService
}

// NewPaymentHandler constructs a payment handler.
func NewPaymentHandler(payments *service.PaymentService, checkout *service.CheckoutService) *PaymentHandler {
	return &PaymentHandler{payments: payments, checkout: checkout}
}

// CreateIntent godoc
// @Summary Create payment intent
// @Description Prepares a gateway payment intent for the caller's enrollment in a class
// @Tags Payments
// @Accept json
// @Produce json
// @Param payload body service.CreateIntentRequest true "Intent payload"
// @Success 200 {object} response.Envelope
// @Failure 402 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /payments/create-payment-intent [post]
func (h *PaymentHandler) CreateIntent(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payment intent payload"))
		return
	}

	intent, err := h.payments.CreateIntent(c.Request.Context(), claims.Email, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, intent, nil)
}

// Confirm godoc
// @Summary Confirm payment
// @Description Submits the payment method and settles the checkout to a terminal outcome
// @Tags Payments
// @Accept json
// @Produce json
// @Param payload body service.ConfirmPaymentRequest true "Confirmation payload"
// @Success 200 {object} response.Envelope
// @Failure 402 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /payments/confirm [post]
func (h *PaymentHandler) Confirm(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid confirmation payload"))
		return
	}

	result, err := h.checkout.ConfirmPayment(c.Request.Context(), claims.Email, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

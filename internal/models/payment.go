package models

import "time"

// PaymentIntent is the ephemeral gateway-side authorization for a single
// enrollment attempt. It is created per attempt, consumed once, and never
// reused across classes or students.
type PaymentIntent struct {
	GatewayIntentID string    `json:"gateway_intent_id"`
	ClientSecret    string    `json:"client_secret"`
	ClassID         string    `json:"class_id"`
	StudentEmail    string    `json:"student_email"`
	AmountCents     int64     `json:"amount_cents"`
	Currency        string    `json:"currency"`
	CreatedAt       time.Time `json:"created_at"`
}

// CheckoutState enumerates the per-attempt confirmation state machine.
type CheckoutState string

const (
	CheckoutIdle       CheckoutState = "IDLE"
	CheckoutSubmitting CheckoutState = "SUBMITTING"
	CheckoutConfirming CheckoutState = "CONFIRMING"
	CheckoutSucceeded  CheckoutState = "SUCCEEDED"
	CheckoutFailed     CheckoutState = "FAILED"
)

// CheckoutOutcome names the user-visible terminal result of one attempt.
type CheckoutOutcome string

const (
	// OutcomeEnrolled is the happy path: charge confirmed, record written.
	OutcomeEnrolled CheckoutOutcome = "ENROLLED"
	// OutcomeAlreadyEnrolled resolves a race with a concurrent attempt:
	// the record already existed, no second charge or row is produced.
	OutcomeAlreadyEnrolled CheckoutOutcome = "ALREADY_ENROLLED"
	// OutcomeDeclined means the gateway refused the charge; the attempt
	// resets and the student may correct details and resubmit.
	OutcomeDeclined CheckoutOutcome = "DECLINED"
	// OutcomePaymentOrphaned means the charge succeeded but the enrollment
	// write failed; requires manual reconciliation, never auto-retried.
	OutcomePaymentOrphaned CheckoutOutcome = "PAYMENT_ORPHANED"
)

// CheckoutResult is returned to the caller after an attempt reaches a
// terminal state.
type CheckoutResult struct {
	Outcome      CheckoutOutcome `json:"outcome"`
	EnrollmentID string          `json:"enrollment_id,omitempty"`
	PaymentRef   string          `json:"payment_ref,omitempty"`
	Message      string          `json:"message,omitempty"`
}

package service

import (
	"fmt"
	"sync"

	"github.com/mentorium-app/mentorium-api/internal/models"
)

// CheckoutStateMachine serialises one checkout attempt through its states.
// Submission is legal from idle and from failed (a retry after a decline);
// succeeded is terminal. All transitions are guarded, so a second submit
// while a confirmation is in flight is rejected rather than racing.
type CheckoutStateMachine struct {
	mu    sync.Mutex
	state models.CheckoutState
}

// NewCheckoutStateMachine starts a machine in the idle state.
func NewCheckoutStateMachine() *CheckoutStateMachine {
	return &CheckoutStateMachine{state: models.CheckoutIdle}
}

// State returns the current state.
func (m *CheckoutStateMachine) State() models.CheckoutState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// BeginSubmit moves idle or failed to submitting. It reports an error while
// another submission is in flight or after the checkout already succeeded.
func (m *CheckoutStateMachine) BeginSubmit() error {
	return m.transition(models.CheckoutSubmitting, models.CheckoutIdle, models.CheckoutFailed)
}

// BeginConfirm moves submitting to confirming once the gateway call starts.
func (m *CheckoutStateMachine) BeginConfirm() error {
	return m.transition(models.CheckoutConfirming, models.CheckoutSubmitting)
}

// Succeed marks the checkout terminally succeeded.
func (m *CheckoutStateMachine) Succeed() error {
	return m.transition(models.CheckoutSucceeded, models.CheckoutConfirming)
}

// Fail marks the attempt failed. Failed is re-submittable.
func (m *CheckoutStateMachine) Fail() error {
	return m.transition(models.CheckoutFailed, models.CheckoutSubmitting, models.CheckoutConfirming)
}

func (m *CheckoutStateMachine) transition(to models.CheckoutState, from ...models.CheckoutState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range from {
		if m.state == f {
			m.state = to
			return nil
		}
	}
	return fmt.Errorf("illegal checkout transition %s -> %s", m.state, to)
}

package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorium-app/mentorium-api/internal/models"
)

func TestCheckoutStateMachineHappyPath(t *testing.T) {
	fsm := NewCheckoutStateMachine()
	assert.Equal(t, models.CheckoutIdle, fsm.State())

	require.NoError(t, fsm.BeginSubmit())
	assert.Equal(t, models.CheckoutSubmitting, fsm.State())

	require.NoError(t, fsm.BeginConfirm())
	assert.Equal(t, models.CheckoutConfirming, fsm.State())

	require.NoError(t, fsm.Succeed())
	assert.Equal(t, models.CheckoutSucceeded, fsm.State())
}

func TestCheckoutStateMachineRejectsDoubleSubmit(t *testing.T) {
	fsm := NewCheckoutStateMachine()
	require.NoError(t, fsm.BeginSubmit())

	assert.Error(t, fsm.BeginSubmit())

	require.NoError(t, fsm.BeginConfirm())
	assert.Error(t, fsm.BeginSubmit())
}

func TestCheckoutStateMachineFailedIsResubmittable(t *testing.T) {
	fsm := NewCheckoutStateMachine()
	require.NoError(t, fsm.BeginSubmit())
	require.NoError(t, fsm.Fail())
	assert.Equal(t, models.CheckoutFailed, fsm.State())

	require.NoError(t, fsm.BeginSubmit())
	assert.Equal(t, models.CheckoutSubmitting, fsm.State())
}

func TestCheckoutStateMachineSucceededIsTerminal(t *testing.T) {
	fsm := NewCheckoutStateMachine()
	require.NoError(t, fsm.BeginSubmit())
	require.NoError(t, fsm.BeginConfirm())
	require.NoError(t, fsm.Succeed())

	assert.Error(t, fsm.BeginSubmit())
	assert.Error(t, fsm.Fail())
	assert.Error(t, fsm.Succeed())
	assert.Equal(t, models.CheckoutSucceeded, fsm.State())
}

func TestCheckoutStateMachineRejectsConfirmFromIdle(t *testing.T) {
	fsm := NewCheckoutStateMachine()
	assert.Error(t, fsm.BeginConfirm())
	assert.Error(t, fsm.Succeed())
}

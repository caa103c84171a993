package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/veloretail/FulfillmentGo/pkg/errors"
)

func TestCompensationDoneRequiresRequired(t *testing.T) {
	saga := NewCancelSaga("order-1", true, false)

	require.NoError(t, saga.MarkInventoryCompensationDone())
	assert.True(t, saga.InventoryCompensationDone)

	// Payment compensation was never required; marking it done violates the
	// done-implies-required invariant.
	err := saga.MarkPaymentCompensationDone()
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	assert.False(t, saga.PaymentCompensationDone)
}

func TestIsCompensationFullyDone(t *testing.T) {
	tests := []struct {
		name string
		saga *OrderSaga
		want bool
	}{
		{
			name: "nothing required",
			saga: NewCancelSaga("order-1", false, false),
			want: true,
		},
		{
			name: "inventory required not done",
			saga: NewCancelSaga("order-1", true, false),
			want: false,
		},
		{
			name: "both required one done",
			saga: func() *OrderSaga {
				s := NewCancelSaga("order-1", true, true)
				_ = s.MarkPaymentCompensationDone()
				return s
			}(),
			want: false,
		},
		{
			name: "both required both done",
			saga: func() *OrderSaga {
				s := NewCancelSaga("order-1", true, true)
				_ = s.MarkInventoryCompensationDone()
				_ = s.MarkPaymentCompensationDone()
				return s
			}(),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.saga.IsCompensationFullyDone())
		})
	}
}

func TestSwitchToCancelFlow(t *testing.T) {
	saga := NewCreateSaga("order-1")
	saga.MarkInventoryReserved()

	require.NoError(t, saga.SwitchToCancelFlow(true, false))
	assert.Equal(t, SagaCancelFlow, saga.Status)
	assert.True(t, saga.InventoryCompensationRequired)
	assert.False(t, saga.PaymentCompensationRequired)

	// Only a create-flow saga can switch.
	err := saga.SwitchToCancelFlow(true, true)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestTerminalSagaIsImmutable(t *testing.T) {
	saga := NewCreateSaga("order-1")
	require.NoError(t, saga.Complete())
	assert.True(t, saga.IsTerminal())

	assert.Error(t, saga.Complete())
	assert.Error(t, saga.Fail("nope"))
	assert.Equal(t, SagaCompleted, saga.Status)

	failed := NewCreateSaga("order-2")
	require.NoError(t, failed.Fail("capture failed"))
	assert.True(t, failed.IsTerminal())
	assert.Equal(t, "capture failed", failed.FailureReason)
	assert.Error(t, failed.Complete())
}

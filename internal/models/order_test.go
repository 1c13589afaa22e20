package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOrder_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		order   Order
		wantErr error
	}{
		{name: "Market", order: MarketOrder(ActionBuy, 1)},
		{name: "Limit", order: LimitOrder(ActionSell, 2, 10)},
		{name: "Stop", order: Order{Action: ActionBuy, Type: OrderTypeStop, Quantity: 1}, wantErr: ErrUnsupportedOrderKind},
		{name: "Stop limit", order: Order{Action: ActionBuy, Type: OrderTypeStopLimit, Quantity: 1}, wantErr: ErrUnsupportedOrderKind},
		{name: "Bracket", order: Order{Action: ActionBuy, Type: OrderTypeBracket, Quantity: 1}, wantErr: ErrUnsupportedOrderKind},
		{name: "Zero quantity", order: MarketOrder(ActionBuy, 0), wantErr: ErrInvalidOrder},
		{name: "Negative quantity", order: MarketOrder(ActionSell, -1), wantErr: ErrInvalidOrder},
		{name: "Unknown action", order: MarketOrder("HOLD", 1), wantErr: ErrInvalidOrder},
		{name: "Limit without price", order: LimitOrder(ActionBuy, 1, 0), wantErr: ErrInvalidOrder},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.order.Validate()
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestOrder_SignedQuantity(t *testing.T) {
	assert.Equal(t, 3.0, MarketOrder(ActionBuy, 3).SignedQuantity())
	assert.Equal(t, -3.0, MarketOrder(ActionSell, 3).SignedQuantity())
}

func TestTrade_Lifecycle(t *testing.T) {
	// Arrange
	now := time.Date(2024, 1, 10, 9, 30, 0, 0, time.UTC)
	trade := NewTrade("t-1", Stock("SPY", "SMART"), MarketOrder(ActionSell, 2), now)

	// Act
	err := trade.MarkFilled(now, Fill{Time: now, Shares: -2, Price: 475.5}, 951)

	// Assert
	assert.NoError(t, err)
	assert.True(t, trade.IsDone())
	assert.Equal(t, StatusFilled, trade.Status)
	assert.Equal(t, -2.0, trade.FilledQuantity())
	assert.Equal(t, 951.0, trade.CashEffect)
	assert.Equal(t, []TradeLogEntry{
		{Time: now, Status: StatusSubmitted},
		{Time: now, Status: StatusSubmitted, Message: "Fill 2.0@475.50"},
		{Time: now, Status: StatusFilled},
	}, trade.Log)

	assert.ErrorIs(t, trade.MarkCancelled(now, "late"), ErrTradeDone)
	assert.ErrorIs(t, trade.MarkFilled(now, Fill{}, 0), ErrTradeDone)
}

func TestTrade_Cancel(t *testing.T) {
	now := time.Date(2024, 1, 10, 9, 30, 0, 0, time.UTC)
	trade := NewTrade("t-1", Stock("SPY", "SMART"), LimitOrder(ActionBuy, 1, 400), now)

	assert.NoError(t, trade.MarkCancelled(now.Add(time.Minute), "rejected"))

	assert.Equal(t, StatusCancelled, trade.Status)
	assert.Empty(t, trade.Fills)
	assert.Equal(t, "rejected", trade.Log[1].Message)
}

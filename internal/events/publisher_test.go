package events

import (
	"io"
	"math/big"
	"testing"

	"botmarket-backend/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureBroadcaster struct {
	types []string
	data  []interface{}
}

func (b *captureBroadcaster) Broadcast(eventType string, data interface{}) {
	b.types = append(b.types, eventType)
	b.data = append(b.data, data)
}

func newTestPublisher() (*Publisher, *captureBroadcaster) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	ws := &captureBroadcaster{}
	// nil NATS client: websocket-only mode
	return NewPublisher(nil, "", ws, logger), ws
}

func TestPublisherFansOutToWebSocket(t *testing.T) {
	publisher, ws := newTestPublisher()

	publisher.OrderCreated(&models.Order{
		ID:     7,
		Buyer:  "0x00000000000000000000000000000000000000c3",
		Seller: "0x00000000000000000000000000000000000000d4",
		ItemID: 42,
		Amount: "1000",
		Token:  "0x00000000000000000000000000000000000000e5",
	})
	publisher.OrderCompleted(7, big.NewInt(50), big.NewInt(950))
	publisher.OrderCancelled(8)
	publisher.OrderRefunded(9)
	publisher.TokenAdded("0x00000000000000000000000000000000000000e5")
	publisher.TokenRemoved("0x00000000000000000000000000000000000000e5")
	publisher.FeeUpdated(500)
	publisher.OwnershipTransferred(
		"0x00000000000000000000000000000000000000a1",
		"0x00000000000000000000000000000000000000f6",
	)

	assert.Equal(t, []string{
		EventOrderCreated,
		EventOrderCompleted,
		EventOrderCancelled,
		EventOrderRefunded,
		EventTokenAdded,
		EventTokenRemoved,
		EventFeeUpdated,
		EventOwnershipTransferred,
	}, ws.types)

	created, ok := ws.data[0].(OrderCreatedPayload)
	require.True(t, ok)
	assert.Equal(t, uint64(7), created.OrderID)
	assert.Equal(t, "1000", created.Amount)

	completed, ok := ws.data[1].(OrderCompletedPayload)
	require.True(t, ok)
	assert.Equal(t, "50", completed.FeeAmount)
	assert.Equal(t, "950", completed.SellerAmount)
}

func TestPublisherDefaultsPrefix(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	publisher := NewPublisher(nil, "", nil, logger)
	assert.Equal(t, DefaultSubjectPrefix, publisher.prefix)

	publisher = NewPublisher(nil, "custom", nil, logger)
	assert.Equal(t, "custom", publisher.prefix)

	// Both backends absent is valid: publishing is a no-op, not a panic
	publisher.OrderCancelled(1)
}

// Package events publishes settlement engine notifications to NATS and to
// connected websocket subscribers. Publishing is strictly best effort: a
// failed publish is logged and never fails the settlement operation that
// produced it.
package events

import (
	"encoding/json"
	"math/big"
	"time"

	"botmarket-backend/internal/clients"
	"botmarket-backend/internal/metrics"
	"botmarket-backend/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Event type names carried in the envelope and used as subject suffixes
const (
	EventOrderCreated         = "order_created"
	EventOrderCompleted       = "order_completed"
	EventOrderCancelled       = "order_cancelled"
	EventOrderRefunded        = "order_refunded"
	EventTokenAdded           = "token_added"
	EventTokenRemoved         = "token_removed"
	EventFeeUpdated           = "fee_updated"
	EventOwnershipTransferred = "ownership_transferred"
)

// DefaultSubjectPrefix used when the config leaves nats.event_prefix empty
const DefaultSubjectPrefix = "botmarket"

// Envelope wraps every published event
type Envelope struct {
	EventID   string      `json:"event_id"`
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// OrderCreatedPayload data of an order_created event
type OrderCreatedPayload struct {
	OrderID uint64 `json:"order_id"`
	Buyer   string `json:"buyer"`
	Seller  string `json:"seller"`
	ItemID  uint64 `json:"item_id"`
	Amount  string `json:"amount"`
	Token   string `json:"token"`
}

// OrderCompletedPayload data of an order_completed event
type OrderCompletedPayload struct {
	OrderID      uint64 `json:"order_id"`
	FeeAmount    string `json:"fee_amount"`
	SellerAmount string `json:"seller_amount"`
}

// OrderReversedPayload data of order_cancelled / order_refunded events
type OrderReversedPayload struct {
	OrderID uint64 `json:"order_id"`
}

// TokenPayload data of token_added / token_removed events
type TokenPayload struct {
	Token string `json:"token"`
}

// FeePayload data of a fee_updated event
type FeePayload struct {
	FeeBps int64 `json:"fee_bps"`
}

// OwnershipPayload data of an ownership_transferred event
type OwnershipPayload struct {
	PreviousOwner string `json:"previous_owner"`
	NewOwner      string `json:"new_owner"`
}

// Broadcaster pushes an event to websocket subscribers
type Broadcaster interface {
	Broadcast(eventType string, data interface{})
}

// Publisher implements the engine's event sink over NATS plus websocket
// fan-out. Either backend may be absent (nil) when not configured.
type Publisher struct {
	nats   *clients.NATSClient
	prefix string
	ws     Broadcaster
	logger *logrus.Logger
}

// NewPublisher creates a new Publisher instance
func NewPublisher(natsClient *clients.NATSClient, prefix string, ws Broadcaster, logger *logrus.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{nats: natsClient, prefix: prefix, ws: ws, logger: logger}
}

// OrderCreated publishes an order_created event
func (p *Publisher) OrderCreated(order *models.Order) {
	p.publish(EventOrderCreated, p.prefix+".orders.created", OrderCreatedPayload{
		OrderID: order.ID,
		Buyer:   order.Buyer,
		Seller:  order.Seller,
		ItemID:  order.ItemID,
		Amount:  order.Amount,
		Token:   order.Token,
	})
}

// OrderCompleted publishes an order_completed event with the settled split
func (p *Publisher) OrderCompleted(orderID uint64, feeAmount, sellerAmount *big.Int) {
	p.publish(EventOrderCompleted, p.prefix+".orders.completed", OrderCompletedPayload{
		OrderID:      orderID,
		FeeAmount:    feeAmount.String(),
		SellerAmount: sellerAmount.String(),
	})
}

// OrderCancelled publishes an order_cancelled event
func (p *Publisher) OrderCancelled(orderID uint64) {
	p.publish(EventOrderCancelled, p.prefix+".orders.cancelled", OrderReversedPayload{OrderID: orderID})
}

// OrderRefunded publishes an order_refunded event
func (p *Publisher) OrderRefunded(orderID uint64) {
	p.publish(EventOrderRefunded, p.prefix+".orders.refunded", OrderReversedPayload{OrderID: orderID})
}

// TokenAdded publishes a token_added event
func (p *Publisher) TokenAdded(token string) {
	p.publish(EventTokenAdded, p.prefix+".admin.token_added", TokenPayload{Token: token})
}

// TokenRemoved publishes a token_removed event
func (p *Publisher) TokenRemoved(token string) {
	p.publish(EventTokenRemoved, p.prefix+".admin.token_removed", TokenPayload{Token: token})
}

// FeeUpdated publishes a fee_updated event
func (p *Publisher) FeeUpdated(bps int64) {
	p.publish(EventFeeUpdated, p.prefix+".admin.fee_updated", FeePayload{FeeBps: bps})
}

// OwnershipTransferred publishes an ownership_transferred event
func (p *Publisher) OwnershipTransferred(previousOwner, newOwner string) {
	p.publish(EventOwnershipTransferred, p.prefix+".admin.ownership_transferred", OwnershipPayload{
		PreviousOwner: previousOwner,
		NewOwner:      newOwner,
	})
}

func (p *Publisher) publish(eventType, subject string, data interface{}) {
	envelope := Envelope{
		EventID:   uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Data:      data,
	}

	if p.nats != nil {
		payload, err := json.Marshal(envelope)
		if err != nil {
			metrics.EventPublishFailures.WithLabelValues(eventType).Inc()
			p.logger.WithError(err).WithField("event_type", eventType).
				Warn("Failed to marshal settlement event")
		} else if err := p.nats.Publish(subject, payload); err != nil {
			metrics.EventPublishFailures.WithLabelValues(eventType).Inc()
			p.logger.WithError(err).WithFields(logrus.Fields{
				"event_type": eventType,
				"subject":    subject,
			}).Warn("Failed to publish settlement event")
		} else {
			metrics.EventsPublished.WithLabelValues(eventType).Inc()
		}
	}

	if p.ws != nil {
		p.ws.Broadcast(eventType, data)
	}
}

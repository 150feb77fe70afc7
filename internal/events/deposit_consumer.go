package events

import (
	"context"
	"encoding/json"

	"botmarket-backend/internal/clients"
	"botmarket-backend/internal/metrics"
	"botmarket-backend/internal/models"
	"botmarket-backend/internal/services"
	"botmarket-backend/internal/utils"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// DefaultDepositSubject used when the config leaves nats.deposit_subject empty
const DefaultDepositSubject = "botmarket.chain.*.deposit"

// DepositMessage chain deposit event as delivered by the block scanner
type DepositMessage struct {
	ChainID         int64  `json:"chain_id"`
	TransactionHash string `json:"transaction_hash"`
	LogIndex        uint   `json:"log_index"`
	BlockNumber     uint64 `json:"block_number"`
	Depositor       string `json:"depositor"`
	Token           string `json:"token"`
	Amount          string `json:"amount"`
}

// DepositConsumer subscribes to scanner deposit events and credits buyer
// custody balances. Intake is idempotent on (tx_hash, log_index), so
// redelivery is safe.
type DepositConsumer struct {
	nats    *clients.NATSClient
	custody *services.CustodyService
	subject string
	logger  *logrus.Logger
}

// NewDepositConsumer creates a new DepositConsumer instance
func NewDepositConsumer(natsClient *clients.NATSClient, custody *services.CustodyService, subject string, logger *logrus.Logger) *DepositConsumer {
	if subject == "" {
		subject = DefaultDepositSubject
	}
	return &DepositConsumer{nats: natsClient, custody: custody, subject: subject, logger: logger}
}

// Start registers the NATS subscription
func (c *DepositConsumer) Start() error {
	_, err := c.nats.Subscribe(c.subject, c.handleMessage)
	return err
}

func (c *DepositConsumer) handleMessage(msg *nats.Msg) {
	var message DepositMessage
	if err := json.Unmarshal(msg.Data, &message); err != nil {
		metrics.DepositsFailed.Inc()
		c.logger.WithError(err).WithField("subject", msg.Subject).
			Error("Failed to decode deposit event")
		return
	}

	depositor, err := utils.NormalizeAddress(message.Depositor)
	if err != nil {
		metrics.DepositsFailed.Inc()
		c.logger.WithError(err).WithField("tx_hash", message.TransactionHash).
			Error("Deposit event carries invalid depositor address")
		return
	}
	token, err := utils.NormalizeAddress(message.Token)
	if err != nil {
		metrics.DepositsFailed.Inc()
		c.logger.WithError(err).WithField("tx_hash", message.TransactionHash).
			Error("Deposit event carries invalid token address")
		return
	}

	event := &models.DepositEvent{
		ChainID:         message.ChainID,
		TransactionHash: message.TransactionHash,
		LogIndex:        message.LogIndex,
		BlockNumber:     message.BlockNumber,
		Depositor:       depositor,
		Token:           token,
		Amount:          message.Amount,
	}

	if err := c.custody.RecordDeposit(context.Background(), event); err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"tx_hash":   message.TransactionHash,
			"log_index": message.LogIndex,
		}).Error("Failed to process deposit event")
	}
}

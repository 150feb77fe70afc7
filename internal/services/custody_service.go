// Package services contains the business services around the settlement
// engine: custody balances and websocket push.
package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"botmarket-backend/internal/engine"
	"botmarket-backend/internal/metrics"
	"botmarket-backend/internal/models"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// postgres unique_violation
const pgUniqueViolation = "23505"

// CustodyService implements the engine's fund-transfer capability over the
// custodial balances table. Every movement is a single DB transaction with
// row locks; nothing is ever created or destroyed, only moved.
type CustodyService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewCustodyService creates a new CustodyService instance
func NewCustodyService(db *gorm.DB, logger *logrus.Logger) *CustodyService {
	return &CustodyService{db: db, logger: logger}
}

// Transfer moves amount of token between two custody accounts
func (s *CustodyService) Transfer(ctx context.Context, token, from, to string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("non-positive transfer amount")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := debit(tx, token, from, amount); err != nil {
			return err
		}
		return credit(tx, token, to, amount)
	})
}

// TransferSplit debits one account once and credits several destinations in
// the same transaction: either every leg lands or none does.
func (s *CustodyService) TransferSplit(ctx context.Context, token, from string, legs []engine.TransferLeg) error {
	total := new(big.Int)
	for _, leg := range legs {
		if leg.Amount == nil || leg.Amount.Sign() <= 0 {
			return fmt.Errorf("non-positive transfer leg amount")
		}
		total.Add(total, leg.Amount)
	}
	if total.Sign() == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := debit(tx, token, from, total); err != nil {
			return err
		}
		for _, leg := range legs {
			if err := credit(tx, token, leg.To, leg.Amount); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetBalance returns an account's custody balance for a token; absent rows
// read as zero
func (s *CustodyService) GetBalance(ctx context.Context, account, token string) (*big.Int, error) {
	var row models.Balance
	err := s.db.WithContext(ctx).
		Where("account = ? AND token = ?", account, token).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return new(big.Int), nil
		}
		return nil, err
	}
	return parseBalance(row.Amount)
}

// RecordDeposit credits a buyer balance from an observed chain deposit. The
// deposit event row and the balance credit commit together; a replayed
// event hits the (tx_hash, log_index) unique index and is skipped.
func (s *CustodyService) RecordDeposit(ctx context.Context, event *models.DepositEvent) error {
	amount, err := parseBalance(event.Amount)
	if err != nil {
		metrics.DepositsFailed.Inc()
		return fmt.Errorf("deposit amount: %w", err)
	}
	if amount.Sign() <= 0 {
		metrics.DepositsFailed.Inc()
		return fmt.Errorf("non-positive deposit amount %q", event.Amount)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(event).Error; err != nil {
			return err
		}
		return credit(tx, event.Token, event.Depositor, amount)
	})
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
			metrics.DepositsDuplicate.Inc()
			s.logger.WithFields(logrus.Fields{
				"tx_hash":   event.TransactionHash,
				"log_index": event.LogIndex,
			}).Debug("Deposit event already processed, skipping")
			return nil
		}
		metrics.DepositsFailed.Inc()
		return fmt.Errorf("record deposit: %w", err)
	}

	metrics.DepositsProcessed.Inc()
	s.logger.WithFields(logrus.Fields{
		"depositor": event.Depositor,
		"token":     event.Token,
		"amount":    event.Amount,
		"tx_hash":   event.TransactionHash,
	}).Info("Chain deposit credited to custody balance")
	return nil
}

// debit locks the source row and subtracts; insufficient funds or a missing
// account fail the whole transaction
func debit(tx *gorm.DB, token, account string, amount *big.Int) error {
	var row models.Balance
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account = ? AND token = ?", account, token).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("account %s has no %s balance", account, token)
		}
		return err
	}

	balance, err := parseBalance(row.Amount)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient %s balance for %s: have %s, need %s",
			token, account, balance.String(), amount.String())
	}

	balance.Sub(balance, amount)
	return tx.Model(&models.Balance{}).
		Where("account = ? AND token = ?", account, token).
		Updates(map[string]interface{}{"amount": balance.String(), "updated_at": time.Now()}).Error
}

// credit locks (or creates) the destination row and adds
func credit(tx *gorm.DB, token, account string, amount *big.Int) error {
	var row models.Balance
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account = ? AND token = ?", account, token).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&models.Balance{
				Account: account,
				Token:   token,
				Amount:  amount.String(),
			}).Error
		}
		return err
	}

	balance, err := parseBalance(row.Amount)
	if err != nil {
		return err
	}
	balance.Add(balance, amount)
	return tx.Model(&models.Balance{}).
		Where("account = ? AND token = ?", account, token).
		Updates(map[string]interface{}{"amount": balance.String(), "updated_at": time.Now()}).Error
}

func parseBalance(value string) (*big.Int, error) {
	balance, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt balance value %q", value)
	}
	return balance, nil
}

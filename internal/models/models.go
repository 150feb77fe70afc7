package models

import (
	"time"
)

// OrderStatus order lifecycle status enum
type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "created"   // escrow funded, waiting for settlement
	OrderStatusCompleted OrderStatus = "completed" // settled, fee + seller payout released
	OrderStatusCancelled OrderStatus = "cancelled" // buyer cancelled, escrow returned
	OrderStatusRefunded  OrderStatus = "refunded"  // seller/admin refunded, escrow returned
)

// IsTerminal reports whether the status permits no further transition
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled || s == OrderStatusRefunded
}

// PayoutStatus tracks the fund release that follows a terminal transition
type PayoutStatus string

const (
	PayoutStatusNone     PayoutStatus = "none"     // order still open, nothing to release
	PayoutStatusReleased PayoutStatus = "released" // escrow fully paid out
	PayoutStatusFailed   PayoutStatus = "failed"   // transfer rejected after state commit, retry needed
)

// Order escrow order record. Amounts are token smallest units stored as
// decimal strings (uint256 range does not fit native integer columns).
type Order struct {
	ID           uint64       `json:"id" gorm:"primaryKey;autoIncrement"`
	Buyer        string       `json:"buyer" gorm:"type:varchar(42);index;not null"`
	Seller       string       `json:"seller" gorm:"type:varchar(42);index;not null"`
	ItemID       uint64       `json:"item_id" gorm:"not null"`
	Amount       string       `json:"amount" gorm:"type:numeric(78,0);not null"`
	Token        string       `json:"token" gorm:"type:varchar(42);index;not null"`
	Status       OrderStatus  `json:"status" gorm:"type:varchar(16);index;not null;default:'created'"`
	PayoutStatus PayoutStatus `json:"payout_status" gorm:"type:varchar(16);not null;default:'none'"`

	// Settlement snapshot, recorded at completion so a payout retry never
	// recomputes the split under a different fee.
	FeeBps       int64  `json:"fee_bps" gorm:"default:0"`
	FeeAmount    string `json:"fee_amount,omitempty" gorm:"type:numeric(78,0)"`
	SellerAmount string `json:"seller_amount,omitempty" gorm:"type:numeric(78,0)"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SupportedToken payment token registry row. Removal flips the flag instead
// of deleting the row, so the registry keeps an audit trail of ever-known tokens.
type SupportedToken struct {
	Address   string    `json:"address" gorm:"primaryKey;type:varchar(42)"`
	Supported bool      `json:"supported" gorm:"not null;default:false"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PlatformConfig key/value system configuration row (fee, owner)
type PlatformConfig struct {
	ConfigKey   string    `json:"config_key" gorm:"primaryKey;type:varchar(64)"`
	ConfigValue string    `json:"config_value" gorm:"type:text;not null"`
	Description string    `json:"description" gorm:"type:text"`
	UpdatedBy   string    `json:"updated_by" gorm:"type:varchar(42)"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Platform config keys
const (
	ConfigKeyPlatformFeeBps = "platform_fee_bps"
	ConfigKeyOwnerAddress   = "owner_address"
)

// Balance custodial balance per account and token, smallest units as a
// decimal string. The escrow and treasury accounts live in the same table.
type Balance struct {
	Account   string    `json:"account" gorm:"primaryKey;type:varchar(42)"`
	Token     string    `json:"token" gorm:"primaryKey;type:varchar(42)"`
	Amount    string    `json:"amount" gorm:"type:numeric(78,0);not null;default:0"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DepositEvent on-chain deposit observed by the scanner and delivered over
// NATS. The (tx_hash, log_index) unique index makes intake idempotent.
type DepositEvent struct {
	ID              uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	ChainID         int64     `json:"chain_id" gorm:"index;not null"`
	TransactionHash string    `json:"transaction_hash" gorm:"uniqueIndex:idx_deposit_tx_log;type:varchar(66);not null"`
	LogIndex        uint      `json:"log_index" gorm:"uniqueIndex:idx_deposit_tx_log;not null"`
	BlockNumber     uint64    `json:"block_number" gorm:"index;not null"`
	Depositor       string    `json:"depositor" gorm:"type:varchar(42);index;not null"`
	Token           string    `json:"token" gorm:"type:varchar(42);index;not null"`
	Amount          string    `json:"amount" gorm:"type:numeric(78,0);not null"`
	CreatedAt       time.Time `json:"created_at"`
}

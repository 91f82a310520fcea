package types

import (
	"time"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "market"
)

// OrderStatus is the position of an order in the execution state machine
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusRouting   OrderStatus = "routing"
	StatusBuilding  OrderStatus = "building"
	StatusSubmitted OrderStatus = "submitted"
	StatusConfirmed OrderStatus = "confirmed"
	StatusFailed    OrderStatus = "failed"
)

// IsTerminal reports whether no further transitions follow this status
func (s OrderStatus) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Dex identifies a liquidity venue
type Dex string

const (
	DexRaydium Dex = "raydium"
	DexMeteora Dex = "meteora"
)

type Order struct {
	ID            uint        `gorm:"primaryKey" json:"-"`
	OrderID       string      `gorm:"uniqueIndex;not null" json:"order_id"`
	UserID        string      `gorm:"index;not null" json:"user_id"`
	Type          OrderType   `gorm:"not null" json:"type"`
	TokenIn       string      `gorm:"not null" json:"token_in"`
	TokenOut      string      `gorm:"not null" json:"token_out"`
	AmountIn      float64     `gorm:"not null" json:"amount_in"`
	Status        OrderStatus `gorm:"index;not null" json:"status"`
	DexUsed       *Dex        `json:"dex_used,omitempty"`
	ExecutedPrice *float64    `json:"executed_price,omitempty"`
	TxHash        *string     `json:"tx_hash,omitempty"`
	FailReason    *string     `json:"fail_reason,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Confirm returns a copy of the order settled on dex with the swap outcome
func (o Order) Confirm(dex Dex, swap SwapResult) Order {
	price := swap.ExecutedPrice
	hash := swap.TxHash
	o.Status = StatusConfirmed
	o.DexUsed = &dex
	o.ExecutedPrice = &price
	o.TxHash = &hash
	o.FailReason = nil
	return o
}

// Fail returns a copy of the order marked failed with reason
func (o Order) Fail(reason string) Order {
	o.Status = StatusFailed
	o.DexUsed = nil
	o.ExecutedPrice = nil
	o.TxHash = nil
	o.FailReason = &reason
	return o
}

// OutcomeConsistent checks the terminal-field invariant: a terminal order carries
// either price and hash or a fail reason, never both; a live order carries neither.
func (o Order) OutcomeConsistent() bool {
	filled := o.ExecutedPrice != nil && o.TxHash != nil
	partial := (o.ExecutedPrice != nil) != (o.TxHash != nil)
	failed := o.FailReason != nil

	if partial {
		return false
	}
	switch o.Status {
	case StatusConfirmed:
		return filled && !failed
	case StatusFailed:
		return failed && !filled
	default:
		return !filled && !failed
	}
}

// Quote is a venue's priced offer, valid only for the attempt that fetched it
type Quote struct {
	Price        float64  `json:"price"`
	Fee          float64  `json:"fee"`
	MinAmountOut *float64 `json:"min_amount_out,omitempty"`
	PoolID       string   `json:"pool_id,omitempty"`
}

type SwapResult struct {
	TxHash        string  `json:"tx_hash"`
	ExecutedPrice float64 `json:"executed_price"`
}

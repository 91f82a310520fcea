package trading

import (
	"time"

	"gorm.io/gorm"
)

// IdempotencyRecord maps a client-supplied Idempotency-Key to the order it created
type IdempotencyRecord struct {
	gorm.Model
	IdempotencyKey string    `gorm:"uniqueIndex" json:"idempotency_key"`
	OrderID        string    `gorm:"index" json:"order_id"`
	ExpiresAt      time.Time `json:"expires_at"`
}

const idempotencyTTL = 24 * time.Hour

package trading

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ksred/swaprouter/internal/types"
)

// Database is the durable record of finished orders
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// UpsertOrder inserts the order or, when its order_id already exists, overwrites
// the outcome columns. Writing the same terminal order twice leaves one row.
func (d *Database) UpsertOrder(ctx context.Context, order *types.Order) error {
	row := *order
	row.ID = 0
	row.UpdatedAt = time.Now()
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status",
			"dex_used",
			"executed_price",
			"tx_hash",
			"fail_reason",
			"updated_at",
		}),
	}).Create(&row).Error
}

// GetOrder returns nil, nil when no record exists
func (d *Database) GetOrder(ctx context.Context, orderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.WithContext(ctx).Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) CreateIdempotencyRecord(ctx context.Context, key, orderID string) error {
	record := IdempotencyRecord{
		IdempotencyKey: key,
		OrderID:        orderID,
		ExpiresAt:      time.Now().Add(idempotencyTTL),
	}
	return d.db.WithContext(ctx).Create(&record).Error
}

// GetIdempotencyRecord returns nil, nil when the key is unknown
func (d *Database) GetIdempotencyRecord(ctx context.Context, key string) (*IdempotencyRecord, error) {
	var record IdempotencyRecord
	if err := d.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// DeleteIdempotencyRecord removes an expired key so it can be reused
func (d *Database) DeleteIdempotencyRecord(ctx context.Context, key string) error {
	return d.db.WithContext(ctx).Unscoped().Where("idempotency_key = ?", key).Delete(&IdempotencyRecord{}).Error
}

// PruneIdempotencyRecords deletes keys that expired at or before now
func (d *Database) PruneIdempotencyRecords(ctx context.Context, now time.Time) (int64, error) {
	res := d.db.WithContext(ctx).Unscoped().Where("expires_at <= ?", now).Delete(&IdempotencyRecord{})
	return res.RowsAffected, res.Error
}

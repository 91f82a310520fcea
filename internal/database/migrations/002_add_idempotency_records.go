package migrations

import (
	"github.com/ksred/swaprouter/internal/trading"
	"gorm.io/gorm"
)

func AddIdempotencyRecords(db *gorm.DB) error {
	if err := db.AutoMigrate(&trading.IdempotencyRecord{}); err != nil {
		return err
	}

	// The key pruner deletes by expiry
	if !db.Migrator().HasIndex(&trading.IdempotencyRecord{}, "idx_idempotency_records_expires_at") {
		return db.Exec("CREATE INDEX idx_idempotency_records_expires_at ON idempotency_records(expires_at)").Error
	}
	return nil
}

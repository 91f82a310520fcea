package migrations

import (
	"github.com/ksred/swaprouter/internal/types"
	"gorm.io/gorm"
)

// CreateOrders creates the durable order table. Outcome columns are nullable
// so an order carries either a fill or a fail reason.
func CreateOrders(db *gorm.DB) error {
	return db.AutoMigrate(&types.Order{})
}

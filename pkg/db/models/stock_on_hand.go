package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StockOnHand is the current balance for one (product, location, batch) key.
// Rows are created lazily on the first move into the key and never deleted,
// only driven to zero. Quantity must equal the sum of stock_moves for the key
// at all times; only the stock mutator may write this table.
type StockOnHand struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ProductID  uuid.UUID `gorm:"column:product_id;type:uuid;not null;uniqueIndex:idx_stock_on_hand_key,priority:1"`
	LocationID uuid.UUID `gorm:"column:location_id;type:uuid;not null;uniqueIndex:idx_stock_on_hand_key,priority:2"`
	BatchID    uuid.UUID `gorm:"column:batch_id;type:uuid;not null;uniqueIndex:idx_stock_on_hand_key,priority:3"`
	Quantity   int       `gorm:"column:quantity;not null;default:0"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *StockOnHand) TableName() string {
	return "stock_on_hand"
}

func (o *StockOnHand) BeforeCreate(_ *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

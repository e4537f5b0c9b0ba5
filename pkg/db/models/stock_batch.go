package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/danielcervantes/clinicpos-backend/pkg/types"
)

// StockBatch is one received lot of a product. A nil ExpiryDate means the
// batch never expires. Everything except Metadata is immutable once created.
type StockBatch struct {
	ID          uuid.UUID     `gorm:"column:id;type:uuid;primaryKey"`
	ProductID   uuid.UUID     `gorm:"column:product_id;type:uuid;not null;uniqueIndex:idx_stock_batches_product_number,priority:1"`
	BatchNumber string        `gorm:"column:batch_number;not null;uniqueIndex:idx_stock_batches_product_number,priority:2"`
	ExpiryDate  *time.Time    `gorm:"column:expiry_date"`
	ReceivedAt  time.Time     `gorm:"column:received_at;not null"`
	Metadata    types.JSONMap `gorm:"column:metadata;type:jsonb;serializer:json"`
	CreatedAt   time.Time     `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time     `gorm:"column:updated_at;autoUpdateTime"`
}

func (b *StockBatch) BeforeCreate(_ *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

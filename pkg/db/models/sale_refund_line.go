package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SaleRefundLine records how much of one sale line a refund returned.
type SaleRefundLine struct {
	ID               uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	RefundID         uuid.UUID       `gorm:"column:refund_id;type:uuid;not null;index"`
	SaleLineID       uuid.UUID       `gorm:"column:sale_line_id;type:uuid;not null;index"`
	QuantityRefunded int             `gorm:"column:quantity_refunded;not null"`
	AmountRefunded   decimal.Decimal `gorm:"column:amount_refunded;type:numeric(12,2);not null"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (l *SaleRefundLine) BeforeCreate(_ *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SaleRefundIdempotencyConstraint names the unique index guarding duplicate
// refund submissions for the same (sale, key) pair.
const SaleRefundIdempotencyConstraint = "idx_sale_refunds_idempotency"

// SaleRefund is the immutable audit record of one completed refund. A refund
// either commits fully or leaves no row behind; there is no failed state.
type SaleRefund struct {
	ID             uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	SaleID         uuid.UUID        `gorm:"column:sale_id;type:uuid;not null;uniqueIndex:idx_sale_refunds_idempotency,priority:1"`
	IdempotencyKey *string          `gorm:"column:idempotency_key;uniqueIndex:idx_sale_refunds_idempotency,priority:2"`
	Reason         string           `gorm:"column:reason;not null"`
	ActorID        uuid.UUID        `gorm:"column:actor_id;type:uuid;not null"`
	Lines          []SaleRefundLine `gorm:"foreignKey:RefundID;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time        `gorm:"column:created_at;autoCreateTime"`
}

func (r *SaleRefund) BeforeCreate(_ *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

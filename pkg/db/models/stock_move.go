package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/danielcervantes/clinicpos-backend/pkg/enums"
)

// StockMove is one append-only, signed ledger entry. Moves are never updated
// or deleted. The serial primary key doubles as the total order of entries
// for a key, which the refund engine walks when reversing a sale line.
type StockMove struct {
	ID           int64          `gorm:"column:id;primaryKey;autoIncrement"`
	ProductID    uuid.UUID      `gorm:"column:product_id;type:uuid;not null;index"`
	LocationID   uuid.UUID      `gorm:"column:location_id;type:uuid;not null"`
	BatchID      *uuid.UUID     `gorm:"column:batch_id;type:uuid"`
	Type         enums.MoveType `gorm:"column:move_type;type:text;not null"`
	Quantity     int            `gorm:"column:quantity;not null"`
	SourceMoveID *int64         `gorm:"column:source_move_id"`
	SaleID       *uuid.UUID     `gorm:"column:sale_id;type:uuid;index"`
	SaleLineID   *uuid.UUID     `gorm:"column:sale_line_id;type:uuid;index"`
	RefundID     *uuid.UUID     `gorm:"column:refund_id;type:uuid"`
	RefundLineID *uuid.UUID     `gorm:"column:refund_line_id;type:uuid"`
	ActorID      uuid.UUID      `gorm:"column:actor_id;type:uuid;not null"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime"`
}

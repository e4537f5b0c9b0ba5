package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/danielcervantes/clinicpos-backend/pkg/enums"
)

// Sale is a point-of-sale sale. Rows are created in draft by the POS flow and
// mutated only through lifecycle transitions and the refund engine.
type Sale struct {
	ID            uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	Status        enums.SaleStatus   `gorm:"column:status;type:text;not null;default:'draft'"`
	RefundStatus  enums.RefundStatus `gorm:"column:refund_status;type:text;not null;default:'none'"`
	PatientID     *uuid.UUID         `gorm:"column:patient_id;type:uuid"`
	AppointmentID *uuid.UUID         `gorm:"column:appointment_id;type:uuid"`
	Subtotal      decimal.Decimal    `gorm:"column:subtotal;type:numeric(12,2);not null"`
	DiscountTotal decimal.Decimal    `gorm:"column:discount_total;type:numeric(12,2);not null"`
	Total         decimal.Decimal    `gorm:"column:total;type:numeric(12,2);not null"`
	CancelReason  *string            `gorm:"column:cancel_reason"`
	PaidAt        *time.Time         `gorm:"column:paid_at"`
	Lines         []SaleLine         `gorm:"foreignKey:SaleID;constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Sale) BeforeCreate(_ *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

package refunds

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/danielcervantes/clinicpos-backend/pkg/db/models"
)

// Repository manages persistence for refund audit records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateRefund(ctx context.Context, refund *models.SaleRefund) error
	CreateRefundLine(ctx context.Context, line *models.SaleRefundLine) error
	FindRefundByKey(ctx context.Context, saleID uuid.UUID, key string) (*models.SaleRefund, error)
	SumRefundedForLine(ctx context.Context, saleLineID uuid.UUID) (int, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a refunds repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateRefund(ctx context.Context, refund *models.SaleRefund) error {
	return r.db.WithContext(ctx).Omit("Lines").Create(refund).Error
}

func (r *repository) CreateRefundLine(ctx context.Context, line *models.SaleRefundLine) error {
	return r.db.WithContext(ctx).Create(line).Error
}

func (r *repository) FindRefundByKey(ctx context.Context, saleID uuid.UUID, key string) (*models.SaleRefund, error) {
	var refund models.SaleRefund
	err := r.db.WithContext(ctx).
		Preload("Lines").
		Where("sale_id = ? AND idempotency_key = ?", saleID, key).
		First(&refund).Error
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

// SumRefundedForLine totals the quantity already returned for one sale line
// across all completed refunds. Refund rows only exist for committed refunds,
// so no status filter is needed.
func (r *repository) SumRefundedForLine(ctx context.Context, saleLineID uuid.UUID) (int, error) {
	var total int
	err := r.db.WithContext(ctx).
		Model(&models.SaleRefundLine{}).
		Select("COALESCE(SUM(quantity_refunded), 0)").
		Where("sale_line_id = ?", saleLineID).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

package stock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/danielcervantes/clinicpos-backend/internal/repo"
	"github.com/danielcervantes/clinicpos-backend/pkg/db/models"
	"github.com/danielcervantes/clinicpos-backend/pkg/enums"
)

// ErrNegativeBalance is returned by AddToOnHand when the delta would drive the
// balance below zero. The guarded UPDATE never persists such a change.
var ErrNegativeBalance = errors.New("stock balance would go negative")

// OnHandBatch is one joined (on-hand, batch) row used for allocation planning.
type OnHandBatch struct {
	OnHandID    uuid.UUID  `gorm:"column:on_hand_id"`
	BatchID     uuid.UUID  `gorm:"column:batch_id"`
	BatchNumber string     `gorm:"column:batch_number"`
	ExpiryDate  *time.Time `gorm:"column:expiry_date"`
	Quantity    int        `gorm:"column:quantity"`
}

// OnHandView is one row of the per-location stock snapshot.
type OnHandView struct {
	ProductID   uuid.UUID  `gorm:"column:product_id" json:"product_id"`
	ProductName string     `gorm:"column:product_name" json:"product_name"`
	BatchID     uuid.UUID  `gorm:"column:batch_id" json:"batch_id"`
	BatchNumber string     `gorm:"column:batch_number" json:"batch_number"`
	ExpiryDate  *time.Time `gorm:"column:expiry_date" json:"expiry_date,omitempty"`
	Quantity    int        `gorm:"column:quantity" json:"quantity"`
}

// Repository manages persistence for the stock ledger. It is the only code
// allowed to touch stock_on_hand and stock_moves.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateLocation(ctx context.Context, location *models.StockLocation) error
	FindLocationByCode(ctx context.Context, code string) (*models.StockLocation, error)

	CreateBatch(ctx context.Context, batch *models.StockBatch) error
	FindBatchByNumber(ctx context.Context, productID uuid.UUID, batchNumber string) (*models.StockBatch, error)

	OnHandForProduct(ctx context.Context, productID, locationID uuid.UUID) ([]OnHandBatch, error)
	OnHandSnapshot(ctx context.Context, locationID uuid.UUID) ([]OnHandView, error)
	GetOrCreateOnHand(ctx context.Context, productID, locationID, batchID uuid.UUID) (*models.StockOnHand, error)
	AddToOnHand(ctx context.Context, onHandID uuid.UUID, delta int) error

	CreateMove(ctx context.Context, move *models.StockMove) error
	MovesBySale(ctx context.Context, saleID uuid.UUID) ([]models.StockMove, error)
	MovesBySaleLine(ctx context.Context, saleLineID uuid.UUID, moveType enums.MoveType) ([]models.StockMove, error)
	ReversedQuantityForMove(ctx context.Context, sourceMoveID int64) (int, error)
	SumMovesForKey(ctx context.Context, productID, locationID, batchID uuid.UUID) (int, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a stock repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateLocation(ctx context.Context, location *models.StockLocation) error {
	return r.db.WithContext(ctx).Create(location).Error
}

func (r *repository) FindLocationByCode(ctx context.Context, code string) (*models.StockLocation, error) {
	var location models.StockLocation
	err := r.db.WithContext(ctx).
		Where("code = ?", code).
		First(&location).Error
	if err != nil {
		return nil, err
	}
	return &location, nil
}

func (r *repository) CreateBatch(ctx context.Context, batch *models.StockBatch) error {
	return r.db.WithContext(ctx).Create(batch).Error
}

func (r *repository) FindBatchByNumber(ctx context.Context, productID uuid.UUID, batchNumber string) (*models.StockBatch, error) {
	var batch models.StockBatch
	err := r.db.WithContext(ctx).
		Where("product_id = ? AND batch_number = ?", productID, batchNumber).
		First(&batch).Error
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// OnHandForProduct reads the positive balances for (product, location) joined
// with batch expiry, locking the rows so the snapshot cannot change before the
// caller applies its plan.
func (r *repository) OnHandForProduct(ctx context.Context, productID, locationID uuid.UUID) ([]OnHandBatch, error) {
	var rows []OnHandBatch
	err := repo.ForUpdate(r.db.WithContext(ctx)).
		Table("stock_on_hand AS soh").
		Select("soh.id AS on_hand_id, soh.batch_id, sb.batch_number, sb.expiry_date, soh.quantity").
		Joins("JOIN stock_batches sb ON sb.id = soh.batch_id").
		Where("soh.product_id = ? AND soh.location_id = ? AND soh.quantity > 0", productID, locationID).
		Order("sb.batch_number ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) OnHandSnapshot(ctx context.Context, locationID uuid.UUID) ([]OnHandView, error) {
	var rows []OnHandView
	err := r.db.WithContext(ctx).
		Table("stock_on_hand AS soh").
		Select("soh.product_id, p.name AS product_name, soh.batch_id, sb.batch_number, sb.expiry_date, soh.quantity").
		Joins("JOIN stock_batches sb ON sb.id = soh.batch_id").
		Joins("JOIN products p ON p.id = soh.product_id").
		Where("soh.location_id = ?", locationID).
		Order("p.name ASC, sb.batch_number ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// GetOrCreateOnHand fetches the balance row for the key, creating a zero row
// on first use. On-hand rows are never deleted afterwards.
func (r *repository) GetOrCreateOnHand(ctx context.Context, productID, locationID, batchID uuid.UUID) (*models.StockOnHand, error) {
	var onHand models.StockOnHand
	err := repo.ForUpdate(r.db.WithContext(ctx)).
		Where("product_id = ? AND location_id = ? AND batch_id = ?", productID, locationID, batchID).
		First(&onHand).Error
	if err == nil {
		return &onHand, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	onHand = models.StockOnHand{
		ProductID:  productID,
		LocationID: locationID,
		BatchID:    batchID,
	}
	if err := r.db.WithContext(ctx).Create(&onHand).Error; err != nil {
		return nil, err
	}
	return &onHand, nil
}

// AddToOnHand applies a signed delta with an atomic guard against negative
// balances. No row is updated when the guard fails.
func (r *repository) AddToOnHand(ctx context.Context, onHandID uuid.UUID, delta int) error {
	res := r.db.WithContext(ctx).
		Model(&models.StockOnHand{}).
		Where("id = ? AND quantity + ? >= 0", onHandID, delta).
		Update("quantity", gorm.Expr("quantity + ?", delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNegativeBalance
	}
	return nil
}

func (r *repository) CreateMove(ctx context.Context, move *models.StockMove) error {
	return r.db.WithContext(ctx).Create(move).Error
}

func (r *repository) MovesBySale(ctx context.Context, saleID uuid.UUID) ([]models.StockMove, error) {
	var moves []models.StockMove
	err := r.db.WithContext(ctx).
		Where("sale_id = ?", saleID).
		Order("id ASC").
		Find(&moves).Error
	if err != nil {
		return nil, err
	}
	return moves, nil
}

// MovesBySaleLine returns the line's moves of one type in insertion order,
// which for sale_out moves is the order the allocator consumed batches in.
func (r *repository) MovesBySaleLine(ctx context.Context, saleLineID uuid.UUID, moveType enums.MoveType) ([]models.StockMove, error) {
	var moves []models.StockMove
	err := r.db.WithContext(ctx).
		Where("sale_line_id = ? AND move_type = ?", saleLineID, moveType).
		Order("id ASC").
		Find(&moves).Error
	if err != nil {
		return nil, err
	}
	return moves, nil
}

// ReversedQuantityForMove sums the refund-in quantities already recorded
// against one consumption move.
func (r *repository) ReversedQuantityForMove(ctx context.Context, sourceMoveID int64) (int, error) {
	var total int
	err := r.db.WithContext(ctx).
		Model(&models.StockMove{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("source_move_id = ? AND move_type = ?", sourceMoveID, enums.MoveTypeRefundIn).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

// SumMovesForKey totals the ledger for one (product, location, batch) key.
// Reconciliation tests compare this with the on-hand balance.
func (r *repository) SumMovesForKey(ctx context.Context, productID, locationID, batchID uuid.UUID) (int, error) {
	var total int
	err := r.db.WithContext(ctx).
		Model(&models.StockMove{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("product_id = ? AND location_id = ? AND batch_id = ?", productID, locationID, batchID).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/danielcervantes/clinicpos-backend/pkg/db/models"
	"github.com/danielcervantes/clinicpos-backend/pkg/enums"
	pkgerrors "github.com/danielcervantes/clinicpos-backend/pkg/errors"
	"github.com/danielcervantes/clinicpos-backend/pkg/metrics"
	"github.com/danielcervantes/clinicpos-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service owns every write to the stock ledger. ApplyMove is the single code
// path that touches stock_on_hand and stock_moves; the administrative
// operations and the sale/refund services all funnel through it.
type Service interface {
	ApplyMove(ctx context.Context, tx *gorm.DB, input ApplyMoveInput) (*models.StockMove, error)
	ReceiveStock(ctx context.Context, input ReceiveInput) (*models.StockMove, error)
	AdjustStock(ctx context.Context, input AdjustInput) (*models.StockMove, error)
	TransferStock(ctx context.Context, input TransferInput) ([]models.StockMove, error)
	RecordWaste(ctx context.Context, input WasteInput) (*models.StockMove, error)
	OnHand(ctx context.Context, locationCode string) ([]OnHandView, error)
}

type service struct {
	repo    Repository
	tx      txRunner
	metrics *metrics.StockMetrics
}

// NewService wires the stock service with its dependencies. Metrics may be nil.
func NewService(repo Repository, tx txRunner, m *metrics.StockMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("stock repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx, metrics: m}, nil
}

// ApplyMoveInput carries one signed ledger entry. Reference fields tag the
// move with the sale, sale line, refund and refund line that caused it.
type ApplyMoveInput struct {
	ProductID    uuid.UUID
	LocationID   uuid.UUID
	BatchID      *uuid.UUID
	Type         enums.MoveType
	Quantity     int
	SourceMoveID *int64
	SaleID       *uuid.UUID
	SaleLineID   *uuid.UUID
	RefundID     *uuid.UUID
	RefundLineID *uuid.UUID
	ActorID      uuid.UUID
}

// ApplyMove appends the move and adjusts the on-hand balance inside the
// caller's transaction. A move that would drive the balance negative returns
// an insufficient-stock error and, because the caller's transaction rolls
// back, is never persisted.
func (s *service) ApplyMove(ctx context.Context, tx *gorm.DB, input ApplyMoveInput) (*models.StockMove, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stock move requires a transaction")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeInternal, "unknown move type %q", input.Type)
	}
	if input.Quantity == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "move quantity must not be zero")
	}
	// Sign/type mismatches are programming errors, not business rejections.
	if input.Type.IsInbound() && input.Quantity < 0 {
		return nil, pkgerrors.Newf(pkgerrors.CodeInternal, "inbound move type %s requires a positive quantity", input.Type)
	}
	if !input.Type.IsInbound() && input.Quantity > 0 {
		return nil, pkgerrors.Newf(pkgerrors.CodeInternal, "outbound move type %s requires a negative quantity", input.Type)
	}
	if input.BatchID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stock move requires a batch")
	}
	if input.ActorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id required")
	}

	txRepo := s.repo.WithTx(tx)

	move := &models.StockMove{
		ProductID:    input.ProductID,
		LocationID:   input.LocationID,
		BatchID:      input.BatchID,
		Type:         input.Type,
		Quantity:     input.Quantity,
		SourceMoveID: input.SourceMoveID,
		SaleID:       input.SaleID,
		SaleLineID:   input.SaleLineID,
		RefundID:     input.RefundID,
		RefundLineID: input.RefundLineID,
		ActorID:      input.ActorID,
	}
	if err := txRepo.CreateMove(ctx, move); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stock move")
	}

	onHand, err := txRepo.GetOrCreateOnHand(ctx, input.ProductID, input.LocationID, *input.BatchID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load on-hand balance")
	}

	if err := txRepo.AddToOnHand(ctx, onHand.ID, input.Quantity); err != nil {
		if errors.Is(err, ErrNegativeBalance) {
			s.metrics.IncRejection("negative_balance")
			return nil, pkgerrors.Newf(pkgerrors.CodeInsufficientStock,
				"insufficient stock: balance %d cannot absorb %d", onHand.Quantity, input.Quantity).
				WithDetails(map[string]any{
					"available": onHand.Quantity,
					"requested": -input.Quantity,
				})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update on-hand balance")
	}

	s.metrics.IncMoveApplied(input.Type.String())
	return move, nil
}

// ReceiveInput books received goods into a location, creating the batch on
// first sight of its number.
type ReceiveInput struct {
	LocationCode string
	ProductID    uuid.UUID
	BatchNumber  string
	ExpiryDate   *time.Time
	Quantity     int
	Metadata     types.JSONMap
	ActorID      uuid.UUID
}

func (s *service) ReceiveStock(ctx context.Context, input ReceiveInput) (*models.StockMove, error) {
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "receive quantity must be positive")
	}
	if input.BatchNumber == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "batch number required")
	}

	var move *models.StockMove
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)

		location, err := s.activeLocation(ctx, txRepo, input.LocationCode)
		if err != nil {
			return err
		}

		batch, err := txRepo.FindBatchByNumber(ctx, input.ProductID, input.BatchNumber)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			batch = &models.StockBatch{
				ProductID:   input.ProductID,
				BatchNumber: input.BatchNumber,
				ExpiryDate:  input.ExpiryDate,
				ReceivedAt:  time.Now().UTC(),
				Metadata:    input.Metadata,
			}
			if err := txRepo.CreateBatch(ctx, batch); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create batch")
			}
		} else if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load batch")
		}

		move, err = s.ApplyMove(ctx, tx, ApplyMoveInput{
			ProductID:  input.ProductID,
			LocationID: location.ID,
			BatchID:    &batch.ID,
			Type:       enums.MoveTypePurchaseIn,
			Quantity:   input.Quantity,
			ActorID:    input.ActorID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return move, nil
}

// AdjustInput corrects a balance after a count. Quantity is signed.
type AdjustInput struct {
	LocationCode string
	ProductID    uuid.UUID
	BatchNumber  string
	Quantity     int
	Reason       string
	ActorID      uuid.UUID
}

func (s *service) AdjustStock(ctx context.Context, input AdjustInput) (*models.StockMove, error) {
	if input.Quantity == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjustment quantity must not be zero")
	}
	if input.Reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjustment reason required")
	}

	moveType := enums.MoveTypeAdjustmentIn
	if input.Quantity < 0 {
		moveType = enums.MoveTypeAdjustmentOut
	}

	var move *models.StockMove
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)

		location, err := s.activeLocation(ctx, txRepo, input.LocationCode)
		if err != nil {
			return err
		}
		batch, err := s.existingBatch(ctx, txRepo, input.ProductID, input.BatchNumber)
		if err != nil {
			return err
		}

		move, err = s.ApplyMove(ctx, tx, ApplyMoveInput{
			ProductID:  input.ProductID,
			LocationID: location.ID,
			BatchID:    &batch.ID,
			Type:       moveType,
			Quantity:   input.Quantity,
			ActorID:    input.ActorID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return move, nil
}

// TransferInput moves stock between two locations in one transaction.
type TransferInput struct {
	FromLocationCode string
	ToLocationCode   string
	ProductID        uuid.UUID
	BatchNumber      string
	Quantity         int
	ActorID          uuid.UUID
}

func (s *service) TransferStock(ctx context.Context, input TransferInput) ([]models.StockMove, error) {
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfer quantity must be positive")
	}
	if input.FromLocationCode == input.ToLocationCode {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfer requires two distinct locations")
	}

	var moves []models.StockMove
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)

		from, err := s.activeLocation(ctx, txRepo, input.FromLocationCode)
		if err != nil {
			return err
		}
		to, err := s.activeLocation(ctx, txRepo, input.ToLocationCode)
		if err != nil {
			return err
		}
		batch, err := s.existingBatch(ctx, txRepo, input.ProductID, input.BatchNumber)
		if err != nil {
			return err
		}

		out, err := s.ApplyMove(ctx, tx, ApplyMoveInput{
			ProductID:  input.ProductID,
			LocationID: from.ID,
			BatchID:    &batch.ID,
			Type:       enums.MoveTypeTransferOut,
			Quantity:   -input.Quantity,
			ActorID:    input.ActorID,
		})
		if err != nil {
			return err
		}

		in, err := s.ApplyMove(ctx, tx, ApplyMoveInput{
			ProductID:    input.ProductID,
			LocationID:   to.ID,
			BatchID:      &batch.ID,
			Type:         enums.MoveTypeTransferIn,
			Quantity:     input.Quantity,
			SourceMoveID: &out.ID,
			ActorID:      input.ActorID,
		})
		if err != nil {
			return err
		}

		moves = []models.StockMove{*out, *in}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return moves, nil
}

// WasteInput writes off expired or damaged stock.
type WasteInput struct {
	LocationCode string
	ProductID    uuid.UUID
	BatchNumber  string
	Quantity     int
	ActorID      uuid.UUID
}

func (s *service) RecordWaste(ctx context.Context, input WasteInput) (*models.StockMove, error) {
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "waste quantity must be positive")
	}

	var move *models.StockMove
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)

		location, err := s.activeLocation(ctx, txRepo, input.LocationCode)
		if err != nil {
			return err
		}
		batch, err := s.existingBatch(ctx, txRepo, input.ProductID, input.BatchNumber)
		if err != nil {
			return err
		}

		move, err = s.ApplyMove(ctx, tx, ApplyMoveInput{
			ProductID:  input.ProductID,
			LocationID: location.ID,
			BatchID:    &batch.ID,
			Type:       enums.MoveTypeWasteOut,
			Quantity:   -input.Quantity,
			ActorID:    input.ActorID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return move, nil
}

func (s *service) OnHand(ctx context.Context, locationCode string) ([]OnHandView, error) {
	location, err := s.repo.FindLocationByCode(ctx, locationCode)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "stock location %q not found", locationCode)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load location")
	}
	rows, err := s.repo.OnHandSnapshot(ctx, location.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load on-hand snapshot")
	}
	return rows, nil
}

func (s *service) activeLocation(ctx context.Context, txRepo Repository, code string) (*models.StockLocation, error) {
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "location code required")
	}
	location, err := txRepo.FindLocationByCode(ctx, code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "stock location %q not found", code)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load location")
	}
	if !location.Active {
		return nil, pkgerrors.Newf(pkgerrors.CodeStateConflict, "stock location %q is inactive", code)
	}
	return location, nil
}

func (s *service) existingBatch(ctx context.Context, txRepo Repository, productID uuid.UUID, batchNumber string) (*models.StockBatch, error) {
	if batchNumber == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "batch number required")
	}
	batch, err := txRepo.FindBatchByNumber(ctx, productID, batchNumber)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "batch %q not found for product", batchNumber)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load batch")
	}
	return batch, nil
}

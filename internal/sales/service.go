package sales

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/danielcervantes/clinicpos-backend/internal/stock"
	"github.com/danielcervantes/clinicpos-backend/pkg/db/models"
	"github.com/danielcervantes/clinicpos-backend/pkg/enums"
	pkgerrors "github.com/danielcervantes/clinicpos-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type stockMutator interface {
	ApplyMove(ctx context.Context, tx *gorm.DB, input stock.ApplyMoveInput) (*models.StockMove, error)
}

// Service governs the sale state machine. Transitioning into paid consumes
// stock for every product line via the FEFO allocator and the stock mutator.
type Service interface {
	TransitionTo(ctx context.Context, input TransitionInput) (*models.Sale, error)
	ConsumeStockForSale(ctx context.Context, input ConsumeInput) ([]models.StockMove, error)
	MovesForSale(ctx context.Context, saleID uuid.UUID) ([]models.StockMove, error)
}

type service struct {
	repo            Repository
	stockRepo       stock.Repository
	mutator         stockMutator
	tx              txRunner
	defaultLocation string
}

// NewService builds a sale lifecycle service.
func NewService(repo Repository, stockRepo stock.Repository, mutator stockMutator, tx txRunner, defaultLocation string) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("sales repository required")
	}
	if stockRepo == nil {
		return nil, fmt.Errorf("stock repository required")
	}
	if mutator == nil {
		return nil, fmt.Errorf("stock mutator required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if defaultLocation == "" {
		return nil, fmt.Errorf("default stock location required")
	}
	return &service{
		repo:            repo,
		stockRepo:       stockRepo,
		mutator:         mutator,
		tx:              tx,
		defaultLocation: defaultLocation,
	}, nil
}

var allowedTransitions = map[enums.SaleStatus][]enums.SaleStatus{
	enums.SaleStatusDraft:     {enums.SaleStatusPending, enums.SaleStatusCancelled},
	enums.SaleStatusPending:   {enums.SaleStatusPaid, enums.SaleStatusCancelled},
	enums.SaleStatusPaid:      {enums.SaleStatusRefunded},
	enums.SaleStatusCancelled: {},
	enums.SaleStatusRefunded:  {},
}

func transitionAllowed(from, to enums.SaleStatus) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

func transitionError(from, to enums.SaleStatus) *pkgerrors.Error {
	targets := allowedTransitions[from]
	if len(targets) == 0 {
		return pkgerrors.Newf(pkgerrors.CodeStateConflict,
			"sale status %s is terminal, cannot transition to %s", from, to)
	}
	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = t.String()
	}
	sort.Strings(names)
	return pkgerrors.Newf(pkgerrors.CodeStateConflict,
		"cannot transition sale from %s to %s; allowed targets: %s", from, to, strings.Join(names, ", "))
}

// TransitionInput captures one requested status change.
type TransitionInput struct {
	SaleID       uuid.UUID
	Target       enums.SaleStatus
	Reason       *string
	LocationCode string
	AllowExpired bool
	ActorID      uuid.UUID
}

func (s *service) TransitionTo(ctx context.Context, input TransitionInput) (*models.Sale, error) {
	if input.SaleID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sale id required")
	}
	if !input.Target.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid sale status %q", input.Target)
	}
	if input.ActorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id required")
	}

	var sale *models.Sale
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)

		loaded, err := txRepo.FindSaleForUpdate(ctx, input.SaleID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "sale not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sale")
		}

		if !transitionAllowed(loaded.Status, input.Target) {
			return transitionError(loaded.Status, input.Target)
		}

		updates := map[string]any{"status": input.Target}

		switch input.Target {
		case enums.SaleStatusCancelled:
			if input.Reason == nil || strings.TrimSpace(*input.Reason) == "" {
				return pkgerrors.New(pkgerrors.CodeValidation, "cancellation requires a reason")
			}
			updates["cancel_reason"] = strings.TrimSpace(*input.Reason)
		case enums.SaleStatusPaid:
			if _, err := s.consume(ctx, tx, loaded, input.LocationCode, input.AllowExpired, input.ActorID); err != nil {
				return err
			}
			now := time.Now().UTC()
			updates["paid_at"] = &now
		}

		if err := txRepo.UpdateSale(ctx, loaded.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update sale status")
		}

		loaded.Status = input.Target
		sale = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sale, nil
}

// ConsumeInput drives a sale into paid and reports the moves that consumption
// produced. A location is optional; the configured default is used otherwise.
type ConsumeInput struct {
	SaleID       uuid.UUID
	LocationCode string
	AllowExpired bool
	ActorID      uuid.UUID
}

// ConsumeStockForSale is idempotent: when the sale already carries sale-out
// moves the prior set is returned and nothing new is written, so a caller
// that timed out can safely retry.
func (s *service) ConsumeStockForSale(ctx context.Context, input ConsumeInput) ([]models.StockMove, error) {
	if input.SaleID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sale id required")
	}
	if input.ActorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id required")
	}

	var moves []models.StockMove
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)

		sale, err := txRepo.FindSaleForUpdate(ctx, input.SaleID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "sale not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sale")
		}

		if sale.Status == enums.SaleStatusPaid {
			moves, err = s.saleOutMoves(ctx, tx, sale.ID)
			return err
		}
		if !transitionAllowed(sale.Status, enums.SaleStatusPaid) {
			return transitionError(sale.Status, enums.SaleStatusPaid)
		}

		moves, err = s.consume(ctx, tx, sale, input.LocationCode, input.AllowExpired, input.ActorID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		return txRepo.UpdateSale(ctx, sale.ID, map[string]any{
			"status":  enums.SaleStatusPaid,
			"paid_at": &now,
		})
	})
	if err != nil {
		return nil, err
	}
	return moves, nil
}

func (s *service) MovesForSale(ctx context.Context, saleID uuid.UUID) ([]models.StockMove, error) {
	if saleID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sale id required")
	}
	moves, err := s.stockRepo.MovesBySale(ctx, saleID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list sale moves")
	}
	return moves, nil
}

// consume plans and applies one sale-out move per allocated batch for every
// product line. Already-consumed sales return their prior moves unchanged.
// Any failure aborts the enclosing transaction, so partially applied lines
// are never visible.
func (s *service) consume(ctx context.Context, tx *gorm.DB, sale *models.Sale, locationCode string, allowExpired bool, actorID uuid.UUID) ([]models.StockMove, error) {
	existing, err := s.saleOutMoves(ctx, tx, sale.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	txStock := s.stockRepo.WithTx(tx)

	code := locationCode
	if code == "" {
		code = s.defaultLocation
	}
	location, err := txStock.FindLocationByCode(ctx, code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "stock location %q not found", code)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load location")
	}
	if !location.Active {
		return nil, pkgerrors.Newf(pkgerrors.CodeStateConflict, "stock location %q is inactive", code)
	}

	now := time.Now().UTC()
	var moves []models.StockMove
	for i := range sale.Lines {
		line := &sale.Lines[i]
		if line.ProductID == nil {
			// Service lines never touch the ledger.
			continue
		}

		onHand, err := txStock.OnHandForProduct(ctx, *line.ProductID, location.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load on-hand for allocation")
		}
		snapshot := make([]stock.BatchStock, len(onHand))
		for j, row := range onHand {
			snapshot[j] = stock.BatchStock{
				BatchID:     row.BatchID,
				BatchNumber: row.BatchNumber,
				ExpiryDate:  row.ExpiryDate,
				Available:   row.Quantity,
			}
		}

		plan, err := stock.Allocate(snapshot, line.Quantity, now, allowExpired)
		if err != nil {
			return nil, err
		}

		for _, allocation := range plan {
			batchID := allocation.BatchID
			move, err := s.mutator.ApplyMove(ctx, tx, stock.ApplyMoveInput{
				ProductID:  *line.ProductID,
				LocationID: location.ID,
				BatchID:    &batchID,
				Type:       enums.MoveTypeSaleOut,
				Quantity:   -allocation.Quantity,
				SaleID:     &sale.ID,
				SaleLineID: &line.ID,
				ActorID:    actorID,
			})
			if err != nil {
				return nil, err
			}
			moves = append(moves, *move)
		}
	}
	return moves, nil
}

func (s *service) saleOutMoves(ctx context.Context, tx *gorm.DB, saleID uuid.UUID) ([]models.StockMove, error) {
	all, err := s.stockRepo.WithTx(tx).MovesBySale(ctx, saleID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list sale moves")
	}
	var moves []models.StockMove
	for _, move := range all {
		if move.Type == enums.MoveTypeSaleOut {
			moves = append(moves, move)
		}
	}
	return moves, nil
}

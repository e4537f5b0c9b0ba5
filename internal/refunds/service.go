package refunds

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/danielcervantes/clinicpos-backend/internal/sales"
	"github.com/danielcervantes/clinicpos-backend/internal/stock"
	"github.com/danielcervantes/clinicpos-backend/pkg/db"
	"github.com/danielcervantes/clinicpos-backend/pkg/db/models"
	"github.com/danielcervantes/clinicpos-backend/pkg/enums"
	pkgerrors "github.com/danielcervantes/clinicpos-backend/pkg/errors"
	"github.com/danielcervantes/clinicpos-backend/pkg/metrics"
	"github.com/danielcervantes/clinicpos-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type stockMutator interface {
	ApplyMove(ctx context.Context, tx *gorm.DB, input stock.ApplyMoveInput) (*models.StockMove, error)
}

// Service reverses paid sales, partially or in full. A refund restocks product
// lines by walking the original consumption and records an immutable audit
// trail; submitting the same idempotency key twice returns the first result.
type Service interface {
	RefundSale(ctx context.Context, input RefundInput) (*models.SaleRefund, error)
	RefundedQuantities(ctx context.Context, saleID uuid.UUID) (map[uuid.UUID]int, error)
}

type service struct {
	repo      Repository
	salesRepo sales.Repository
	stockRepo stock.Repository
	mutator   stockMutator
	tx        txRunner
	metrics   *metrics.StockMetrics
}

// NewService wires the refund service. Metrics may be nil.
func NewService(repo Repository, salesRepo sales.Repository, stockRepo stock.Repository, mutator stockMutator, tx txRunner, m *metrics.StockMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("refund repository required")
	}
	if salesRepo == nil {
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
	return &service{
		repo:      repo,
		salesRepo: salesRepo,
		stockRepo: stockRepo,
		mutator:   mutator,
		tx:        tx,
		metrics:   m,
	}, nil
}

// RefundLineInput requests a partial or full return of one sale line.
// AmountRefunded defaults to quantity times the line's unit price.
type RefundLineInput struct {
	SaleLineID       uuid.UUID
	QuantityRefunded int
	AmountRefunded   *decimal.Decimal
}

// RefundInput describes one refund submission. The dedicated IdempotencyKey
// field wins over a legacy "idempotency_key" entry in Metadata.
type RefundInput struct {
	SaleID         uuid.UUID
	Reason         string
	IdempotencyKey *string
	Metadata       types.JSONMap
	Lines          []RefundLineInput
	ActorID        uuid.UUID
}

func (in RefundInput) resolveKey() string {
	if in.IdempotencyKey != nil && strings.TrimSpace(*in.IdempotencyKey) != "" {
		return strings.TrimSpace(*in.IdempotencyKey)
	}
	return strings.TrimSpace(in.Metadata.StringValue("idempotency_key"))
}

// RefundSale executes one refund in a single transaction: every stock move,
// every audit row and the sale's refund status commit together or not at all.
func (s *service) RefundSale(ctx context.Context, input RefundInput) (*models.SaleRefund, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	key := input.resolveKey()

	// Cheap pre-check outside the transaction so replays never take the
	// sale lock.
	if key != "" {
		existing, err := s.repo.FindRefundByKey(ctx, input.SaleID, key)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "look up refund by key")
		}
	}

	var refund *models.SaleRefund
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var txErr error
		refund, txErr = s.refundInTx(ctx, tx, input, key)
		return txErr
	})
	if err != nil {
		// Two submissions raced past the pre-check; the loser hits the
		// unique index. Refetch after rollback so the query runs on a
		// clean connection.
		if key != "" && db.IsUniqueViolation(err, models.SaleRefundIdempotencyConstraint) {
			existing, findErr := s.repo.FindRefundByKey(ctx, input.SaleID, key)
			if findErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeIdempotency, findErr, "refetch refund after key conflict")
			}
			return existing, nil
		}
		return nil, err
	}

	s.metrics.IncRefundCompleted()
	return refund, nil
}

func (s *service) refundInTx(ctx context.Context, tx *gorm.DB, input RefundInput, key string) (*models.SaleRefund, error) {
	txSales := s.salesRepo.WithTx(tx)
	txRefunds := s.repo.WithTx(tx)
	txStock := s.stockRepo.WithTx(tx)

	sale, err := txSales.FindSaleForUpdate(ctx, input.SaleID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "sale %s not found", input.SaleID)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sale")
	}

	// Second key lookup under the sale lock closes the window between the
	// pre-check and acquiring the lock.
	if key != "" {
		existing, err := txRefunds.FindRefundByKey(ctx, sale.ID, key)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "look up refund by key")
		}
	}

	if sale.Status != enums.SaleStatusPaid {
		return nil, pkgerrors.Newf(pkgerrors.CodeStateConflict,
			"sale %s is %s; only paid sales can be refunded", sale.ID, sale.Status)
	}

	linesByID := make(map[uuid.UUID]*models.SaleLine, len(sale.Lines))
	for i := range sale.Lines {
		linesByID[sale.Lines[i].ID] = &sale.Lines[i]
	}

	// Validate every line before writing anything.
	requested := make(map[uuid.UUID]int, len(input.Lines))
	for _, reqLine := range input.Lines {
		line, ok := linesByID[reqLine.SaleLineID]
		if !ok {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation,
				"sale line %s does not belong to sale %s", reqLine.SaleLineID, sale.ID)
		}
		if _, dup := requested[reqLine.SaleLineID]; dup {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation,
				"sale line %s appears more than once in refund", reqLine.SaleLineID)
		}
		already, err := txRefunds.SumRefundedForLine(ctx, line.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum refunded quantity")
		}
		remaining := line.Quantity - already
		if reqLine.QuantityRefunded > remaining {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation,
				"refund of %d exceeds remaining refundable %d on line %s",
				reqLine.QuantityRefunded, remaining, line.ID).
				WithDetails(map[string]any{
					"sale_line_id":     line.ID.String(),
					"requested":        reqLine.QuantityRefunded,
					"already_refunded": already,
					"remaining":        remaining,
				})
		}
		requested[reqLine.SaleLineID] = reqLine.QuantityRefunded
	}

	refund := &models.SaleRefund{
		SaleID:  sale.ID,
		Reason:  input.Reason,
		ActorID: input.ActorID,
	}
	if key != "" {
		refund.IdempotencyKey = &key
	}
	if err := txRefunds.CreateRefund(ctx, refund); err != nil {
		return nil, err
	}

	for _, reqLine := range input.Lines {
		line := linesByID[reqLine.SaleLineID]

		amount := line.UnitPrice.Mul(decimal.NewFromInt(int64(reqLine.QuantityRefunded)))
		if reqLine.AmountRefunded != nil {
			amount = *reqLine.AmountRefunded
		}
		refundLine := &models.SaleRefundLine{
			RefundID:         refund.ID,
			SaleLineID:       line.ID,
			QuantityRefunded: reqLine.QuantityRefunded,
			AmountRefunded:   amount,
		}
		if err := txRefunds.CreateRefundLine(ctx, refundLine); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create refund line")
		}
		refund.Lines = append(refund.Lines, *refundLine)

		// Service lines carry no stock.
		if line.ProductID == nil {
			continue
		}
		if err := s.restockLine(ctx, tx, txStock, sale, line, refundLine, input.ActorID); err != nil {
			return nil, err
		}
	}

	if err := s.updateRefundStatus(ctx, txSales, txRefunds, sale); err != nil {
		return nil, err
	}
	return refund, nil
}

// restockLine reverses the line's original consumption move by move, in the
// order the stock left. Each refund_in move points at the sale_out move it
// undoes, so a partially reversed move absorbs further refunds before the
// walk advances.
func (s *service) restockLine(ctx context.Context, tx *gorm.DB, txStock stock.Repository, sale *models.Sale, line *models.SaleLine, refundLine *models.SaleRefundLine, actorID uuid.UUID) error {
	moves, err := txStock.MovesBySaleLine(ctx, line.ID, enums.MoveTypeSaleOut)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load consumption moves")
	}

	remaining := refundLine.QuantityRefunded
	for i := range moves {
		if remaining == 0 {
			break
		}
		move := &moves[i]
		reversed, err := txStock.ReversedQuantityForMove(ctx, move.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum reversed quantity")
		}
		available := -move.Quantity - reversed
		if available <= 0 {
			continue
		}
		take := available
		if remaining < take {
			take = remaining
		}
		_, err = s.mutator.ApplyMove(ctx, tx, stock.ApplyMoveInput{
			ProductID:    move.ProductID,
			LocationID:   move.LocationID,
			BatchID:      move.BatchID,
			Type:         enums.MoveTypeRefundIn,
			Quantity:     take,
			SourceMoveID: &move.ID,
			SaleID:       &sale.ID,
			SaleLineID:   &line.ID,
			RefundID:     &refundLine.RefundID,
			RefundLineID: &refundLine.ID,
			ActorID:      actorID,
		})
		if err != nil {
			return err
		}
		remaining -= take
	}
	if remaining > 0 {
		return pkgerrors.Newf(pkgerrors.CodeInternal,
			"consumption moves for line %s cover only %d of %d refunded units",
			line.ID, refundLine.QuantityRefunded-remaining, refundLine.QuantityRefunded)
	}
	return nil
}

// updateRefundStatus recomputes the sale's refund status from the audit rows.
// A fully refunded sale also moves to the refunded lifecycle state.
func (s *service) updateRefundStatus(ctx context.Context, txSales sales.Repository, txRefunds Repository, sale *models.Sale) error {
	full := true
	for i := range sale.Lines {
		refunded, err := txRefunds.SumRefundedForLine(ctx, sale.Lines[i].ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum refunded quantity")
		}
		if refunded < sale.Lines[i].Quantity {
			full = false
			break
		}
	}

	updates := map[string]any{"refund_status": enums.RefundStatusPartial}
	if full {
		updates["refund_status"] = enums.RefundStatusFull
		updates["status"] = enums.SaleStatusRefunded
	}
	if err := txSales.UpdateSale(ctx, sale.ID, updates); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update sale refund status")
	}
	return nil
}

// RefundedQuantities reports, per sale line, how many units have been
// refunded so far.
func (s *service) RefundedQuantities(ctx context.Context, saleID uuid.UUID) (map[uuid.UUID]int, error) {
	sale, err := s.salesRepo.FindSale(ctx, saleID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "sale %s not found", saleID)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sale")
	}
	out := make(map[uuid.UUID]int, len(sale.Lines))
	for i := range sale.Lines {
		refunded, err := s.repo.SumRefundedForLine(ctx, sale.Lines[i].ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum refunded quantity")
		}
		out[sale.Lines[i].ID] = refunded
	}
	return out, nil
}

func (s *service) validateInput(input RefundInput) error {
	if input.SaleID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "sale id required")
	}
	if input.ActorID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "actor id required")
	}
	if strings.TrimSpace(input.Reason) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund reason required")
	}
	if len(input.Lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund requires at least one line")
	}
	for _, line := range input.Lines {
		if line.SaleLineID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "refund line requires a sale line id")
		}
		if line.QuantityRefunded <= 0 {
			return pkgerrors.Newf(pkgerrors.CodeValidation,
				"refund quantity for line %s must be positive", line.SaleLineID)
		}
	}
	return nil
}

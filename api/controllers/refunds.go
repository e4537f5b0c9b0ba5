package controllers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/danielcervantes/clinicpos-backend/api/middleware"
	"github.com/danielcervantes/clinicpos-backend/api/responses"
	"github.com/danielcervantes/clinicpos-backend/api/validators"
	"github.com/danielcervantes/clinicpos-backend/internal/refunds"
	pkgerrors "github.com/danielcervantes/clinicpos-backend/pkg/errors"
	"github.com/danielcervantes/clinicpos-backend/pkg/logger"
	"github.com/danielcervantes/clinicpos-backend/pkg/types"
)

type refundLineRequest struct {
	SaleLineID       uuid.UUID        `json:"sale_line_id" validate:"required"`
	QuantityRefunded int              `json:"quantity_refunded" validate:"required,min=1"`
	AmountRefunded   *decimal.Decimal `json:"amount_refunded,omitempty"`
}

type refundRequest struct {
	Reason         string              `json:"reason" validate:"required"`
	IdempotencyKey *string             `json:"idempotency_key,omitempty"`
	Metadata       types.JSONMap       `json:"metadata,omitempty"`
	Lines          []refundLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func RefundSale(svc refunds.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, ok := middleware.ActorFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "actor missing"))
			return
		}

		saleID, err := parseSaleID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req refundRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		lines := make([]refunds.RefundLineInput, len(req.Lines))
		for i, line := range req.Lines {
			lines[i] = refunds.RefundLineInput{
				SaleLineID:       line.SaleLineID,
				QuantityRefunded: line.QuantityRefunded,
				AmountRefunded:   line.AmountRefunded,
			}
		}

		refund, err := svc.RefundSale(r.Context(), refunds.RefundInput{
			SaleID:         saleID,
			Reason:         req.Reason,
			IdempotencyKey: req.IdempotencyKey,
			Metadata:       req.Metadata,
			Lines:          lines,
			ActorID:        actorID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, refund)
	}
}

func SaleRefundedQuantities(svc refunds.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		saleID, err := parseSaleID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		quantities, err := svc.RefundedQuantities(r.Context(), saleID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, quantities)
	}
}

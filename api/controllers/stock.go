package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/danielcervantes/clinicpos-backend/api/middleware"
	"github.com/danielcervantes/clinicpos-backend/api/responses"
	"github.com/danielcervantes/clinicpos-backend/api/validators"
	"github.com/danielcervantes/clinicpos-backend/internal/stock"
	pkgerrors "github.com/danielcervantes/clinicpos-backend/pkg/errors"
	"github.com/danielcervantes/clinicpos-backend/pkg/logger"
	"github.com/danielcervantes/clinicpos-backend/pkg/types"
)

type receiveStockRequest struct {
	LocationCode string        `json:"location_code" validate:"required"`
	ProductID    uuid.UUID     `json:"product_id" validate:"required"`
	BatchNumber  string        `json:"batch_number" validate:"required"`
	ExpiryDate   *time.Time    `json:"expiry_date,omitempty"`
	Quantity     int           `json:"quantity" validate:"required,min=1"`
	Metadata     types.JSONMap `json:"metadata,omitempty"`
}

func ReceiveStock(svc stock.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, ok := middleware.ActorFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "actor missing"))
			return
		}

		var req receiveStockRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		move, err := svc.ReceiveStock(r.Context(), stock.ReceiveInput{
			LocationCode: req.LocationCode,
			ProductID:    req.ProductID,
			BatchNumber:  req.BatchNumber,
			ExpiryDate:   req.ExpiryDate,
			Quantity:     req.Quantity,
			Metadata:     req.Metadata,
			ActorID:      actorID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, move)
	}
}

type adjustStockRequest struct {
	LocationCode string    `json:"location_code" validate:"required"`
	ProductID    uuid.UUID `json:"product_id" validate:"required"`
	BatchNumber  string    `json:"batch_number" validate:"required"`
	Quantity     int       `json:"quantity" validate:"required"`
	Reason       string    `json:"reason" validate:"required"`
}

func AdjustStock(svc stock.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, ok := middleware.ActorFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "actor missing"))
			return
		}

		var req adjustStockRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		move, err := svc.AdjustStock(r.Context(), stock.AdjustInput{
			LocationCode: req.LocationCode,
			ProductID:    req.ProductID,
			BatchNumber:  req.BatchNumber,
			Quantity:     req.Quantity,
			Reason:       req.Reason,
			ActorID:      actorID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, move)
	}
}

type transferStockRequest struct {
	FromLocationCode string    `json:"from_location_code" validate:"required"`
	ToLocationCode   string    `json:"to_location_code" validate:"required"`
	ProductID        uuid.UUID `json:"product_id" validate:"required"`
	BatchNumber      string    `json:"batch_number" validate:"required"`
	Quantity         int       `json:"quantity" validate:"required,min=1"`
}

func TransferStock(svc stock.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, ok := middleware.ActorFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "actor missing"))
			return
		}

		var req transferStockRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		moves, err := svc.TransferStock(r.Context(), stock.TransferInput{
			FromLocationCode: req.FromLocationCode,
			ToLocationCode:   req.ToLocationCode,
			ProductID:        req.ProductID,
			BatchNumber:      req.BatchNumber,
			Quantity:         req.Quantity,
			ActorID:          actorID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, moves)
	}
}

type recordWasteRequest struct {
	LocationCode string    `json:"location_code" validate:"required"`
	ProductID    uuid.UUID `json:"product_id" validate:"required"`
	BatchNumber  string    `json:"batch_number" validate:"required"`
	Quantity     int       `json:"quantity" validate:"required,min=1"`
}

func RecordWaste(svc stock.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, ok := middleware.ActorFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "actor missing"))
			return
		}

		var req recordWasteRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		move, err := svc.RecordWaste(r.Context(), stock.WasteInput{
			LocationCode: req.LocationCode,
			ProductID:    req.ProductID,
			BatchNumber:  req.BatchNumber,
			Quantity:     req.Quantity,
			ActorID:      actorID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, move)
	}
}

func StockOnHand(svc stock.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		locationCode := strings.TrimSpace(r.URL.Query().Get("location"))
		if locationCode == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "location query parameter required"))
			return
		}

		rows, err := svc.OnHand(r.Context(), locationCode)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rows)
	}
}

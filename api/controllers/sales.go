package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/danielcervantes/clinicpos-backend/api/middleware"
	"github.com/danielcervantes/clinicpos-backend/api/responses"
	"github.com/danielcervantes/clinicpos-backend/api/validators"
	"github.com/danielcervantes/clinicpos-backend/internal/sales"
	"github.com/danielcervantes/clinicpos-backend/pkg/enums"
	pkgerrors "github.com/danielcervantes/clinicpos-backend/pkg/errors"
	"github.com/danielcervantes/clinicpos-backend/pkg/logger"
)

type saleTransitionRequest struct {
	Target       string  `json:"target" validate:"required"`
	Reason       *string `json:"reason,omitempty"`
	LocationCode string  `json:"location_code,omitempty"`
	AllowExpired bool    `json:"allow_expired,omitempty"`
}

func SaleTransition(svc sales.Service, logg *logger.Logger) http.HandlerFunc {
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

		var req saleTransitionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		target, err := enums.ParseSaleStatus(req.Target)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid target status"))
			return
		}

		sale, err := svc.TransitionTo(r.Context(), sales.TransitionInput{
			SaleID:       saleID,
			Target:       target,
			Reason:       req.Reason,
			LocationCode: req.LocationCode,
			AllowExpired: req.AllowExpired,
			ActorID:      actorID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sale)
	}
}

func SaleMoves(svc sales.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		saleID, err := parseSaleID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		moves, err := svc.MovesForSale(r.Context(), saleID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, moves)
	}
}

func parseSaleID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "saleId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "sale id is required")
	}
	saleID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid sale id")
	}
	return saleID, nil
}

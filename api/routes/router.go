package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danielcervantes/clinicpos-backend/api/controllers"
	"github.com/danielcervantes/clinicpos-backend/api/middleware"
	"github.com/danielcervantes/clinicpos-backend/internal/refunds"
	"github.com/danielcervantes/clinicpos-backend/internal/sales"
	"github.com/danielcervantes/clinicpos-backend/internal/stock"
	"github.com/danielcervantes/clinicpos-backend/pkg/config"
	"github.com/danielcervantes/clinicpos-backend/pkg/db"
	"github.com/danielcervantes/clinicpos-backend/pkg/logger"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbPinger db.Pinger,
	registry *prometheus.Registry,
	stockService stock.Service,
	salesService sales.Service,
	refundService refunds.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbPinger))
	})

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stock/on-hand", controllers.StockOnHand(stockService, logg))
		r.Get("/sales/{saleId}/moves", controllers.SaleMoves(salesService, logg))
		r.Get("/sales/{saleId}/refunded-quantities", controllers.SaleRefundedQuantities(refundService, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Actor(logg))

			r.Route("/stock", func(r chi.Router) {
				r.Post("/receipts", controllers.ReceiveStock(stockService, logg))
				r.Post("/adjustments", controllers.AdjustStock(stockService, logg))
				r.Post("/transfers", controllers.TransferStock(stockService, logg))
				r.Post("/waste", controllers.RecordWaste(stockService, logg))
			})

			r.Route("/sales/{saleId}", func(r chi.Router) {
				r.Post("/transition", controllers.SaleTransition(salesService, logg))
				r.Post("/refunds", controllers.RefundSale(refundService, logg))
			})
		})
	})

	return r
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StockMetrics counts ledger activity. All methods are nil-safe so services
// can run without a registry in tests.
type StockMetrics struct {
	movesApplied     *prometheus.CounterVec
	refundsCompleted prometheus.Counter
	rejections       *prometheus.CounterVec
}

// NewStockMetrics registers the ledger metrics on the provided registerer.
func NewStockMetrics(reg prometheus.Registerer) *StockMetrics {
	if reg == nil {
		return &StockMetrics{}
	}
	movesApplied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_moves_applied_total",
		Help: "Stock ledger moves applied, by move type.",
	}, []string{"move_type"})
	refundsCompleted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sale_refunds_completed_total",
		Help: "Completed sale refunds.",
	})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_allocation_rejections_total",
		Help: "Allocation or mutation rejections, by reason.",
	}, []string{"reason"})
	reg.MustRegister(movesApplied, refundsCompleted, rejections)
	return &StockMetrics{
		movesApplied:     movesApplied,
		refundsCompleted: refundsCompleted,
		rejections:       rejections,
	}
}

// IncMoveApplied counts one applied move of the given type.
func (m *StockMetrics) IncMoveApplied(moveType string) {
	if m == nil || m.movesApplied == nil {
		return
	}
	m.movesApplied.WithLabelValues(moveType).Inc()
}

// IncRefundCompleted counts one committed refund.
func (m *StockMetrics) IncRefundCompleted() {
	if m == nil || m.refundsCompleted == nil {
		return
	}
	m.refundsCompleted.Inc()
}

// IncRejection counts one rejected stock operation.
func (m *StockMetrics) IncRejection(reason string) {
	if m == nil || m.rejections == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

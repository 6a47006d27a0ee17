// Package metrics exposes the ledger's prometheus counters. A nil *Recorder
// is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Recorder struct {
	stockClamps   *prometheus.CounterVec
	shiftFloors   *prometheus.CounterVec
	sales         *prometheus.CounterVec
	cancellations *prometheus.CounterVec
	receptions    *prometheus.CounterVec
}

// NewRecorder builds the counters and registers them on reg when reg is not nil.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		stockClamps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "posgo",
			Name:      "stock_clamp_total",
			Help:      "Stock adjustments that would have gone below zero and were clamped.",
		}, []string{"store_id"}),
		shiftFloors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "posgo",
			Name:      "shift_floor_total",
			Help:      "Shift debits that hit the zero floor on at least one tender.",
		}, []string{"store_id"}),
		sales: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "posgo",
			Name:      "sales_recorded_total",
			Help:      "Completed sales recorded.",
		}, []string{"store_id"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "posgo",
			Name:      "sales_canceled_total",
			Help:      "Sales canceled, by refund tender.",
		}, []string{"store_id", "refund_tender"}),
		receptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "posgo",
			Name:      "purchase_receptions_total",
			Help:      "Purchase reception transitions, by direction.",
		}, []string{"store_id", "direction"}),
	}
	if reg != nil {
		reg.MustRegister(r.stockClamps, r.shiftFloors, r.sales, r.cancellations, r.receptions)
	}
	return r
}

func (r *Recorder) StockClamped(storeID string) {
	if r == nil {
		return
	}
	r.stockClamps.WithLabelValues(storeID).Inc()
}

func (r *Recorder) ShiftFloored(storeID string) {
	if r == nil {
		return
	}
	r.shiftFloors.WithLabelValues(storeID).Inc()
}

func (r *Recorder) SaleRecorded(storeID string) {
	if r == nil {
		return
	}
	r.sales.WithLabelValues(storeID).Inc()
}

func (r *Recorder) SaleCanceled(storeID string, refundTender string) {
	if r == nil {
		return
	}
	r.cancellations.WithLabelValues(storeID, refundTender).Inc()
}

func (r *Recorder) Reception(storeID string, direction string) {
	if r == nil {
		return
	}
	r.receptions.WithLabelValues(storeID, direction).Inc()
}

// StockClamps returns the counter for tests and diagnostics.
func (r *Recorder) StockClamps(storeID string) prometheus.Counter {
	return r.stockClamps.WithLabelValues(storeID)
}

func (r *Recorder) ShiftFloors(storeID string) prometheus.Counter {
	return r.shiftFloors.WithLabelValues(storeID)
}

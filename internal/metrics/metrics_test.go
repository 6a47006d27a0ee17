package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCountsPerStore(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.StockClamped("s1")
	r.StockClamped("s1")
	r.StockClamped("s2")
	r.ShiftFloored("s1")

	if got := testutil.ToFloat64(r.StockClamps("s1")); got != 2 {
		t.Fatalf("expected 2 clamps for s1, got %v", got)
	}
	if got := testutil.ToFloat64(r.StockClamps("s2")); got != 1 {
		t.Fatalf("expected 1 clamp for s2, got %v", got)
	}
	if got := testutil.ToFloat64(r.ShiftFloors("s1")); got != 1 {
		t.Fatalf("expected 1 floor for s1, got %v", got)
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.StockClamped("s1")
	r.ShiftFloored("s1")
	r.SaleRecorded("s1")
	r.SaleCanceled("s1", "cash")
	r.Reception("s1", "receive")
}

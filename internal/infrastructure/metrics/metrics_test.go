package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAreRegistered(t *testing.T) {
	before := testutil.ToFloat64(Records.WithLabelValues("fetched"))
	Records.WithLabelValues("fetched").Inc()
	if got := testutil.ToFloat64(Records.WithLabelValues("fetched")); got != before+1 {
		t.Fatalf("expected %v, got %v", before+1, got)
	}

	BudgetUsed.Set(42)
	if got := testutil.ToFloat64(BudgetUsed); got != 42 {
		t.Fatalf("unexpected budget gauge %v", got)
	}
}

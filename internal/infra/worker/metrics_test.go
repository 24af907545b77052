package worker

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSweepMetricsRecorders(t *testing.T) {
	m := testMetrics()

	before := testutil.ToFloat64(m.SweepRunsTotal.WithLabelValues("success"))
	m.RecordSweepRun("success")
	if got := testutil.ToFloat64(m.SweepRunsTotal.WithLabelValues("success")); got != before+1 {
		t.Errorf("expected success counter %v, got %v", before+1, got)
	}

	beforeAttempted := testutil.ToFloat64(m.SweepSourcesAttemptedTotal)
	m.RecordSourcesAttempted(3)
	if got := testutil.ToFloat64(m.SweepSourcesAttemptedTotal); got != beforeAttempted+3 {
		t.Errorf("expected attempted counter %v, got %v", beforeAttempted+3, got)
	}

	m.RecordLastSuccess()
	if got := testutil.ToFloat64(m.SweepLastSuccessTimestamp); got == 0 {
		t.Error("last success timestamp should be set")
	}

	m.RecordSweepDuration(1.5)
}

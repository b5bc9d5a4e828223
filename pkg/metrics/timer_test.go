package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func histogramSampleCount(t *testing.T, c prometheus.Collector) uint64 {
	t.Helper()
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) == 0 || len(mfs[0].GetMetric()) == 0 {
		t.Fatal("no metrics gathered")
	}
	return mfs[0].GetMetric()[0].GetHistogram().GetSampleCount()
}

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)

	if d := timer.Duration(); d < 10*time.Millisecond {
		t.Errorf("expected at least 10ms, got %v", d)
	}
}

func TestTimerObserveDuration(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "test_op_duration_seconds",
		Help: "test histogram",
	})

	timer := NewTimer()
	time.Sleep(time.Millisecond)
	timer.ObserveDuration(h)

	if count := histogramSampleCount(t, h); count != 1 {
		t.Errorf("expected 1 sample, got %d", count)
	}
}

func TestTimerObserveDurationVec(t *testing.T) {
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_labeled_duration_seconds",
		Help: "test histogram vec",
	}, []string{"op"})

	timer := NewTimer()
	timer.ObserveDurationVec(hv, "cleanup")
	timer.ObserveDurationVec(hv, "cleanup")
	timer.ObserveDurationVec(hv, "prestart")

	reg := prometheus.NewRegistry()
	reg.MustRegister(hv)
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) != 1 {
		t.Fatalf("expected 1 family, got %d", len(mfs))
	}
	if got := len(mfs[0].GetMetric()); got != 2 {
		t.Errorf("expected 2 label children, got %d", got)
	}

	var total uint64
	for _, m := range mfs[0].GetMetric() {
		total += m.GetHistogram().GetSampleCount()
	}
	if total != 3 {
		t.Errorf("expected 3 samples across children, got %d", total)
	}
}

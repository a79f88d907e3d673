package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordSearch(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordSearch(3, 7, 10*time.Millisecond, nil)
	m.RecordSearch(0, 0, time.Millisecond, errors.New("scene gone"))

	if got := testutil.ToFloat64(m.SearchesTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("Expected 1 successful search, got %v", got)
	}
	if got := testutil.ToFloat64(m.SearchesTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("Expected 1 failed search, got %v", got)
	}
	if got := testutil.ToFloat64(m.SearchAttributesFound); got != 7 {
		t.Errorf("Expected 7 attributes, got %v", got)
	}
}

func TestRecordMetadataOperation(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordMetadataOperation("apply", time.Millisecond, nil)
	m.RecordMetadataOperation("apply", time.Millisecond, nil)
	m.RecordMetadataOperation("remove", time.Millisecond, errors.New("locked"))

	if got := testutil.ToFloat64(m.MetadataOperationsTotal.WithLabelValues("apply", "success")); got != 2 {
		t.Errorf("Expected 2 applies, got %v", got)
	}
	if got := testutil.ToFloat64(m.MetadataOperationsTotal.WithLabelValues("remove", "error")); got != 1 {
		t.Errorf("Expected 1 failed remove, got %v", got)
	}
}

func TestNewMetricsOwnsRegistry(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()
	if a.Registry() == nil || a.Registry() == b.Registry() {
		t.Fatal("Each Metrics should own a registry so instances do not collide")
	}
	a.RecordGrpcRequest("/x", "OK", time.Millisecond)
	if got := testutil.ToFloat64(a.GrpcRequestsTotal.WithLabelValues("/x", "OK")); got != 1 {
		t.Errorf("Expected 1 request, got %v", got)
	}
}

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetricFamily は収集結果から指定名のメトリクスファミリーを探す。
func findMetricFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// labelValue はラベル付きカウンタから指定ラベル値のカウントを返す。
func labelValue(mf *dto.MetricFamily, label, value string) float64 {
	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label && lp.GetValue() == value {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func TestRecordAnalyzeRequest_CountsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAnalyzeRequest(ResultSuccess)
	c.RecordAnalyzeRequest(ResultSuccess)
	c.RecordAnalyzeRequest(ResultFailure)

	mf := findMetricFamily(t, reg, "seoman_analyze_requests_total")
	if got := labelValue(mf, "result", ResultSuccess); got != 2 {
		t.Errorf("success = %v, want 2", got)
	}
	if got := labelValue(mf, "result", ResultFailure); got != 1 {
		t.Errorf("failure = %v, want 1", got)
	}
}

func TestRecordAnalyzeLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAnalyzeLatency(1500 * time.Millisecond)

	mf := findMetricFamily(t, reg, "seoman_analyze_latency_seconds")
	h := mf.GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 1 {
		t.Errorf("sample count = %d, want 1", h.GetSampleCount())
	}
	if h.GetSampleSum() != 1.5 {
		t.Errorf("sample sum = %v, want 1.5", h.GetSampleSum())
	}
}

func TestRecordAnalysisCache_HitAndMiss(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAnalysisCache(true)
	c.RecordAnalysisCache(false)
	c.RecordAnalysisCache(false)

	mf := findMetricFamily(t, reg, "seoman_analysis_cache_total")
	if got := labelValue(mf, "result", "hit"); got != 1 {
		t.Errorf("hit = %v, want 1", got)
	}
	if got := labelValue(mf, "result", "miss"); got != 2 {
		t.Errorf("miss = %v, want 2", got)
	}
}

func TestProjectCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordProjectCreated()
	c.RecordProjectDuplicate()
	c.RecordProjectDuplicate()
	c.RecordProjectDeleted()

	tests := []struct {
		name string
		want float64
	}{
		{"seoman_projects_created_total", 1},
		{"seoman_projects_duplicate_total", 2},
		{"seoman_projects_deleted_total", 1},
	}
	for _, tt := range tests {
		mf := findMetricFamily(t, reg, tt.name)
		if got := mf.GetMetric()[0].GetCounter().GetValue(); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestRecordRealtimeEvent_CountsByType(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRealtimeEvent("insert")
	c.RecordRealtimeEvent("resync")

	mf := findMetricFamily(t, reg, "seoman_realtime_events_total")
	if got := labelValue(mf, "event_type", "insert"); got != 1 {
		t.Errorf("insert = %v, want 1", got)
	}
	if got := labelValue(mf, "event_type", "resync"); got != 1 {
		t.Errorf("resync = %v, want 1", got)
	}
}

func TestSetActiveMirrors_SetsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SetActiveMirrors(3)
	c.SetActiveMirrors(2)

	mf := findMetricFamily(t, reg, "seoman_active_mirrors")
	if got := mf.GetMetric()[0].GetGauge().GetValue(); got != 2 {
		t.Errorf("active mirrors = %v, want 2", got)
	}
}

func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordProjectCreated()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body, _ := io.ReadAll(w.Body)
	if !strings.Contains(string(body), "seoman_projects_created_total 1") {
		t.Errorf("response should contain seoman_projects_created_total, got:\n%s", body)
	}
}

func TestNewCollector_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	NewCollector(reg)
}

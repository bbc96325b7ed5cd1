// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 解析リクエストの結果ラベル
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultBlocked = "blocked"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層や変更通知から利用する。
type MetricsCollector interface {
	RecordAnalyzeRequest(result string)
	RecordAnalyzeLatency(duration time.Duration)
	RecordAnalysisCache(hit bool)
	RecordProjectCreated()
	RecordProjectDuplicate()
	RecordProjectDeleted()
	RecordRealtimeEvent(eventType string)
	SetActiveMirrors(n int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	analyzeRequests *prometheus.CounterVec
	analyzeLatency  prometheus.Histogram
	analysisCache   *prometheus.CounterVec
	projectsCreated prometheus.Counter
	projectsDup     prometheus.Counter
	projectsDeleted prometheus.Counter
	realtimeEvents  *prometheus.CounterVec
	activeMirrors   prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		analyzeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seoman_analyze_requests_total",
			Help: "Webサイト解析リクエストの結果別合計数",
		}, []string{"result"}),
		analyzeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "seoman_analyze_latency_seconds",
			Help:    "Webサイト解析のレイテンシ（秒）",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}),
		analysisCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seoman_analysis_cache_total",
			Help: "解析結果キャッシュのヒット/ミス数",
		}, []string{"result"}),
		projectsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seoman_projects_created_total",
			Help: "作成されたプロジェクトの合計数",
		}),
		projectsDup: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seoman_projects_duplicate_total",
			Help: "URL重複により拒否されたプロジェクト作成の合計数",
		}),
		projectsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seoman_projects_deleted_total",
			Help: "削除されたプロジェクトの合計数",
		}),
		realtimeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seoman_realtime_events_total",
			Help: "受信した変更通知の種類別合計数",
		}, []string{"event_type"}),
		activeMirrors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "seoman_active_mirrors",
			Help: "セッションごとに保持しているプロジェクトミラーの数",
		}),
	}

	reg.MustRegister(
		c.analyzeRequests,
		c.analyzeLatency,
		c.analysisCache,
		c.projectsCreated,
		c.projectsDup,
		c.projectsDeleted,
		c.realtimeEvents,
		c.activeMirrors,
	)

	return c
}

// RecordAnalyzeRequest は解析リクエストの結果を記録する。
func (c *Collector) RecordAnalyzeRequest(result string) {
	c.analyzeRequests.WithLabelValues(result).Inc()
}

// RecordAnalyzeLatency は解析のレイテンシを記録する。
func (c *Collector) RecordAnalyzeLatency(duration time.Duration) {
	c.analyzeLatency.Observe(duration.Seconds())
}

// RecordAnalysisCache はキャッシュのヒット/ミスを記録する。
func (c *Collector) RecordAnalysisCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.analysisCache.WithLabelValues(result).Inc()
}

func (c *Collector) RecordProjectCreated() { c.projectsCreated.Inc() }

func (c *Collector) RecordProjectDuplicate() { c.projectsDup.Inc() }

func (c *Collector) RecordProjectDeleted() { c.projectsDeleted.Inc() }

// RecordRealtimeEvent は受信した変更通知を種類別に記録する。
func (c *Collector) RecordRealtimeEvent(eventType string) {
	c.realtimeEvents.WithLabelValues(eventType).Inc()
}

// SetActiveMirrors は保持中のミラー数を設定する。
func (c *Collector) SetActiveMirrors(n int) {
	c.activeMirrors.Set(float64(n))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。
// メトリクスが不要なテストやワーカーで使用する。
type Nop struct{}

func (Nop) RecordAnalyzeRequest(string)        {}
func (Nop) RecordAnalyzeLatency(time.Duration) {}
func (Nop) RecordAnalysisCache(bool)           {}
func (Nop) RecordProjectCreated()              {}
func (Nop) RecordProjectDuplicate()            {}
func (Nop) RecordProjectDeleted()              {}
func (Nop) RecordRealtimeEvent(string)         {}
func (Nop) SetActiveMirrors(int)               {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder はメトリクス収集のインターフェース。
// APIクライアントと各ストア、同期ワーカーから利用する。
type Recorder interface {
	RecordAPIRequest(endpoint string, statusCode int, duration time.Duration)
	RecordAPIError(endpoint string, category string)
	RecordSync(store string, success bool)
	RecordStaleDiscarded(store string)
	SetCartLines(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	apiRequests    *prometheus.CounterVec
	apiErrors      *prometheus.CounterVec
	apiLatency     *prometheus.HistogramVec
	syncs          *prometheus.CounterVec
	staleDiscarded *prometheus.CounterVec
	cartLines      prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homechef_api_requests_total",
			Help: "バックエンドAPI呼び出しの合計数（エンドポイント・ステータス別）",
		}, []string{"endpoint", "status_code"}),
		apiErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homechef_api_errors_total",
			Help: "バックエンドAPI呼び出しのエラー数（エンドポイント・カテゴリ別）",
		}, []string{"endpoint", "category"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "homechef_api_latency_seconds",
			Help:    "バックエンドAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homechef_store_sync_total",
			Help: "ストアのサーバー同期の合計数",
		}, []string{"store", "result"}),
		staleDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homechef_store_stale_responses_total",
			Help: "新しい操作に追い越されたため破棄した応答の数",
		}, []string{"store"}),
		cartLines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "homechef_cart_lines",
			Help: "現在のカート明細数",
		}),
	}

	reg.MustRegister(
		c.apiRequests,
		c.apiErrors,
		c.apiLatency,
		c.syncs,
		c.staleDiscarded,
		c.cartLines,
	)

	return c
}

// RecordAPIRequest はAPI呼び出しのステータスとレイテンシを記録する。
// 通信エラーで応答がない場合のstatusCodeは0。
func (c *Collector) RecordAPIRequest(endpoint string, statusCode int, duration time.Duration) {
	c.apiRequests.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
	c.apiLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordAPIError はAPI呼び出しのエラーをカテゴリ別に記録する。
func (c *Collector) RecordAPIError(endpoint string, category string) {
	c.apiErrors.WithLabelValues(endpoint, category).Inc()
}

// RecordSync はストアの同期結果を記録する。
func (c *Collector) RecordSync(store string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.syncs.WithLabelValues(store, result).Inc()
}

// RecordStaleDiscarded は破棄した古い応答を記録する。
func (c *Collector) RecordStaleDiscarded(store string) {
	c.staleDiscarded.WithLabelValues(store).Inc()
}

// SetCartLines は現在のカート明細数を設定する。
func (c *Collector) SetCartLines(count int) {
	c.cartLines.Set(float64(count))
}

// Nop は何も記録しないRecorder。メトリクスを公開しないコマンドで使用する。
type Nop struct{}

func (Nop) RecordAPIRequest(string, int, time.Duration) {}
func (Nop) RecordAPIError(string, string)               {}
func (Nop) RecordSync(string, bool)                     {}
func (Nop) RecordStaleDiscarded(string)                 {}
func (Nop) SetCartLines(int)                            {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = Nop{}
)

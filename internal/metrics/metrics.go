// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーやサービス層から利用する。
type MetricsCollector interface {
	RecordNDACreated()
	RecordNDASigned()
	RecordNDADeclined()
	RecordCallbackOutcome(outcome string)
	RecordIntentReplay(result string)
	RecordExchangeLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	ndaCreated      prometheus.Counter
	ndaSigned       prometheus.Counter
	ndaDeclined     prometheus.Counter
	callbackOutcome *prometheus.CounterVec
	intentReplay    *prometheus.CounterVec
	exchangeLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		ndaCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ndaflow_nda_created_total",
			Help: "作成されたNDAの合計数",
		}),
		ndaSigned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ndaflow_nda_signed_total",
			Help: "署名されたNDAの合計数",
		}),
		ndaDeclined: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ndaflow_nda_declined_total",
			Help: "拒否されたNDAの合計数",
		}),
		callbackOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ndaflow_oauth_callback_total",
			Help: "OAuthコールバックの結果別の合計数",
		}, []string{"outcome"}),
		intentReplay: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ndaflow_intent_replay_total",
			Help: "コールバック後に再生されたインテントの結果別の合計数",
		}, []string{"result"}),
		exchangeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ndaflow_oauth_exchange_latency_seconds",
			Help:    "認可コード交換のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.ndaCreated,
		c.ndaSigned,
		c.ndaDeclined,
		c.callbackOutcome,
		c.intentReplay,
		c.exchangeLatency,
	)

	return c
}

// RecordNDACreated はNDA作成を記録する。
func (c *Collector) RecordNDACreated() {
	c.ndaCreated.Inc()
}

// RecordNDASigned はNDA署名を記録する。
func (c *Collector) RecordNDASigned() {
	c.ndaSigned.Inc()
}

// RecordNDADeclined はNDA拒否を記録する。
func (c *Collector) RecordNDADeclined() {
	c.ndaDeclined.Inc()
}

// RecordCallbackOutcome はOAuthコールバックの結果を記録する。
// outcomeは success / provider_error / exchange_failed のいずれか。
func (c *Collector) RecordCallbackOutcome(outcome string) {
	c.callbackOutcome.WithLabelValues(outcome).Inc()
}

// RecordIntentReplay はインテント再生の結果を記録する。
// resultは replayed / failed / none のいずれか。
func (c *Collector) RecordIntentReplay(result string) {
	c.intentReplay.WithLabelValues(result).Inc()
}

// RecordExchangeLatency は認可コード交換のレイテンシを記録する。
func (c *Collector) RecordExchangeLatency(duration time.Duration) {
	c.exchangeLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

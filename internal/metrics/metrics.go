// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層とミドルウェアから利用する。
type MetricsCollector interface {
	RecordAuthAttempt(method, outcome string)
	RecordOTPSent()
	RecordJobCreated(category string)
	RecordApplication(outcome string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordCleanupPurged(kind string, count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authAttempts   *prometheus.CounterVec
	otpSent        prometheus.Counter
	jobsCreated    *prometheus.CounterVec
	applications   *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
	cleanupPurged  *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kaaryasetu_auth_attempts_total",
			Help: "認証方式・結果別の認証試行数",
		}, []string{"method", "outcome"}),
		otpSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kaaryasetu_otp_sent_total",
			Help: "送信したOTPの合計数",
		}),
		jobsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kaaryasetu_jobs_created_total",
			Help: "カテゴリ別の求人作成数",
		}, []string{"category"}),
		applications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kaaryasetu_applications_total",
			Help: "結果別の応募数",
		}, []string{"outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kaaryasetu_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kaaryasetu_request_latency_seconds",
			Help:    "APIリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		cleanupPurged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kaaryasetu_cleanup_purged_total",
			Help: "クリーンアップで削除したレコード数",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.authAttempts,
		c.otpSent,
		c.jobsCreated,
		c.applications,
		c.httpStatus,
		c.requestLatency,
		c.cleanupPurged,
	)

	return c
}

// RecordAuthAttempt は認証試行を記録する。
func (c *Collector) RecordAuthAttempt(method, outcome string) {
	c.authAttempts.WithLabelValues(method, outcome).Inc()
}

// RecordOTPSent はOTP送信を記録する。
func (c *Collector) RecordOTPSent() {
	c.otpSent.Inc()
}

// RecordJobCreated は求人作成を記録する。
func (c *Collector) RecordJobCreated(category string) {
	c.jobsCreated.WithLabelValues(category).Inc()
}

// RecordApplication は応募の結果を記録する。
func (c *Collector) RecordApplication(outcome string) {
	c.applications.WithLabelValues(outcome).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストのレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordCleanupPurged はクリーンアップの削除件数を記録する。
func (c *Collector) RecordCleanupPurged(kind string, count int64) {
	c.cleanupPurged.WithLabelValues(kind).Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordAuthAttempt(string, string)   {}
func (Nop) RecordOTPSent()                     {}
func (Nop) RecordJobCreated(string)            {}
func (Nop) RecordApplication(string)           {}
func (Nop) RecordHTTPStatus(int)               {}
func (Nop) RecordRequestLatency(time.Duration) {}
func (Nop) RecordCleanupPurged(string, int64)  {}

// OrNop はcがnilの場合にNopを返す。
func OrNop(c MetricsCollector) MetricsCollector {
	if c == nil {
		return Nop{}
	}
	return c
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Pinger は依存先への疎通確認を行う。*sql.DBが満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// WorkerHandler はワーカープロセス向けに/metricsと/healthを提供する。
// APIルーターを持たないプロセスでもスクレイプとヘルスチェックを受けられるようにする。
func WorkerHandler(gatherer prometheus.Gatherer, pinger Pinger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler(gatherer))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if pinger != nil {
			if err := pinger.PingContext(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラー、サービス層、リアルタイム配信、ワーカーから利用する。
type MetricsCollector interface {
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordUpload(source string, bytes int64)
	RecordImageImportFailure(reason string)
	RecordChangeDelivered()
	RecordChangeDropped()
	SetSubscribers(n int)
	RecordCleanupDeleted(kind string, count int)
}

// アップロード経路のラベル値
const (
	UploadSourceMultipart = "multipart"
	UploadSourceURL       = "url"
	UploadSourceAvatar    = "avatar"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
	uploads        *prometheus.CounterVec
	uploadBytes    prometheus.Counter
	importFail     *prometheus.CounterVec
	delivered      prometheus.Counter
	dropped        prometheus.Counter
	subscribers    prometheus.Gauge
	cleanupDeleted *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ltme_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ltme_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ltme_uploads_total",
			Help: "経路別の画像アップロード数",
		}, []string{"source"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ltme_upload_bytes_total",
			Help: "アップロードされた画像の合計バイト数",
		}),
		importFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ltme_image_import_fail_total",
			Help: "URLからの画像取り込み失敗数",
		}, []string{"reason"}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ltme_realtime_delivered_total",
			Help: "購読者へ配信された変更通知の合計数",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ltme_realtime_dropped_total",
			Help: "購読者のバッファ溢れで破棄された変更通知の合計数",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ltme_realtime_subscribers",
			Help: "現在の変更通知購読者数",
		}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ltme_cleanup_deleted_total",
			Help: "クリーンアップで削除された件数",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.httpStatus,
		c.requestLatency,
		c.uploads,
		c.uploadBytes,
		c.importFail,
		c.delivered,
		c.dropped,
		c.subscribers,
		c.cleanupDeleted,
	)

	return c
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエスト処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordUpload は画像アップロードを記録する。
func (c *Collector) RecordUpload(source string, bytes int64) {
	c.uploads.WithLabelValues(source).Inc()
	c.uploadBytes.Add(float64(bytes))
}

// RecordImageImportFailure はURLからの画像取り込み失敗を記録する。
func (c *Collector) RecordImageImportFailure(reason string) {
	c.importFail.WithLabelValues(reason).Inc()
}

// RecordChangeDelivered は変更通知の配信を記録する。
func (c *Collector) RecordChangeDelivered() {
	c.delivered.Inc()
}

// RecordChangeDropped は変更通知の破棄を記録する。
func (c *Collector) RecordChangeDropped() {
	c.dropped.Inc()
}

// SetSubscribers は現在の購読者数を設定する。
func (c *Collector) SetSubscribers(n int) {
	c.subscribers.Set(float64(n))
}

// RecordCleanupDeleted はクリーンアップで削除した件数を記録する。
func (c *Collector) RecordCleanupDeleted(kind string, count int) {
	c.cleanupDeleted.WithLabelValues(kind).Add(float64(count))
}

// Compile-time check that Collector implements MetricsCollector interface
var _ MetricsCollector = (*Collector)(nil)

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordHTTPStatus(int)               {}
func (Nop) RecordRequestLatency(time.Duration) {}
func (Nop) RecordUpload(string, int64)         {}
func (Nop) RecordImageImportFailure(string)    {}
func (Nop) RecordChangeDelivered()             {}
func (Nop) RecordChangeDropped()               {}
func (Nop) SetSubscribers(int)                 {}
func (Nop) RecordCleanupDeleted(string, int)   {}

var _ MetricsCollector = Nop{}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Middleware はレスポンスのステータスコードと処理時間を記録するHTTPミドルウェア。
func Middleware(c MetricsCollector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			c.RecordHTTPStatus(rec.status)
			c.RecordRequestLatency(time.Since(start))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush はSSEのためにhttp.Flusherを透過させる。
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap はhttp.ResponseControllerが元のResponseWriterへ到達するために使う。
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

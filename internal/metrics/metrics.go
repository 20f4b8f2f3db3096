// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/shelfman/internal/model"
)

// ストア操作の結果ラベル
const (
	ResultOK        = "ok"
	ResultNotFound  = "not_found"
	ResultForbidden = "forbidden"
	ResultInvalid   = "invalid"
	ResultError     = "error"
)

// ResultOf はサービス層のエラーを結果ラベルに変換する。
func ResultOf(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case model.IsNotFound(err):
		return ResultNotFound
	case model.IsForbidden(err), model.IsUnauthenticated(err):
		return ResultForbidden
	case model.IsValidation(err):
		return ResultInvalid
	default:
		return ResultError
	}
}

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層とミドルウェアから利用する。
type MetricsCollector interface {
	RecordStoreOp(entity, op, result string)
	RecordAttributesIgnored()
	RecordImport(result string, imported, skipped int)
	RecordImportLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	storeOps          *prometheus.CounterVec
	attributesIgnored prometheus.Counter
	imports           *prometheus.CounterVec
	importedItems     *prometheus.CounterVec
	importLatency     prometheus.Histogram
	httpStatus        *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		storeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfman_store_operations_total",
			Help: "コレクション・アイテム操作の合計数（エンティティ、操作、結果別）",
		}, []string{"entity", "op", "result"}),
		attributesIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shelfman_attribute_bags_ignored_total",
			Help: "形式不正のため無視された属性バッグの合計数",
		}),
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfman_imports_total",
			Help: "フィードインポートの実行数（結果別）",
		}, []string{"result"}),
		importedItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfman_import_entries_total",
			Help: "インポートで処理されたエントリ数（imported/skipped別）",
		}, []string{"outcome"}),
		importLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shelfman_import_latency_seconds",
			Help:    "フィードインポートのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfman_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.storeOps,
		c.attributesIgnored,
		c.imports,
		c.importedItems,
		c.importLatency,
		c.httpStatus,
	)

	return c
}

// RecordStoreOp はコレクション・アイテム操作の結果を記録する。
func (c *Collector) RecordStoreOp(entity, op, result string) {
	c.storeOps.WithLabelValues(entity, op, result).Inc()
}

// RecordAttributesIgnored は無視された属性バッグを記録する。
func (c *Collector) RecordAttributesIgnored() {
	c.attributesIgnored.Inc()
}

// RecordImport はインポート1回分の結果と処理件数を記録する。
func (c *Collector) RecordImport(result string, imported, skipped int) {
	c.imports.WithLabelValues(result).Inc()
	c.importedItems.WithLabelValues("imported").Add(float64(imported))
	c.importedItems.WithLabelValues("skipped").Add(float64(skipped))
}

// RecordImportLatency はインポートのレイテンシを記録する。
func (c *Collector) RecordImportLatency(duration time.Duration) {
	c.importLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordStoreOp(entity, op, result string) {}
func (Nop) RecordAttributesIgnored() {}
func (Nop) RecordImport(result string, imported, skipped int) {}
func (Nop) RecordImportLatency(duration time.Duration) {}
func (Nop) RecordHTTPStatus(statusCode int) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Prometheus 指标导出
package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 包含所有 API Server 指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// 业务指标
	ItemsTotal        *prometheus.GaugeVec
	SwapsTotal        *prometheus.GaugeVec
	SwapsExpiredTotal prometheus.Counter
	PointsIssuedTotal *prometheus.CounterVec

	// 限流指标
	RateLimitedTotal prometheus.Counter
}

// NewMetrics 创建指标实例
//
// promauto 向默认 Registry 注册，进程内只允许创建一次。
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		ItemsTotal: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "items_total",
				Help:      "Total items by status",
			},
			[]string{"status"},
		),
		SwapsTotal: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "swaps_total",
				Help:      "Total swaps by status",
			},
			[]string{"status"},
		),
		SwapsExpiredTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "swaps_expired_total",
				Help:      "Total swaps expired by the sweeper",
			},
		),
		PointsIssuedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "points_issued_total",
				Help:      "Total points issued by transaction type",
			},
			[]string{"type"},
		),
		RateLimitedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_requests_total",
				Help:      "Total requests rejected by the rate limiter",
			},
		),
	}
}

// MetricsMiddleware 创建 HTTP 指标中间件
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		// 包装 ResponseWriter 以捕获状态码
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)
		status := strconv.Itoa(wrapped.statusCode)

		if wrapped.statusCode == http.StatusTooManyRequests {
			m.RateLimitedTotal.Inc()
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter 包装 http.ResponseWriter 以捕获状态码
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath 规范化路径，将 ID 替换为占位符避免高基数
//
// 例如 /api/items/itm-1a2b3c -> /api/items/{id}
func normalizePath(path string) string {
	for _, p := range []string{"/api/items/", "/api/swaps/", "/api/users/", "/api/admin/users/", "/api/admin/items/", "/api/admin/transactions/"} {
		if !strings.HasPrefix(path, p) {
			continue
		}
		rest := path[len(p):]
		slash := strings.IndexByte(rest, '/')
		head := rest
		if slash >= 0 {
			head = rest[:slash]
		}
		// 只替换实体 ID，固定子路由（categories、my-swaps 等）保留原样
		if !isEntityID(head) {
			return path
		}
		if slash >= 0 {
			return p + "{id}" + rest[slash:]
		}
		return p + "{id}"
	}
	return path
}

// isEntityID 是否为 usr-/itm-/swp-/txn- 形式的实体 ID
func isEntityID(s string) bool {
	for _, prefix := range []string{"usr-", "itm-", "swp-", "txn-"} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

// MetricsHandler 返回 Prometheus HTTP Handler
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordSwapsExpired 记录清扫器标记过期的交换数量
func (m *Metrics) RecordSwapsExpired(n int) {
	m.SwapsExpiredTotal.Add(float64(n))
}

// RecordPointsIssued 记录积分发放
func (m *Metrics) RecordPointsIssued(txType string, amount int) {
	if amount > 0 {
		m.PointsIssuedTotal.WithLabelValues(txType).Add(float64(amount))
	}
}

// SetItemsCount 设置各状态物品数量
func (m *Metrics) SetItemsCount(status string, count int) {
	m.ItemsTotal.WithLabelValues(status).Set(float64(count))
}

// SetSwapsCount 设置各状态交换数量
func (m *Metrics) SetSwapsCount(status string, count int) {
	m.SwapsTotal.WithLabelValues(status).Set(float64(count))
}

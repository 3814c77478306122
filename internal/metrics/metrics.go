// metrics описывает Prometheus-метрики auth-сервиса.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Исходы auth-операций для метки result.
const (
	ResultOK          = "ok"
	ResultClientError = "client_error"
	ResultServerError = "server_error"
	ResultRateLimited = "rate_limited"
)

// Metrics — набор счётчиков сервиса. Нулевой *Metrics допустим:
// все методы на nil ничего не делают.
type Metrics struct {
	authRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	reuseDetected prometheus.Counter
	janitorPurged prometheus.Counter
}

// New создаёт метрики и регистрирует их в reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		authRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cinelog",
			Subsystem: "auth",
			Name:      "requests_total",
			Help:      "Auth operations by operation and result.",
		}, []string{"op", "result"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cinelog",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern, method and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		reuseDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cinelog",
			Subsystem: "auth",
			Name:      "refresh_reuse_detected_total",
			Help:      "Presentations of an already rotated refresh token.",
		}),
		janitorPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cinelog",
			Subsystem: "auth",
			Name:      "expired_tokens_purged_total",
			Help:      "Expired refresh tokens deleted by the janitor.",
		}),
	}

	reg.MustRegister(m.authRequests, m.httpDuration, m.reuseDetected, m.janitorPurged)

	return m
}

// AuthRequest учитывает исход auth-операции op.
func (m *Metrics) AuthRequest(op, result string) {
	if m == nil {
		return
	}
	m.authRequests.WithLabelValues(op, result).Inc()
}

// ObserveHTTP учитывает длительность HTTP-запроса.
func (m *Metrics) ObserveHTTP(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(d.Seconds())
}

// RefreshReuse учитывает обнаруженное повторное использование refresh-токена.
func (m *Metrics) RefreshReuse() {
	if m == nil {
		return
	}
	m.reuseDetected.Inc()
}

// TokensPurged учитывает удалённые janitor'ом токены.
func (m *Metrics) TokensPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.janitorPurged.Add(float64(n))
}

// ResultFromStatus сводит HTTP-статус к метке result.
func ResultFromStatus(status int) string {
	switch {
	case status == 429:
		return ResultRateLimited
	case status >= 500:
		return ResultServerError
	case status >= 400:
		return ResultClientError
	default:
		return ResultOK
	}
}

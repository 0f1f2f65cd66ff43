package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the engine's counters. Internal failure detail (expired
// vs bad signature vs revoked) lives here and in logs only; it is never
// surfaced to external callers.
type Metrics struct {
	registry *prometheus.Registry

	httpReqCnt *prometheus.CounterVec
	httpDur    *prometheus.HistogramVec

	issuedCnt     *prometheus.CounterVec
	grantFailCnt  *prometheus.CounterVec
	validationCnt *prometheus.CounterVec
	revocationCnt prometheus.Counter
}

func New(namespace string) *Metrics {
	r := prometheus.NewRegistry()
	// Register standard process and Go collectors
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	httpReqCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total"}, []string{"method", "route", "status"})
	httpDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: "http_request_duration_seconds"}, []string{"method", "route", "status"})
	r.MustRegister(httpReqCnt, httpDur)

	issuedCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "tokens_issued_total"}, []string{"grant_type"})
	grantFailCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "grant_failures_total"}, []string{"grant_type", "reason"})
	validationCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "token_validations_total"}, []string{"outcome"})
	revocationCnt := prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "tokens_revoked_total"})
	r.MustRegister(issuedCnt, grantFailCnt, validationCnt, revocationCnt)

	return &Metrics{
		registry:      r,
		httpReqCnt:    httpReqCnt,
		httpDur:       httpDur,
		issuedCnt:     issuedCnt,
		grantFailCnt:  grantFailCnt,
		validationCnt: validationCnt,
		revocationCnt: revocationCnt,
	}
}

func (m *Metrics) TokenIssued(grantType string) {
	m.issuedCnt.WithLabelValues(grantType).Inc()
}

func (m *Metrics) GrantFailed(grantType, reason string) {
	m.grantFailCnt.WithLabelValues(grantType, reason).Inc()
}

func (m *Metrics) TokenValidated(outcome string) {
	m.validationCnt.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TokenRevoked() {
	m.revocationCnt.Inc()
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

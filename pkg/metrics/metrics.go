package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amoylab/chatmesh/internal/common/config"
)

// Drop reasons reported by the broker
const (
	DropSelfExcluded = "self_excluded"
	DropDuplicate    = "duplicate"
	DropUndecodable  = "undecodable"
)

// Metrics holds the instance's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpReqCnt *prometheus.CounterVec
	httpDur    *prometheus.HistogramVec
	httpInfl   *prometheus.GaugeVec

	wsConns       prometheus.Gauge
	localUsers    prometheus.Gauge
	frames        *prometheus.CounterVec
	published     *prometheus.CounterVec
	received      prometheus.Counter
	dropped       *prometheus.CounterVec
	delivered     *prometheus.CounterVec
	subscriptions prometheus.Gauge
	dedupSize     prometheus.Gauge
}

func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry:      r,
		httpReqCnt:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total"}, []string{"method", "route", "status"}),
		httpDur:       prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds", Buckets: buckets}, []string{"method", "route", "status"}),
		httpInfl:      prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "http_requests_inflight"}, []string{"route"}),
		wsConns:       prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "ws_connections"}),
		localUsers:    prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "local_users"}),
		frames:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "ws_frames_total"}, []string{"type", "outcome"}),
		published:     prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "envelopes_published_total"}, []string{"status"}),
		received:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "envelopes_received_total"}),
		dropped:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "envelopes_dropped_total"}, []string{"reason"}),
		delivered:     prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "local_deliveries_total"}, []string{"status"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "room_subscriptions"}),
		dedupSize:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "dedup_cache_entries"}),
	}
	r.MustRegister(m.httpReqCnt, m.httpDur, m.httpInfl)
	r.MustRegister(m.wsConns, m.localUsers, m.frames)
	r.MustRegister(m.published, m.received, m.dropped, m.delivered, m.subscriptions, m.dedupSize)
	return m
}

func (m *Metrics) WSConnected() {
	if m != nil {
		m.wsConns.Inc()
	}
}

func (m *Metrics) WSDisconnected() {
	if m != nil {
		m.wsConns.Dec()
	}
}

func (m *Metrics) LocalUsers(n int) {
	if m != nil {
		m.localUsers.Set(float64(n))
	}
}

// FrameHandled counts an inbound client frame by type and outcome ("ok" or an error code)
func (m *Metrics) FrameHandled(frameType, outcome string) {
	if m != nil {
		m.frames.WithLabelValues(frameType, outcome).Inc()
	}
}

func (m *Metrics) EnvelopePublished(ok bool) {
	if m != nil {
		m.published.WithLabelValues(status(ok)).Inc()
	}
}

func (m *Metrics) EnvelopeReceived() {
	if m != nil {
		m.received.Inc()
	}
}

func (m *Metrics) EnvelopeDropped(reason string) {
	if m != nil {
		m.dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) LocalDelivery(ok bool) {
	if m != nil {
		m.delivered.WithLabelValues(status(ok)).Inc()
	}
}

func (m *Metrics) RoomSubscriptions(n int) {
	if m != nil {
		m.subscriptions.Set(float64(n))
	}
}

func (m *Metrics) DedupSize(n int) {
	if m != nil {
		m.dedupSize.Set(float64(n))
	}
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpInfl.WithLabelValues(route).Inc()
		start := time.Now()
		c.Next()
		code := strconv.Itoa(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, code).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, route, code).Observe(time.Since(start).Seconds())
		m.httpInfl.WithLabelValues(route).Dec()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func status(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

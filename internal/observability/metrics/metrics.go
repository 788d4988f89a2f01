package metrics

import "github.com/prometheus/client_golang/prometheus"

// RelayMetrics exposes counters/histograms for the SMS relay flows.
type RelayMetrics struct {
	inboundTotal    *prometheus.CounterVec
	outboundTotal   *prometheus.CounterVec
	recoveryTotal   *prometheus.CounterVec
	summaryTotal    *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	webhookLatency  *prometheus.HistogramVec
}

func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "sms",
			Name:      "inbound_total",
			Help:      "Inbound SMS deliveries by transport and reconciliation outcome",
		}, []string{"transport", "outcome"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "sms",
			Name:      "outbound_total",
			Help:      "Outbound SMS sends by transport and status",
		}, []string{"transport", "status"}),
		recoveryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "session",
			Name:      "recovery_total",
			Help:      "Remote session recoveries by result",
		}, []string{"result"}),
		summaryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "history",
			Name:      "summary_total",
			Help:      "History digests by variant and outcome",
		}, []string{"variant", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relay",
			Subsystem: "provider",
			Name:      "request_seconds",
			Help:      "Latency of upstream provider calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "operation"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relay",
			Subsystem: "sms",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of inbound webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"transport"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.outboundTotal, m.recoveryTotal, m.summaryTotal, m.providerLatency, m.webhookLatency)
	return m
}

func (m *RelayMetrics) ObserveInbound(transport, outcome string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(transport, outcome).Inc()
}

func (m *RelayMetrics) ObserveOutbound(transport, status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(transport, status).Inc()
}

func (m *RelayMetrics) ObserveRecovery(result string) {
	if m == nil {
		return
	}
	m.recoveryTotal.WithLabelValues(result).Inc()
}

func (m *RelayMetrics) ObserveSummary(variant, outcome string) {
	if m == nil {
		return
	}
	m.summaryTotal.WithLabelValues(variant, outcome).Inc()
}

func (m *RelayMetrics) ObserveProviderLatency(provider, operation string, seconds float64) {
	if m == nil {
		return
	}
	m.providerLatency.WithLabelValues(provider, operation).Observe(seconds)
}

func (m *RelayMetrics) ObserveWebhookLatency(transport string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(transport).Observe(seconds)
}

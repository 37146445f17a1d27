package messaging

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts dispatch outcomes.
type Metrics struct {
	messages *prometheus.CounterVec
	runs     *prometheus.CounterVec
}

// NewMetrics registers the messaging collectors against registerer, or the
// default registerer when nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	messages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bizpulse_whatsapp_messages_total",
		Help: "WhatsApp messages attempted, partitioned by outcome.",
	}, []string{"outcome"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bizpulse_whatsapp_runs_total",
		Help: "Bulk send runs finished, partitioned by final status.",
	}, []string{"status"})
	registerer.MustRegister(messages, runs)
	return &Metrics{messages: messages, runs: runs}
}

func (m *Metrics) message(ok bool) {
	if m == nil {
		return
	}
	outcome := "sent"
	if !ok {
		outcome = "failed"
	}
	m.messages.WithLabelValues(outcome).Inc()
}

func (m *Metrics) run(status RunStatus) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(status)).Inc()
}

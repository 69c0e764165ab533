package ddp

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ridge/ddp/wire"
)

const metricsNamespace = "ddp"

type metrics struct {
	messagesReceived *prometheus.CounterVec
	messagesSent     *prometheus.CounterVec
	reconnects       prometheus.Counter
	decodeErrors     prometheus.Counter
	pendingMethods   prometheus.Gauge
	subscriptions    prometheus.Gauge
}

func newMetrics(registry prometheus.Registerer) *metrics {
	m := &metrics{
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_received_total",
			Help:      "Number of DDP messages received, by msg type.",
		}, []string{"msg"}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_sent_total",
			Help:      "Number of DDP messages sent, by msg type.",
		}, []string{"msg"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconnects_total",
			Help:      "Number of scheduled reconnection attempts.",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "decode_errors_total",
			Help:      "Number of incoming messages that failed to decode.",
		}),
		pendingMethods: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "pending_methods",
			Help:      "Number of method calls waiting for a result.",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "subscriptions",
			Help:      "Number of registered subscriptions.",
		}),
	}
	if registry == nil {
		return m
	}

	m.messagesReceived = register(registry, m.messagesReceived)
	m.messagesSent = register(registry, m.messagesSent)
	m.reconnects = register(registry, m.reconnects)
	m.decodeErrors = register(registry, m.decodeErrors)
	m.pendingMethods = register(registry, m.pendingMethods)
	m.subscriptions = register(registry, m.subscriptions)
	return m
}

// register registers a collector, reusing the one already registered under
// the same name by another client
func register[C prometheus.Collector](registry prometheus.Registerer, c C) C {
	var alreadyRegistered prometheus.AlreadyRegisteredError
	if err := registry.Register(c); err != nil {
		if errors.As(err, &alreadyRegistered) {
			if existing, ok := alreadyRegistered.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *metrics) received(msg *wire.Message) {
	label := string(msg.Msg)
	if msg.Category() == wire.CategoryUnknown {
		label = "unknown"
	}
	m.messagesReceived.WithLabelValues(label).Inc()
}

func (m *metrics) sent(t wire.Type) {
	m.messagesSent.WithLabelValues(string(t)).Inc()
}

package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics counts what the publisher did with each outbox row.
type OutboxMetrics struct {
	published *prometheus.CounterVec
	failed    *prometheus.CounterVec
	deferred  *prometheus.CounterVec
	dead      *prometheus.CounterVec
	replayed  *prometheus.CounterVec
}

// NewOutboxMetrics registers the publisher counters on reg.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	return &OutboxMetrics{
		published: counter(reg, "outbox", "published_total", "Events published, by event type and topic.", "event_type", "topic"),
		failed:    counter(reg, "outbox", "publish_failures_total", "Retryable publish failures.", "event_type", "topic"),
		deferred:  counter(reg, "outbox", "deferred_total", "Events held back behind a failed event of the same order.", "topic"),
		dead:      counter(reg, "outbox", "dead_lettered_total", "Events moved to the dead letter table.", "event_type", "reason"),
		replayed:  counter(reg, "outbox", "replayed_total", "Dead letters queued for another publish.", "event_type"),
	}
}

func (m *OutboxMetrics) Published(eventType, topic string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(label(eventType), label(topic)).Inc()
}

func (m *OutboxMetrics) Failed(eventType, topic string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(label(eventType), label(topic)).Inc()
}

func (m *OutboxMetrics) Deferred(topic string) {
	if m == nil || m.deferred == nil {
		return
	}
	m.deferred.WithLabelValues(label(topic)).Inc()
}

func (m *OutboxMetrics) DeadLettered(eventType, reason string) {
	if m == nil || m.dead == nil {
		return
	}
	m.dead.WithLabelValues(label(eventType), label(reason)).Inc()
}

func (m *OutboxMetrics) Replayed(eventType string) {
	if m == nil || m.replayed == nil {
		return
	}
	m.replayed.WithLabelValues(label(eventType)).Inc()
}

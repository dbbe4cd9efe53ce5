package metrics

import "github.com/prometheus/client_golang/prometheus"

// LifecycleMetrics tracks order, escrow, delivery and stock outcomes.
type LifecycleMetrics struct {
	orders    *prometheus.CounterVec
	escrow    *prometheus.CounterVec
	delivery  *prometheus.CounterVec
	conflicts *prometheus.CounterVec
}

// NewLifecycleMetrics registers the lifecycle counters on reg. A nil
// registerer yields a no-op recorder.
func NewLifecycleMetrics(reg prometheus.Registerer) *LifecycleMetrics {
	if reg == nil {
		return &LifecycleMetrics{}
	}
	orders := counter(reg, "", "order_transitions_total", "Order status transitions by target status.", "status")
	escrow := counter(reg, "", "escrow_transitions_total", "Escrow transitions by target status and reason.", "status", "reason")
	delivery := counter(reg, "", "delivery_transitions_total", "Delivery status transitions by target status.", "status")
	conflicts := counter(reg, "", "domain_conflicts_total", "Rejected operations by conflict reason.", "reason")
	return &LifecycleMetrics{orders: orders, escrow: escrow, delivery: delivery, conflicts: conflicts}
}

func (m *LifecycleMetrics) OrderTransition(status string) {
	if m == nil || m.orders == nil {
		return
	}
	m.orders.WithLabelValues(label(status)).Inc()
}

func (m *LifecycleMetrics) EscrowTransition(status, reason string) {
	if m == nil || m.escrow == nil {
		return
	}
	m.escrow.WithLabelValues(label(status), label(reason)).Inc()
}

func (m *LifecycleMetrics) DeliveryTransition(status string) {
	if m == nil || m.delivery == nil {
		return
	}
	m.delivery.WithLabelValues(label(status)).Inc()
}

func (m *LifecycleMetrics) Conflict(reason string) {
	if m == nil || m.conflicts == nil {
		return
	}
	m.conflicts.WithLabelValues(label(reason)).Inc()
}

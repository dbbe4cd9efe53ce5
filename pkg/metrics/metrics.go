// Package metrics holds the Prometheus collectors shared by the API, the
// cron worker and the outbox publisher.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dropday"

// register adds c to reg, reusing the collector already registered under the
// same descriptor so two services built on one registerer share series.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func counter(reg prometheus.Registerer, subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels))
}

func label(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

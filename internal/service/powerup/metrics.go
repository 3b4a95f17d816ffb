package powerup

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once
	usesTotal   *prometheus.CounterVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		usesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pwnarena",
			Subsystem: "powerups",
			Name:      "uses_total",
			Help:      "Powerup use attempts by kind and outcome",
		}, []string{"kind", "outcome"})
		if err := prometheus.Register(usesTotal); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
					usesTotal = existing
				}
			}
		}
	})
}

func recordUse(kind, outcome string) {
	if usesTotal == nil {
		return
	}
	usesTotal.With(prometheus.Labels{"kind": kind, "outcome": outcome}).Inc()
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BusEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devnet_bus_events_total",
		Help: "Total number of events published on the devnet event bus by kind",
	}, []string{"kind"})

	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devnet_bus_dropped_total",
		Help: "Total number of devnet events dropped by kind and reason",
	}, []string{"kind", "reason"})
)

// IncBusEvent records a delivered bus event.
func IncBusEvent(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	BusEventsTotal.WithLabelValues(kind).Inc()
}

// IncBusDrop records a dropped bus event with a concrete reason.
func IncBusDrop(kind, reason string) {
	if kind == "" {
		kind = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	BusDroppedTotal.WithLabelValues(kind, reason).Inc()
}

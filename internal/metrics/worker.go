// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerExitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devnet_worker_exits_total",
		Help: "Session worker exits by worker and outcome (ok, error, panic)",
	}, []string{"worker", "outcome"})

	BootSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "devnet_boot_seconds",
		Help: "Seconds between coordinator start and boot completion of the last session",
	})

	ChainhookTriggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devnet_chainhook_triggers_total",
		Help: "Chainhook action executions by outcome",
	}, []string{"outcome"})

	BlocksMinedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devnet_blocks_mined_total",
		Help: "Base-chain blocks requested by the mining loop by outcome",
	}, []string{"outcome"})
)

// IncWorkerExit records how a session worker finished.
func IncWorkerExit(worker, outcome string) {
	WorkerExitsTotal.WithLabelValues(worker, outcome).Inc()
}

// ObserveBoot records the boot duration.
func ObserveBoot(d time.Duration) {
	BootSeconds.Set(d.Seconds())
}

// IncChainhookTrigger records a chainhook action execution.
func IncChainhookTrigger(outcome string) {
	ChainhookTriggersTotal.WithLabelValues(outcome).Inc()
}

// IncBlocksMined records a mining attempt.
func IncBlocksMined(outcome string) {
	BlocksMinedTotal.WithLabelValues(outcome).Inc()
}

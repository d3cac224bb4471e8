// Package metrics exposes prometheus counters for the points core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LedgerEntriesTotal counts entries written, labeled by reason.
	LedgerEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "points_ledger_entries_total",
		Help: "Total ledger entries written",
	}, []string{"reason"})

	// ReservationsTotal counts reservation transitions by outcome.
	ReservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "points_reservations_total",
		Help: "Total reservation state transitions",
	}, []string{"outcome"})

	// IdempotentReplaysTotal counts duplicate requests answered from the
	// idempotency store, labeled by scope.
	IdempotentReplaysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "points_idempotent_replays_total",
		Help: "Duplicate requests served from stored results",
	}, []string{"scope"})

	// ExpiredReservationsTotal counts reservations moved to EXPIRED by the
	// background sweep.
	ExpiredReservationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "points_reservations_expired_total",
		Help: "Reservations expired by the background sweep",
	})
)

package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// リモート書き込みの結果
	writesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fintrack_remote_writes_total",
			Help: "Total number of remote write sequences by action and result",
		},
		[]string{"action", "result"}, // ok, partial, error
	)

	// 全件取得の回数
	refreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fintrack_refreshes_total",
			Help: "Total number of full loads by result",
		},
		[]string{"result"}, // ok, canceled
	)

	readFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fintrack_remote_read_failures_total",
			Help: "Total number of failed collection reads during full load",
		},
		[]string{"collection"},
	)

	decodeRejectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fintrack_decode_rejects_total",
			Help: "Total number of remote rows skipped because they could not be decoded",
		},
		[]string{"collection"},
	)

	repairsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fintrack_balance_repairs_total",
			Help: "Total number of balance deltas re-applied after a partial write",
		},
	)

	pendingRepairs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fintrack_balance_repairs_pending",
			Help: "Number of accounts with balance deltas waiting to be re-applied",
		},
	)
)

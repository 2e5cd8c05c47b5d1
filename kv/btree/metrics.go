package btree

import "github.com/prometheus/client_golang/prometheus"

var (
	txnCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sqlmdb",
			Subsystem: "btree",
			Name:      "txn_total",
			Help:      "Counter of transactions and savepoints by outcome.",
		}, []string{"type", "result"})

	writeTxnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sqlmdb",
			Subsystem: "btree",
			Name:      "write_txn_duration_seconds",
			Help:      "Bucketed histogram of how long (s) write transactions stay open.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 13),
		}, []string{"result"})

	cursorOpCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sqlmdb",
			Subsystem: "btree",
			Name:      "cursor_op_total",
			Help:      "Counter of cursor operations.",
		}, []string{"op"})

	staleReaderCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sqlmdb",
			Subsystem: "btree",
			Name:      "stale_readers_total",
			Help:      "Counter of reader slots released after their process died.",
		})

	sharedDBGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sqlmdb",
			Subsystem: "btree",
			Name:      "shared_databases",
			Help:      "Number of shared databases currently open.",
		})
)

func init() {
	prometheus.MustRegister(txnCounter)
	prometheus.MustRegister(writeTxnDuration)
	prometheus.MustRegister(cursorOpCounter)
	prometheus.MustRegister(staleReaderCounter)
	prometheus.MustRegister(sharedDBGauge)
}

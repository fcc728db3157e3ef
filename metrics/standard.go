package metrics

import "github.com/prometheus/client_golang/prometheus"

// Pre-defined metrics. All of them live in DefaultRegistry so they are
// globally accessible without passing a registry around.

var (
	// ---- State metrics ----

	// StateCacheHits counts reads answered from the local caches, by kind.
	StateCacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace, Subsystem: "state", Name: "cache_hits_total",
		Help: "State reads served from the local caches.",
	}, []string{"kind"})
	// StateFetches counts remote reads, by kind.
	StateFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace, Subsystem: "state", Name: "remote_fetches_total",
		Help: "State reads that fell through to the remote source.",
	}, []string{"kind"})

	// ---- Transaction pool metrics ----

	// TxPoolPending tracks the number of pooled transactions.
	TxPoolPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace, Subsystem: "txpool", Name: "pending",
		Help: "Transactions currently pooled.",
	})
	// TxPoolHandled tracks the number of handled records.
	TxPoolHandled = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace, Subsystem: "txpool", Name: "handled",
		Help: "Handled transaction records, accepted or rejected.",
	})
	// TxPoolAdded counts add attempts by outcome.
	TxPoolAdded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace, Subsystem: "txpool", Name: "added_total",
		Help: "Transactions offered to the pool, by outcome.",
	}, []string{"outcome"})
	// TxPoolDropped counts removals by reason.
	TxPoolDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace, Subsystem: "txpool", Name: "dropped_total",
		Help: "Transactions removed from the pool, by reason.",
	}, []string{"reason"})

	// ---- Executor metrics ----

	// TxExecuted counts executed transactions by result.
	TxExecuted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace, Subsystem: "executor", Name: "txs_total",
		Help: "Executed transactions, by result.",
	}, []string{"result"})
	// TxGasUsed records gas spent per transaction.
	TxGasUsed = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace, Subsystem: "executor", Name: "gas_used",
		Help:    "Gas spent per executed transaction.",
		Buckets: prometheus.ExponentialBuckets(21000, 2, 10),
	})
	// TxExecTime records executor latency in seconds.
	TxExecTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace, Subsystem: "executor", Name: "duration_seconds",
		Help:    "Wall time of RunTx.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	DefaultRegistry.MustRegister(
		StateCacheHits, StateFetches,
		TxPoolPending, TxPoolHandled, TxPoolAdded, TxPoolDropped,
		TxExecuted, TxGasUsed, TxExecTime,
	)
}

// Package metrics declares the node's Prometheus collectors, scraped via
// the operator API's /metrics endpoint.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// ChainHeight reports the current block height.
	ChainHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ghostnode",
		Name:      "chain_height",
		Help:      "Current height of the local block ledger.",
	})

	// ActivePeers reports the number of peers seen within the active
	// window.
	ActivePeers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ghostnode",
		Name:      "active_peers",
		Help:      "Peers that have beaconed within the active window.",
	})

	// BlocksMined counts blocks successfully mined by this node.
	BlocksMined = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ghostnode",
		Name:      "blocks_mined_total",
		Help:      "Blocks mined by this node.",
	})

	// TransfersSettled counts coin transfers settled by this node.
	TransfersSettled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ghostnode",
		Name:      "transfers_settled_total",
		Help:      "Coin transfers settled by this node.",
	})

	// ContractCalls counts contract invocations, partitioned by outcome.
	ContractCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ghostnode",
		Name:      "contract_calls_total",
		Help:      "Contract calls handled by this node, by outcome.",
	}, []string{"outcome"})

	// SyncPassErrors counts per-peer failures observed during
	// reconciliation passes.
	SyncPassErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ghostnode",
		Name:      "sync_pass_errors_total",
		Help:      "Per-peer failures observed during reconciliation passes.",
	})
)

func init() {
	prometheus.MustRegister(ChainHeight, ActivePeers, BlocksMined, TransfersSettled, ContractCalls, SyncPassErrors)
}

package kv

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// watchReconnectsTotal counts every time a direct watch's channel closes
// without an explicit cancel and the strategy has to re-watch.
var watchReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "metastore_client",
	Subsystem: "kv",
	Name:      "watch_reconnects_total",
	Help:      "The total number of direct watch stream reconnections.",
})

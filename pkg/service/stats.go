package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "vcsgate_rpc_requests_total",
		Help: "A counter for handled RPCs.",
	},
	[]string{"method", "code"},
)

var requestHistograms = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name: "vcsgate_rpc_duration_seconds",
		Help: "RPC durations",
	},
	[]string{"method", "code"})

var poolWaiting = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "vcsgate_pool_waiting",
		Help: "Number of calls waiting for a pool slot",
	})

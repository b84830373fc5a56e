package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var workersGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "vcsgate_workers",
		Help: "Number of running worker processes",
	})

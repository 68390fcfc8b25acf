package scan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "checkin_scans_total",
	Help: "Scan submissions by ingress path and outcome.",
}, []string{"path", "outcome"})

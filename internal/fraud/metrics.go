package fraud

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var alertsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "checkin_fraud_alerts_created_total",
	Help: "Fraud alerts created by batch scans, by rule type and severity.",
}, []string{"type", "severity"})

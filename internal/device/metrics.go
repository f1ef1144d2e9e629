package device

import "github.com/prometheus/client_golang/prometheus"

var (
	residentBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "diffstudio",
			Subsystem: "device",
			Name:      "resident_bytes",
			Help:      "Bytes of component weights resident on the device",
		},
		[]string{"device"},
	)

	reclaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diffstudio",
			Subsystem: "device",
			Name:      "reclaims_total",
			Help:      "Total device memory reclaim calls",
		},
		[]string{"device"},
	)
)

func init() {
	prometheus.MustRegister(residentBytes, reclaimsTotal)
}

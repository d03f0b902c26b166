package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		prorationsTotal,
		expiriesTotal,
		trialsGrantedTotal,
	)
}

var (
	prorationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proration_candidates_total",
			Help: "Proration sweep outcomes (processed/prompt).",
		},
		[]string{"outcome"},
	)

	expiriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "listings_expired_total",
			Help: "Listings deactivated by the expiry sweep.",
		},
	)

	trialsGrantedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trials_granted_total",
			Help: "First-use trial grants.",
		},
	)
)

func IncProration(outcome string) {
	prorationsTotal.WithLabelValues(norm(outcome)).Inc()
}

func AddExpired(n int) {
	expiriesTotal.Add(float64(n))
}

func IncTrialGrant() {
	trialsGrantedTotal.Inc()
}

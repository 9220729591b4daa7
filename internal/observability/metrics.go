package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsCreated   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "darbak", Name: "requests_created_total", Help: "Total ride requests created"})
	RequestsDuplicate = promauto.NewCounter(prometheus.CounterOpts{Namespace: "darbak", Name: "requests_duplicate_total", Help: "Requests rejected because a live match already existed for the pair"})
	TransitionsTotal  = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "darbak", Name: "match_transitions_total", Help: "Match status transitions applied"},
		[]string{"to"},
	)
	StateConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "darbak", Name: "state_conflicts_total", Help: "Transitions rejected because the match was not in the required state"})
	RatingsTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "darbak", Name: "ratings_total", Help: "Rating submissions accepted (including overwrites)"})

	CaptainsAvailable = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "darbak", Name: "captains_available", Help: "Captains currently flagged available"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "darbak", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "darbak",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

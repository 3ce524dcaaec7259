package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Campaign metrics
var (
	CampaignEmailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_emails_total",
			Help: "Total number of campaign send attempts by outcome",
		},
		[]string{"status"}, // sent, failed, skipped
	)

	CampaignSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "campaign_send_duration_seconds",
			Help:    "Duration of a single render and send",
			Buckets: prometheus.DefBuckets,
		},
	)

	CampaignPausesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campaign_pauses_total",
			Help: "Total number of quiet hours pauses",
		},
	)

	CampaignActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "campaign_active",
			Help: "1 while a campaign send loop is running",
		},
	)
)

// Tracking metrics
var (
	TrackingEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_events_total",
			Help: "Total number of tracking events received",
		},
		[]string{"type"}, // open, click, unsubscribe
	)

	NotifySubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notify_subscribers",
			Help: "Number of connected progress event observers",
		},
	)
)

// API metrics
var (
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

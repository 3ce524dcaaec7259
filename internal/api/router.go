package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sungwon/mailrunner/internal/recipients"
	"github.com/sungwon/mailrunner/internal/render"
	"github.com/sungwon/mailrunner/internal/sendlog"
	"github.com/sungwon/mailrunner/internal/transport"
)

// RouterConfig holds the collaborators the HTTP layer serves.
type RouterConfig struct {
	Campaigns  CampaignRunner
	Templates  TemplateStore
	Recipients recipients.Store
	Log        sendlog.Store
	Transport  transport.Transport
	Renderer   *render.Renderer
	Events     EventHub
	Ready      ReadinessCheck
	Logger     zerolog.Logger

	// LogLimit is the default window of GET /api/v1/logs.
	LogLimit    int
	CORSOrigins []string
}

// EventHub is a broadcaster that observers can subscribe to.
type EventHub interface {
	Broadcaster
	EventSource
}

// NewRouter creates a chi.Mux with all routes, middleware, and handlers configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CorrelationIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(MetricsMiddleware)
	r.Use(RecoverMiddleware(cfg.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Correlation-ID"},
		ExposedHeaders: []string{"X-Correlation-ID"},
		MaxAge:         300,
	}))

	// Health and metrics
	r.Get("/healthz", HealthzHandler())
	r.Get("/readyz", ReadyzHandler(cfg.Ready))
	r.Handle("/metrics", promhttp.Handler())

	// Public tracking endpoints, linked from sent mail
	r.Get(render.OpenPath, OpenHandler(cfg.Events))
	r.Get(render.ClickPath, ClickHandler(cfg.Events))
	r.Get(render.UnsubscribePath, UnsubscribeHandler(cfg.Recipients, cfg.Log, cfg.Events))
	r.Post(render.UnsubscribePath, UnsubscribeHandler(cfg.Recipients, cfg.Log, cfg.Events))

	r.Route("/api/v1", func(r chi.Router) {
		// Campaigns
		r.Post("/campaigns", StartCampaignHandler(cfg.Campaigns))
		r.Get("/campaigns/current", CurrentCampaignHandler(cfg.Campaigns))
		r.Post("/campaigns/resume", ResumeCampaignHandler(cfg.Campaigns))
		r.Post("/campaigns/cancel", CancelCampaignHandler(cfg.Campaigns))
		r.Post("/campaigns/complete", CompleteCampaignHandler(cfg.Campaigns))

		// Progress stream
		r.Get("/events", EventsHandler(cfg.Events))

		// Send log
		r.Get("/logs", ListLogsHandler(cfg.Log, cfg.LogLimit))
		r.Delete("/logs", ClearLogsHandler(cfg.Log))

		// Templates
		r.Get("/templates", ListTemplatesHandler(cfg.Templates))
		r.Post("/templates", CreateTemplateHandler(cfg.Templates))
		r.Get("/templates/{id}", GetTemplateHandler(cfg.Templates))
		r.Put("/templates/{id}", UpdateTemplateHandler(cfg.Templates))
		r.Delete("/templates/{id}", DeleteTemplateHandler(cfg.Templates))
		r.Get("/templates/{id}/preview", PreviewTemplateHandler(cfg.Templates, cfg.Renderer))

		// Recipient lists
		r.Get("/lists", ListListsHandler(cfg.Recipients))
		r.Get("/lists/{name}", GetListHandler(cfg.Recipients))
		r.Put("/lists/{name}", PutListHandler(cfg.Recipients))
		r.Delete("/lists/{name}", DeleteListHandler(cfg.Recipients))
		r.Get("/lists/{name}/pending", PendingListHandler(cfg.Recipients))

		// Transport
		r.Post("/smtp/verify", VerifySMTPHandler(cfg.Transport))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "not found")
	})

	return r
}

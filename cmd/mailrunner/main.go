package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sungwon/mailrunner/internal/api"
	"github.com/sungwon/mailrunner/internal/blobstore"
	"github.com/sungwon/mailrunner/internal/campaign"
	"github.com/sungwon/mailrunner/internal/config"
	"github.com/sungwon/mailrunner/internal/logger"
	"github.com/sungwon/mailrunner/internal/notify"
	"github.com/sungwon/mailrunner/internal/recipients"
	"github.com/sungwon/mailrunner/internal/render"
	"github.com/sungwon/mailrunner/internal/sendlog"
	"github.com/sungwon/mailrunner/internal/templates"
	"github.com/sungwon/mailrunner/internal/transport"
)

func main() {
	configDir := flag.String("config", "config", "directory containing config.yaml")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewFromConfig(cfg.Logging)
	log.Info().Msg("starting mailrunner")

	// Document storage for lists, templates and campaign state
	blobs, err := blobstore.New(blobstore.Config{
		Type:          cfg.Storage.Type,
		Path:          cfg.Storage.Path,
		S3Bucket:      cfg.Storage.S3Bucket,
		S3Prefix:      cfg.Storage.S3Prefix,
		S3Endpoint:    cfg.Storage.S3Endpoint,
		S3Region:      cfg.Storage.S3Region,
		RedisAddr:     cfg.Storage.RedisAddr,
		RedisPassword: cfg.Storage.RedisPassword,
		RedisDB:       cfg.Storage.RedisDB,
		RedisPrefix:   cfg.Storage.RedisPrefix,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Str("type", cfg.Storage.Type).Msg("failed to initialize storage")
	}
	log.Info().Str("type", cfg.Storage.Type).Msg("storage initialized")

	sendLog, closeSendLog := newSendLog(cfg, blobs, log)
	defer closeSendLog()

	mailer, err := transport.New(cfg.SMTP, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize mail transport")
	}
	log.Info().Str("transport", mailer.Name()).Msg("mail transport initialized")

	recipientStore := recipients.NewJSONStore(blobs)
	templateStore := templates.NewStore(blobs)
	renderer := render.NewRenderer(cfg.Tracking.BaseURL)
	hub := notify.NewHub()

	quietHours := campaign.QuietHours{
		Enabled:  cfg.Campaign.QuietHours.Enabled,
		Start:    cfg.Campaign.QuietHours.Start,
		End:      cfg.Campaign.QuietHours.End,
		Location: cfg.Campaign.QuietHours.Location(),
	}
	engine := campaign.New(campaign.Deps{
		Recipients: recipientStore,
		Templates:  templateStore,
		Transport:  mailer,
		Renderer:   renderer,
		Log:        sendLog,
		States:     campaign.NewStateStore(blobs),
		Notifier:   hub,
	}, campaign.Config{
		RateLimit:  cfg.Campaign.RateLimit,
		QuietHours: quietHours,
	}, log)

	var resumeTimer *time.Timer
	if cfg.Campaign.AutoResume {
		resumeTimer = autoResume(engine, log)
	}

	ready := func(ctx context.Context) error {
		_, err := blobs.List(ctx, "lists/")
		return err
	}
	router := api.NewRouter(api.RouterConfig{
		Campaigns:   engine,
		Templates:   templateStore,
		Recipients:  recipientStore,
		Log:         sendLog,
		Transport:   mailer,
		Renderer:    renderer,
		Events:      hub,
		Ready:       ready,
		Logger:      log,
		LogLimit:    cfg.Campaign.LogLimit,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	// Request contexts are cancelled on shutdown so event streams end.
	baseCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()

	// Configure HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancelRequests)

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if resumeTimer != nil {
		resumeTimer.Stop()
	}

	// Stop the send loop first so its state is persisted as resumable.
	if err := engine.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("campaign engine did not stop in time")
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("mailrunner stopped")
}

// newSendLog picks the send log backend. The returned func releases any
// connection it opened.
func newSendLog(cfg *config.Config, blobs blobstore.Store, log zerolog.Logger) (sendlog.Store, func()) {
	if cfg.SendLog.Type != "redis" {
		return sendlog.NewBlobStore(blobs), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.RedisAddr,
		Password: cfg.Storage.RedisPassword,
		DB:       cfg.Storage.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Storage.RedisAddr).Msg("failed to connect to redis for send log")
	}
	log.Info().Str("key", cfg.SendLog.RedisKey).Msg("send log on redis")

	return sendlog.NewRedisStore(client, cfg.SendLog.RedisKey), func() {
		if err := client.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close redis client")
		}
	}
}

// autoResume continues a campaign left running or paused by a previous
// process. Inside quiet hours it retries once the window has passed.
func autoResume(engine *campaign.Engine, log zerolog.Logger) *time.Timer {
	ctx := context.Background()

	st, err := engine.Current(ctx)
	if errors.Is(err, campaign.ErrNoState) {
		return nil
	}
	if err != nil {
		log.Error().Err(err).Msg("auto-resume: failed to load campaign state")
		return nil
	}
	if !st.Active() {
		return nil
	}

	_, err = engine.Resume(ctx)
	var quiet *campaign.QuietHoursError
	switch {
	case err == nil:
		log.Info().Str("campaign_id", st.CampaignID).Msg("auto-resume: campaign resumed")
	case errors.As(err, &quiet):
		log.Info().
			Str("campaign_id", st.CampaignID).
			Dur("remaining", quiet.Remaining).
			Msg("auto-resume: quiet hours, retrying when they end")
		return time.AfterFunc(quiet.Remaining, func() {
			if _, err := engine.Resume(context.Background()); err != nil {
				log.Error().Err(err).Str("campaign_id", st.CampaignID).Msg("auto-resume: retry failed")
			}
		})
	default:
		log.Error().Err(err).Str("campaign_id", st.CampaignID).Msg("auto-resume: failed")
	}
	return nil
}

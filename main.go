package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Vafelkin/outline-tg-bot/src/bot"
	"github.com/Vafelkin/outline-tg-bot/src/config"
	"github.com/Vafelkin/outline-tg-bot/src/conversation"
	"github.com/Vafelkin/outline-tg-bot/src/database"
	"github.com/Vafelkin/outline-tg-bot/src/handlers"
	"github.com/Vafelkin/outline-tg-bot/src/logging"
	"github.com/Vafelkin/outline-tg-bot/src/messages"
	"github.com/Vafelkin/outline-tg-bot/src/middleware"
	"github.com/Vafelkin/outline-tg-bot/src/outline"
	"github.com/Vafelkin/outline-tg-bot/src/repositories"
	"github.com/Vafelkin/outline-tg-bot/src/repositories/memory"
	"github.com/Vafelkin/outline-tg-bot/src/repositories/postgres"
	"github.com/Vafelkin/outline-tg-bot/src/services"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// stores bundles the repositories of one storage backend
type stores struct {
	keys      repositories.KeyRepository
	actors    repositories.ActorRepository
	activity  repositories.ActivityRepository
	operators repositories.OperatorRepository
	db        *database.Database // nil for the in-memory store
}

func main() {
	// Load configuration
	cfg := config.Load()

	logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	log.Info().
		Int("port", cfg.Port).
		Int("admins", len(cfg.AdminIDs)).
		Str("language", cfg.Language).
		Msg("starting bot")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Encryption of access URLs at rest (optional, empty key disables)
	sealer, err := services.NewURLSealer(cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize encryption")
	}

	st, err := openStores(ctx, cfg, sealer)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	if st.db != nil {
		defer st.db.Close()
	}

	remote := outline.NewClient(outline.Config{
		BaseURL:     cfg.OutlineAPIURL,
		Timeout:     cfg.OutlineTimeout,
		InsecureTLS: cfg.OutlineInsecureTLS,
	})

	// Services
	activity := services.NewActivityService(st.activity, cfg.EnableAccessLog)
	actors := services.NewActorService(st.actors, activity, cfg.AdminIDs, services.TierLimits{
		Standard: cfg.MaxKeysPerUser,
		Elevated: cfg.MaxKeysPerAdmin,
	})
	reconciler := services.NewReconciler(st.keys, remote)
	keyService := services.NewKeyService(st.keys, remote, actors, reconciler, activity)
	keyService.SetLocation(time.Local)

	analyticsService, err := services.NewAnalyticsService(services.AnalyticsConfig{
		PostHogAPIKey: cfg.PostHogAPIKey,
		PostHogHost:   cfg.PostHogHost,
		Enabled:       cfg.PostHogEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize analytics service")
	}
	defer analyticsService.Close()
	if analyticsService.Enabled() {
		keyService.SetTracker(analyticsService)
		log.Info().Str("host", cfg.PostHogHost).Msg("PostHog analytics enabled")
	}

	operatorService := services.NewOperatorService(st.operators)
	if cfg.AdminUsername != "" && cfg.AdminPassword != "" {
		if err := operatorService.EnsureOperator(ctx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
			log.Error().Err(err).Msg("failed to seed operator account")
		}
	}

	// Chat surface
	catalog, err := messages.Load(cfg.Language)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load messages")
	}
	flows := conversation.New(cfg.FlowTTL, conversation.ParsePolicy(cfg.FlowConflict))
	limiter := middleware.NewKeyedLimiter(cfg.ActorRatePerMinute, cfg.ActorBurst)
	defer limiter.Stop()

	transport, err := bot.NewTelegramTransport(bot.TelegramConfig{
		Token: cfg.TelegramToken,
		Debug: cfg.LogLevel == "trace",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telegram")
	}

	notifiers := services.MultiNotifier{bot.NewAdminNotifier(transport, catalog, cfg.Language, cfg.AdminIDs, keyService)}
	if cfg.EmailAlertsEnabled() {
		notifiers = append(notifiers, services.NewEmailService(cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.MailgunFromEmail, cfg.AlertEmail))
		log.Info().Str("domain", cfg.MailgunDomain).Msg("Mailgun expiry alerts enabled")
	}
	keyService.SetNotifier(notifiers, cfg.NotifyAdminsOnCreate)

	router := bot.NewRouter(transport, actors, keyService, flows, catalog, limiter, cfg.Language)

	// Initial reconciliation, then periodic jobs
	syncCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if report, err := reconciler.Reconcile(syncCtx); err != nil {
		log.Warn().Err(err).Msg("initial reconciliation failed")
	} else {
		log.Info().Int("remote", report.Remote).Int("discovered", len(report.Discovered)).Msg("initial reconciliation done")
	}
	cancel()

	scheduler := services.NewSchedulerService(services.SchedulerConfig{
		SyncInterval:   cfg.SyncInterval,
		ExpiryInterval: cfg.ExpiryCheckInterval,
		ExpiryWarnDays: cfg.ExpiryWarnDays,
		SweepInterval:  time.Minute,
	}, reconciler, st.keys, actors, notifiers, flows)
	scheduler.SetLocation(time.Local)
	scheduler.Start(ctx)

	// Operator HTTP API
	var srv *http.Server
	if cfg.Port > 0 {
		srv, err = newHTTPServer(cfg, st, remote, keyService, actors, activity, operatorService, reconciler)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize operator API")
		}
		go func() {
			log.Info().Int("port", cfg.Port).Msg("operator API listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Msg("server error")
			}
		}()
	}

	// Blocks until a shutdown signal arrives
	if err := transport.Run(ctx, router); err != nil {
		log.Error().Err(err).Msg("telegram polling stopped")
	}
	log.Info().Msg("received shutdown signal")

	scheduler.Stop()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}

	log.Info().Msg("bot shut down successfully")
}

// openStores selects PostgreSQL when DATABASE_URL is set and the in-memory store otherwise
func openStores(ctx context.Context, cfg *config.Config, sealer *services.URLSealer) (*stores, error) {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set, using in-memory storage; data will not survive restarts")
		return &stores{
			keys:      memory.NewKeyStore(),
			actors:    memory.NewActorStore(),
			activity:  memory.NewActivityLog(),
			operators: memory.NewOperatorStore(),
		}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	db, err := database.New(connectCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	log.Info().Bool("encrypted_urls", sealer != nil).Msg("database connected")

	pool := db.GetPool()
	return &stores{
		keys:      postgres.NewKeyRepository(pool, sealer),
		actors:    postgres.NewActorRepository(pool),
		activity:  postgres.NewActivityRepository(pool),
		operators: postgres.NewOperatorRepository(pool),
		db:        db,
	}, nil
}

func newHTTPServer(cfg *config.Config, st *stores, remote *outline.Client, keys *services.KeyService, actors *services.ActorService, activity *services.ActivityService, operators *services.OperatorService, reconciler *services.Reconciler) (*http.Server, error) {
	tokens, err := middleware.NewTokenManager(cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware())
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			return origin == "http://localhost" || origin == "http://localhost:"+fmt.Sprint(cfg.Port)
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	var pinger handlers.Pinger
	if st.db != nil {
		pinger = st.db
	}
	health := handlers.NewHealthHandler(pinger, remote)
	router.GET("/health", health.HandleHealth)
	router.GET("/ready", health.HandleReady)
	router.GET("/info", health.HandleInfo)

	handlers.NewAdminHandler(handlers.AdminDeps{
		Keys:         keys,
		Actors:       actors,
		Activity:     activity,
		Operators:    operators,
		Reconciler:   reconciler,
		Server:       remote,
		Tokens:       tokens,
		SecureCookie: gin.Mode() == gin.ReleaseMode,
	}).RegisterRoutes(router)

	// Protect from Slowloris
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}, nil
}
